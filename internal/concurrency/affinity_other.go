//go:build !linux
// +build !linux

// File: internal/concurrency/affinity_other.go
// Author: momentics <momentics@gmail.com>

package concurrency

import "runtime"

func pinCurrentThread(cpu int) error {
	runtime.LockOSThread()
	return ErrAffinityNotSupported
}
