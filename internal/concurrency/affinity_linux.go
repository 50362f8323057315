//go:build linux
// +build linux

// File: internal/concurrency/affinity_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux CPU pinning via sched_setaffinity.

package concurrency

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// pinCurrentThread locks the calling goroutine to its OS thread and binds
// that thread to cpu. The lock is never released; callers are long-lived
// loop goroutines.
func pinCurrentThread(cpu int) error {
	runtime.LockOSThread()
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu % runtime.NumCPU())
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("sched_setaffinity cpu=%d: %w", cpu, err)
	}
	return nil
}
