// Package transport
// Author: momentics <momentics@gmail.com>
//
// Platform-independent socket options and error vocabulary.

package transport

import "errors"

// ErrWouldBlock reports that a non-blocking operation could not proceed.
var ErrWouldBlock = errors.New("operation would block")

// ListenConfig controls listening socket creation.
type ListenConfig struct {
	Backlog   int  // <= 0 selects the system maximum
	ReuseAddr bool // SO_REUSEADDR
	NoDelay   bool // TCP_NODELAY on accepted sockets
}

// DefaultListenConfig returns the options the channel layer uses.
func DefaultListenConfig() ListenConfig {
	return ListenConfig{ReuseAddr: true, NoDelay: true}
}
