// File: api/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Defines the serialized execution context (event loop) contract and the
// readiness vocabulary shared by the reactor and the channels.

package api

// Interest is a set of readiness conditions on a file descriptor.
type Interest uint32

const (
	// Readable reports data (or a pending connection) is available.
	Readable Interest = 1 << iota
	// Writable reports the socket send buffer has room.
	Writable
	// Hangup reports the peer closed or the descriptor is in error.
	Hangup
)

// ReadyFunc is invoked on the owning loop when a watched descriptor is ready.
type ReadyFunc func(ready Interest)

// EventLoop is a serialized execution context. Tasks run strictly one at a
// time in submission order; readiness callbacks for descriptors watched on
// the loop run on the same goroutine.
type EventLoop interface {
	// Label identifies the loop in logs and metrics.
	Label() string

	// Execute queues task for execution on the loop.
	Execute(task func()) error

	// Watch starts readiness notification for fd. Must be called on the loop.
	Watch(fd int, interest Interest, fn ReadyFunc) error

	// Rewatch replaces the interest set of a watched fd. Must be called on the loop.
	Rewatch(fd int, interest Interest) error

	// Unwatch cancels notification for fd. Must be called on the loop.
	Unwatch(fd int) error
}
