// File: api/transport.go
// Author: momentics <momentics@gmail.com>
//
// Defines the channel abstraction: one listening or connected socket bound
// to a single event loop for its whole life.

package api

// Address is an opaque endpoint descriptor passed to Bind and Connect.
type Address interface {
	// Port returns the resolved port, or false when it cannot be resolved.
	Port() (int, bool)
	String() string
}

// Completion is invoked once an asynchronous channel operation finishes.
// On failure ch is nil and err is one of *BindFailure, *WriteFailure or
// *ConnectFailure.
type Completion func(ch Channel, err error)

// IgnoreCompletion discards the outcome of an operation.
func IgnoreCompletion(Channel, error) {}

// Channel represents one connection, listening or connected.
type Channel interface {
	ID() string
	LocalAddress() Address
	RemoteAddress() Address

	// EventLoop returns the loop assigned at Register, or nil.
	EventLoop() EventLoop
	// Pipeline returns the pipeline created at Register, or nil.
	Pipeline() Pipeline

	IsOpen() bool
	IsActive() bool

	// Register binds the channel to loop. Calling it twice panics with *FatalError.
	Register(loop EventLoop)
	Bind(addr Address, onComplete Completion)
	Connect(addr Address, onComplete Completion)
	Disconnect(onComplete Completion)
	Close(onComplete Completion)
	Write(data []byte, onComplete Completion)
}
