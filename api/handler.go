// File: api/handler.go
// Package api defines the handler, context and pipeline contracts.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Handler is one protocol-processing stage of a pipeline.
//
// Propagation is opt-in: a handler that wants an event to reach the next
// stage calls the matching Fire* method on the context it was given. Not
// forwarding terminates the event.
type Handler interface {
	// Name identifies the handler for lookups; matching is exact.
	Name() string

	HandlerAdded(ctx HandlerContext)
	HandlerRemoved(ctx HandlerContext)

	OnRegistered(ctx HandlerContext)
	OnUnregistered(ctx HandlerContext)
	OnActive(ctx HandlerContext)
	OnInactive(ctx HandlerContext)
	OnRead(ctx HandlerContext, msg any)
	OnWrite(ctx HandlerContext, msg any)
	OnError(ctx HandlerContext, err error)
}

// Triggers fire events toward the next stage. Inbound triggers move toward
// the tail, FireWrite moves toward the head.
type Triggers interface {
	FireRegistered()
	FireUnregistered()
	FireActive()
	FireInactive()
	FireRead(msg any)
	FireWrite(msg any)
	FireError(err error)
}

// HandlerContext binds a handler to its position in a pipeline.
type HandlerContext interface {
	Triggers

	Channel() Channel
	Handler() Handler
	Pipeline() Pipeline
	// Removed reports whether the handler was detached from its pipeline.
	// Events fired through a detached context continue from the position
	// the handler occupied, so a handler may remove itself and forward.
	Removed() bool
}

// Pipeline is the ordered chain of handlers attached to one channel.
// It is not synchronized: mutate it only from the channel's event loop or
// before the channel is registered.
type Pipeline interface {
	Triggers

	AddFirst(h Handler) Pipeline
	AddLast(h Handler) Pipeline
	AddAfter(h Handler, after Handler) Pipeline
	AddAfterName(h Handler, after string) Pipeline

	Remove(h Handler) bool
	RemoveName(name string) (Handler, bool)

	Get(name string) (Handler, bool)
	Context(h Handler) (HandlerContext, bool)
	Names() []string

	Channel() Channel
}
