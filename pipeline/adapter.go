// File: pipeline/adapter.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pipeline

import "github.com/momentics/hioload-pipeline/api"

// HandlerAdapter forwards every event unchanged. Embed it and override only
// the callbacks a handler cares about.
type HandlerAdapter struct {
	name string
}

// NewHandlerAdapter returns an adapter reporting name from Name.
func NewHandlerAdapter(name string) HandlerAdapter {
	return HandlerAdapter{name: name}
}

func (a HandlerAdapter) Name() string { return a.name }

func (HandlerAdapter) HandlerAdded(api.HandlerContext)   {}
func (HandlerAdapter) HandlerRemoved(api.HandlerContext) {}

func (HandlerAdapter) OnRegistered(ctx api.HandlerContext)   { ctx.FireRegistered() }
func (HandlerAdapter) OnUnregistered(ctx api.HandlerContext) { ctx.FireUnregistered() }
func (HandlerAdapter) OnActive(ctx api.HandlerContext)       { ctx.FireActive() }
func (HandlerAdapter) OnInactive(ctx api.HandlerContext)     { ctx.FireInactive() }

func (HandlerAdapter) OnRead(ctx api.HandlerContext, msg any)    { ctx.FireRead(msg) }
func (HandlerAdapter) OnWrite(ctx api.HandlerContext, msg any)   { ctx.FireWrite(msg) }
func (HandlerAdapter) OnError(ctx api.HandlerContext, err error) { ctx.FireError(err) }

var _ api.Handler = HandlerAdapter{}
