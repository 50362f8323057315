// File: pipeline/context.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pipeline

import "github.com/momentics/hioload-pipeline/api"

const none = -1

// handlerContext is one arena node. prev and next are arena indices.
type handlerContext struct {
	pipeline *DefaultPipeline
	handler  api.Handler
	index    int
	prev     int
	next     int
	removed  bool

	// Neighbours at the moment of removal.
	detachedPrev *handlerContext
	detachedNext *handlerContext
}

var _ api.HandlerContext = (*handlerContext)(nil)

func (c *handlerContext) Channel() api.Channel   { return c.pipeline.channel }
func (c *handlerContext) Handler() api.Handler   { return c.handler }
func (c *handlerContext) Pipeline() api.Pipeline { return c.pipeline }
func (c *handlerContext) Removed() bool          { return c.removed }

// following returns the node events move to, or nil past either end. A
// detached context forwards from where it used to sit, skipping neighbours
// that were removed as well.
func (c *handlerContext) following(inbound bool) *handlerContext {
	if c.removed {
		n := c.detachedNeighbour(inbound)
		for n != nil && n.removed {
			n = n.detachedNeighbour(inbound)
		}
		return n
	}
	idx := c.next
	if !inbound {
		idx = c.prev
	}
	if idx == none {
		return nil
	}
	return c.pipeline.nodes[idx]
}

func (c *handlerContext) detachedNeighbour(inbound bool) *handlerContext {
	if inbound {
		return c.detachedNext
	}
	return c.detachedPrev
}

func (c *handlerContext) FireRegistered() {
	if n := c.following(true); n != nil {
		n.handler.OnRegistered(n)
	}
}

func (c *handlerContext) FireUnregistered() {
	if n := c.following(true); n != nil {
		n.handler.OnUnregistered(n)
	}
}

func (c *handlerContext) FireActive() {
	if n := c.following(true); n != nil {
		n.handler.OnActive(n)
	}
}

func (c *handlerContext) FireInactive() {
	if n := c.following(true); n != nil {
		n.handler.OnInactive(n)
	}
}

func (c *handlerContext) FireRead(msg any) {
	if n := c.following(true); n != nil {
		n.handler.OnRead(n, msg)
	}
}

func (c *handlerContext) FireError(err error) {
	if n := c.following(true); n != nil {
		n.handler.OnError(n, err)
	}
}

func (c *handlerContext) FireWrite(msg any) {
	if n := c.following(false); n != nil {
		n.handler.OnWrite(n, msg)
	}
}
