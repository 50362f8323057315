// File: pipeline/pipeline.go
// Package pipeline implements the ordered handler chain attached to a channel.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Nodes live in an arena owned by the pipeline and link to each other by
// index. Slot 0 is the head sentinel, slot 1 the tail sentinel; user
// handlers sit between them. Slots freed by Remove are reused by later
// insertions. The pipeline is not synchronized.

package pipeline

import (
	"reflect"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/control"
	"github.com/momentics/hioload-pipeline/internal/logging"
	"github.com/sirupsen/logrus"
)

const (
	headIndex = 0
	tailIndex = 1
)

// Option customizes a pipeline.
type Option func(*DefaultPipeline)

// WithMetrics reports unhandled events to m instead of control.Default().
func WithMetrics(m *control.Metrics) Option {
	return func(p *DefaultPipeline) { p.metrics = m }
}

// DefaultPipeline implements api.Pipeline.
type DefaultPipeline struct {
	channel api.Channel
	nodes   []*handlerContext
	free    []int
	metrics *control.Metrics
	log     *logrus.Entry
}

var _ api.Pipeline = (*DefaultPipeline)(nil)

// New creates an empty pipeline for ch. ch may be nil for standalone use;
// outbound writes reaching the head are then dropped.
func New(ch api.Channel, opts ...Option) *DefaultPipeline {
	p := &DefaultPipeline{
		channel: ch,
		metrics: control.Default(),
		log:     logging.For("pipeline"),
	}
	if ch != nil {
		p.log = p.log.WithField("channel", ch.ID())
	}
	for _, opt := range opts {
		opt(p)
	}
	head := &handlerContext{pipeline: p, handler: headHandler{}, index: headIndex, prev: none, next: tailIndex}
	tail := &handlerContext{pipeline: p, handler: tailHandler{}, index: tailIndex, prev: headIndex, next: none}
	p.nodes = []*handlerContext{head, tail}
	return p
}

// Channel returns the owning channel.
func (p *DefaultPipeline) Channel() api.Channel { return p.channel }

func (p *DefaultPipeline) alloc(h api.Handler) *handlerContext {
	ctx := &handlerContext{pipeline: p, handler: h}
	if n := len(p.free); n > 0 {
		ctx.index = p.free[n-1]
		p.free = p.free[:n-1]
		p.nodes[ctx.index] = ctx
	} else {
		ctx.index = len(p.nodes)
		p.nodes = append(p.nodes, ctx)
	}
	return ctx
}

// insertAfter links a new node for h right after prev and notifies h.
func (p *DefaultPipeline) insertAfter(prev *handlerContext, h api.Handler) {
	ctx := p.alloc(h)
	next := p.nodes[prev.next]
	ctx.prev, ctx.next = prev.index, next.index
	prev.next = ctx.index
	next.prev = ctx.index
	h.HandlerAdded(ctx)
}

// AddFirst inserts h right after the head.
func (p *DefaultPipeline) AddFirst(h api.Handler) api.Pipeline {
	p.insertAfter(p.nodes[headIndex], h)
	return p
}

// AddLast inserts h right before the tail.
func (p *DefaultPipeline) AddLast(h api.Handler) api.Pipeline {
	p.insertAfter(p.nodes[p.nodes[tailIndex].prev], h)
	return p
}

// AddAfter inserts h after the first node holding after. When after is not
// in the pipeline a warning is logged and nothing changes.
func (p *DefaultPipeline) AddAfter(h api.Handler, after api.Handler) api.Pipeline {
	ctx := p.find(func(c *handlerContext) bool { return sameHandler(c.handler, after) })
	if ctx == nil {
		p.log.WithField("handler", h.Name()).Warn("AddAfter: reference handler not in pipeline")
		return p
	}
	p.insertAfter(ctx, h)
	return p
}

// AddAfterName inserts h after the first handler named after (exact match).
func (p *DefaultPipeline) AddAfterName(h api.Handler, after string) api.Pipeline {
	ctx := p.find(func(c *handlerContext) bool { return c.handler.Name() == after })
	if ctx == nil {
		p.log.WithFields(logrus.Fields{"handler": h.Name(), "after": after}).
			Warn("AddAfterName: no handler with that name")
		return p
	}
	p.insertAfter(ctx, h)
	return p
}

// Remove detaches the first node holding h.
func (p *DefaultPipeline) Remove(h api.Handler) bool {
	ctx := p.find(func(c *handlerContext) bool { return sameHandler(c.handler, h) })
	if ctx == nil {
		return false
	}
	p.unlink(ctx)
	return true
}

// RemoveName detaches the first handler called name and returns it.
func (p *DefaultPipeline) RemoveName(name string) (api.Handler, bool) {
	ctx := p.find(func(c *handlerContext) bool { return c.handler.Name() == name })
	if ctx == nil {
		return nil, false
	}
	p.unlink(ctx)
	return ctx.handler, true
}

func (p *DefaultPipeline) unlink(ctx *handlerContext) {
	p.nodes[ctx.prev].next = ctx.next
	p.nodes[ctx.next].prev = ctx.prev
	ctx.detachedPrev, ctx.detachedNext = p.nodes[ctx.prev], p.nodes[ctx.next]
	ctx.removed = true
	p.nodes[ctx.index] = nil
	p.free = append(p.free, ctx.index)
	ctx.handler.HandlerRemoved(ctx)
}

// Teardown removes every user handler from tail to head.
func (p *DefaultPipeline) Teardown() {
	for idx := p.nodes[tailIndex].prev; idx != headIndex; idx = p.nodes[tailIndex].prev {
		p.unlink(p.nodes[idx])
	}
}

// Get returns the first handler called name.
func (p *DefaultPipeline) Get(name string) (api.Handler, bool) {
	ctx := p.find(func(c *handlerContext) bool { return c.handler.Name() == name })
	if ctx == nil {
		return nil, false
	}
	return ctx.handler, true
}

// Context returns the context binding h.
func (p *DefaultPipeline) Context(h api.Handler) (api.HandlerContext, bool) {
	ctx := p.find(func(c *handlerContext) bool { return sameHandler(c.handler, h) })
	if ctx == nil {
		return nil, false
	}
	return ctx, true
}

// Names lists user handler names from head to tail.
func (p *DefaultPipeline) Names() []string {
	var names []string
	for idx := p.nodes[headIndex].next; idx != tailIndex; idx = p.nodes[idx].next {
		names = append(names, p.nodes[idx].handler.Name())
	}
	return names
}

// find scans user handlers from the head.
func (p *DefaultPipeline) find(match func(*handlerContext) bool) *handlerContext {
	for idx := p.nodes[headIndex].next; idx != tailIndex; idx = p.nodes[idx].next {
		if ctx := p.nodes[idx]; match(ctx) {
			return ctx
		}
	}
	return nil
}

// sameHandler compares handler identity without panicking on handler types
// that are not comparable.
func sameHandler(a, b api.Handler) bool {
	if a == nil || b == nil {
		return false
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}

// Inbound events enter at the head.

func (p *DefaultPipeline) FireRegistered() {
	head := p.nodes[headIndex]
	head.handler.OnRegistered(head)
}

func (p *DefaultPipeline) FireUnregistered() {
	head := p.nodes[headIndex]
	head.handler.OnUnregistered(head)
}

func (p *DefaultPipeline) FireActive() {
	head := p.nodes[headIndex]
	head.handler.OnActive(head)
}

func (p *DefaultPipeline) FireInactive() {
	head := p.nodes[headIndex]
	head.handler.OnInactive(head)
}

func (p *DefaultPipeline) FireRead(msg any) {
	head := p.nodes[headIndex]
	head.handler.OnRead(head, msg)
}

func (p *DefaultPipeline) FireError(err error) {
	head := p.nodes[headIndex]
	head.handler.OnError(head, err)
}

// FireWrite enters at the tail and travels toward the head.
func (p *DefaultPipeline) FireWrite(msg any) {
	tail := p.nodes[tailIndex]
	tail.handler.OnWrite(tail, msg)
}
