// File: pipeline/sentinels.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Head and tail sentinels. The head turns outbound payloads into transport
// writes and starts reading once the channel is active; the tail absorbs
// inbound events nobody consumed.

package pipeline

import (
	"fmt"

	"github.com/momentics/hioload-pipeline/api"
)

// Reader is implemented by channels that start watching their socket for
// input when the pipeline reports them active.
type Reader interface {
	BeginRead()
}

type headHandler struct{ HandlerAdapter }

func (headHandler) Name() string { return "head" }

func (headHandler) OnActive(ctx api.HandlerContext) {
	ctx.FireActive()
	if r, ok := ctx.Channel().(Reader); ok {
		r.BeginRead()
	}
}

func (headHandler) OnWrite(ctx api.HandlerContext, msg any) {
	p := ctx.(*handlerContext).pipeline
	data, ok := payloadBytes(msg)
	if !ok {
		p.metrics.UnhandledEvents.WithLabelValues("write").Inc()
		p.log.WithField("type", fmt.Sprintf("%T", msg)).Warn("dropping outbound message the transport cannot write")
		return
	}
	ch := p.channel
	if ch == nil {
		p.log.WithField("bytes", len(data)).Debug("no channel attached, outbound bytes dropped")
		return
	}
	ch.Write(data, func(_ api.Channel, err error) {
		if err != nil {
			p.FireError(err)
		}
	})
}

// payloadBytes extracts the bytes of a transport-level payload. A Buffer is
// consumed: its reader index moves to its writer index.
func payloadBytes(msg any) ([]byte, bool) {
	switch v := msg.(type) {
	case []byte:
		return v, true
	case string:
		return []byte(v), true
	case api.Buffer:
		data := v.Bytes()
		v.SetReaderIndex(v.WriterIndex())
		return data, true
	}
	return nil, false
}

type tailHandler struct{ HandlerAdapter }

func (tailHandler) Name() string { return "tail" }

func (tailHandler) OnRegistered(api.HandlerContext)   {}
func (tailHandler) OnUnregistered(api.HandlerContext) {}
func (tailHandler) OnActive(api.HandlerContext)       {}
func (tailHandler) OnInactive(api.HandlerContext)     {}

func (tailHandler) OnRead(ctx api.HandlerContext, msg any) {
	p := ctx.(*handlerContext).pipeline
	p.metrics.UnhandledEvents.WithLabelValues("read").Inc()
	p.log.WithField("type", fmt.Sprintf("%T", msg)).
		Warn("inbound message reached the end of the pipeline; check the handler chain")
}

func (tailHandler) OnError(ctx api.HandlerContext, err error) {
	p := ctx.(*handlerContext).pipeline
	p.metrics.UnhandledEvents.WithLabelValues("error").Inc()
	p.log.WithError(err).Warn("error reached the end of the pipeline; add a handler that consumes errors")
}
