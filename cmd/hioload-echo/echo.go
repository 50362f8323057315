// File: cmd/hioload-echo/echo.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"strings"

	"github.com/momentics/hioload-pipeline/adapters"
	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/codec"
	"github.com/momentics/hioload-pipeline/control"
	"github.com/momentics/hioload-pipeline/internal/logging"
	"github.com/momentics/hioload-pipeline/pipeline"
	"github.com/sirupsen/logrus"
)

// closeWord ends a session when received as a whole line.
const closeWord = "bye"

// echoHandler writes every inbound line back and closes the channel on
// closeWord.
type echoHandler struct {
	pipeline.HandlerAdapter
	log *logrus.Entry
}

func newEchoHandler() *echoHandler {
	return &echoHandler{
		HandlerAdapter: pipeline.NewHandlerAdapter("echo"),
		log:            logging.For("echo"),
	}
}

func (h *echoHandler) OnRead(ctx api.HandlerContext, msg any) {
	line, ok := msg.(string)
	if !ok {
		ctx.FireRead(msg)
		return
	}
	if strings.EqualFold(strings.TrimSpace(line), closeWord) {
		h.log.WithField("channel", ctx.Channel().ID()).Debug("closing on request")
		ctx.Channel().Close(nil)
		return
	}
	ctx.FireWrite(line + "\n")
}

func (h *echoHandler) OnError(ctx api.HandlerContext, err error) {
	h.log.WithError(err).WithField("channel", ctx.Channel().ID()).Warn("pipeline error")
}

// lineInitializer installs line framing and UTF-8 decoding followed by
// handlers.
func lineInitializer(maxLine int, m *control.Metrics, handlers ...func() api.Handler) func(api.Channel) {
	return func(ch api.Channel) {
		p := ch.Pipeline()
		p.AddLast(adapters.NewRecoveryHandler("recover")).
			AddLast(codec.NewLineFrameDecoder(maxLine, true)).
			AddLast(codec.NewStringCodec()).
			AddLast(adapters.NewMetricsHandler("lines", m))
		for _, h := range handlers {
			p.AddLast(h())
		}
	}
}
