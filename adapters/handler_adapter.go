// File: adapters/handler_adapter.go
// Package adapters
// Author: momentics <momentics@gmail.com>
//
// HandlerFunc glue and general-purpose pipeline handlers: logging, panic
// recovery and event metrics.

package adapters

import (
	"fmt"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/control"
	"github.com/momentics/hioload-pipeline/internal/logging"
	"github.com/momentics/hioload-pipeline/pipeline"
	"github.com/sirupsen/logrus"
)

// HandlerFunc consumes inbound reads.
type HandlerFunc func(ctx api.HandlerContext, msg any)

type funcHandler struct {
	pipeline.HandlerAdapter
	fn HandlerFunc
}

// Func converts fn into a handler named name. Other events pass through.
func Func(name string, fn HandlerFunc) api.Handler {
	return &funcHandler{HandlerAdapter: pipeline.NewHandlerAdapter(name), fn: fn}
}

func (h *funcHandler) OnRead(ctx api.HandlerContext, msg any) { h.fn(ctx, msg) }

// LoggingHandler logs every event passing through it and forwards it.
type LoggingHandler struct {
	pipeline.HandlerAdapter
	log   *logrus.Entry
	level logrus.Level
}

// NewLoggingHandler logs at debug level through log, or through the
// "handler" component logger when log is nil.
func NewLoggingHandler(name string, log *logrus.Entry) *LoggingHandler {
	if log == nil {
		log = logging.For("handler")
	}
	return &LoggingHandler{
		HandlerAdapter: pipeline.NewHandlerAdapter(name),
		log:            log.WithField("handler", name),
		level:          logrus.DebugLevel,
	}
}

// WithLevel changes the level events are logged at.
func (h *LoggingHandler) WithLevel(level logrus.Level) *LoggingHandler {
	h.level = level
	return h
}

func (h *LoggingHandler) entry(ctx api.HandlerContext, event string) *logrus.Entry {
	e := h.log.WithField("event", event)
	if ch := ctx.Channel(); ch != nil {
		e = e.WithField("channel", ch.ID())
	}
	return e
}

func (h *LoggingHandler) OnRegistered(ctx api.HandlerContext) {
	h.entry(ctx, "registered").Log(h.level, "[Handler] channel registered")
	ctx.FireRegistered()
}

func (h *LoggingHandler) OnUnregistered(ctx api.HandlerContext) {
	h.entry(ctx, "unregistered").Log(h.level, "[Handler] channel unregistered")
	ctx.FireUnregistered()
}

func (h *LoggingHandler) OnActive(ctx api.HandlerContext) {
	h.entry(ctx, "active").Log(h.level, "[Handler] channel active")
	ctx.FireActive()
}

func (h *LoggingHandler) OnInactive(ctx api.HandlerContext) {
	h.entry(ctx, "inactive").Log(h.level, "[Handler] channel inactive")
	ctx.FireInactive()
}

func (h *LoggingHandler) OnRead(ctx api.HandlerContext, msg any) {
	h.entry(ctx, "read").WithField("type", fmt.Sprintf("%T", msg)).Log(h.level, "[Handler] processing inbound data")
	ctx.FireRead(msg)
}

func (h *LoggingHandler) OnWrite(ctx api.HandlerContext, msg any) {
	h.entry(ctx, "write").WithField("type", fmt.Sprintf("%T", msg)).Log(h.level, "[Handler] processing outbound data")
	ctx.FireWrite(msg)
}

func (h *LoggingHandler) OnError(ctx api.HandlerContext, err error) {
	h.entry(ctx, "error").WithError(err).Log(h.level, "[Handler] error")
	ctx.FireError(err)
}

// PanicError reports a panic recovered from a downstream handler.
type PanicError struct {
	Event string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panic during %s: %v", e.Event, e.Value)
}

// RecoveryHandler recovers panics raised by the handlers its events reach
// and fires them inbound as *PanicError. Fatal usage errors still panic.
type RecoveryHandler struct {
	pipeline.HandlerAdapter
	log *logrus.Entry
}

func NewRecoveryHandler(name string) *RecoveryHandler {
	return &RecoveryHandler{
		HandlerAdapter: pipeline.NewHandlerAdapter(name),
		log:            logging.For("handler").WithField("handler", name),
	}
}

func (h *RecoveryHandler) guard(ctx api.HandlerContext, event string, forward func()) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if fe, ok := r.(*api.FatalError); ok {
			panic(fe)
		}
		h.log.WithFields(logrus.Fields{"event": event, "panic": r}).Error("[Handler] Panic recovered")
		if event != "error" {
			ctx.FireError(&PanicError{Event: event, Value: r})
		}
	}()
	forward()
}

func (h *RecoveryHandler) OnActive(ctx api.HandlerContext) {
	h.guard(ctx, "active", ctx.FireActive)
}

func (h *RecoveryHandler) OnInactive(ctx api.HandlerContext) {
	h.guard(ctx, "inactive", ctx.FireInactive)
}

func (h *RecoveryHandler) OnRead(ctx api.HandlerContext, msg any) {
	h.guard(ctx, "read", func() { ctx.FireRead(msg) })
}

func (h *RecoveryHandler) OnWrite(ctx api.HandlerContext, msg any) {
	h.guard(ctx, "write", func() { ctx.FireWrite(msg) })
}

func (h *RecoveryHandler) OnError(ctx api.HandlerContext, err error) {
	h.guard(ctx, "error", func() { ctx.FireError(err) })
}

// MetricsHandler counts the events passing through it in
// hioload_pipeline_handler_events_total{handler, event}.
type MetricsHandler struct {
	pipeline.HandlerAdapter
	metrics *control.Metrics
}

// NewMetricsHandler reports to m, or to control.Default() when m is nil.
func NewMetricsHandler(name string, m *control.Metrics) *MetricsHandler {
	if m == nil {
		m = control.Default()
	}
	return &MetricsHandler{HandlerAdapter: pipeline.NewHandlerAdapter(name), metrics: m}
}

func (h *MetricsHandler) inc(event string) {
	h.metrics.HandlerEvents.WithLabelValues(h.Name(), event).Inc()
}

func (h *MetricsHandler) OnActive(ctx api.HandlerContext) {
	h.inc("active")
	ctx.FireActive()
}

func (h *MetricsHandler) OnInactive(ctx api.HandlerContext) {
	h.inc("inactive")
	ctx.FireInactive()
}

func (h *MetricsHandler) OnRead(ctx api.HandlerContext, msg any) {
	h.inc("read")
	ctx.FireRead(msg)
}

func (h *MetricsHandler) OnWrite(ctx api.HandlerContext, msg any) {
	h.inc("write")
	ctx.FireWrite(msg)
}

func (h *MetricsHandler) OnError(ctx api.HandlerContext, err error) {
	h.inc("error")
	ctx.FireError(err)
}
