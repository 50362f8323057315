// File: bootstrap/acceptor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package bootstrap

import (
	"sync"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/control"
	"github.com/momentics/hioload-pipeline/internal/logging"
	"github.com/momentics/hioload-pipeline/pipeline"
	"github.com/sirupsen/logrus"
)

const (
	acceptorName = "bootstrap-acceptor"
	trackerName  = "bootstrap-tracker"
)

// Acceptor sits last in a listening channel's pipeline. Every accepted
// channel read from upstream is registered on the next loop of the group,
// initialized there and activated.
type Acceptor struct {
	pipeline.HandlerAdapter
	loops       LoopChooser
	initializer func(api.Channel)
	metrics     *control.Metrics
	log         *logrus.Entry

	children sync.Map // channel ID -> api.Channel
}

// NewAcceptor returns an acceptor distributing children over loops. A nil
// initializer leaves child pipelines empty; nil metrics selects
// control.Default().
func NewAcceptor(loops LoopChooser, initializer func(api.Channel), metrics *control.Metrics) *Acceptor {
	if metrics == nil {
		metrics = control.Default()
	}
	return &Acceptor{
		HandlerAdapter: pipeline.NewHandlerAdapter(acceptorName),
		loops:          loops,
		initializer:    initializer,
		metrics:        metrics,
		log:            logging.For("acceptor"),
	}
}

// OnRead takes ownership of accepted channels; other payloads pass through.
func (a *Acceptor) OnRead(ctx api.HandlerContext, msg any) {
	child, ok := msg.(api.Channel)
	if !ok {
		ctx.FireRead(msg)
		return
	}
	loop := a.loops.Next()
	child.Register(loop)
	a.metrics.ConnectionsAccepted.Inc()
	a.children.Store(child.ID(), child)

	if err := loop.Execute(func() { a.activate(child) }); err != nil {
		a.log.WithError(err).WithField("channel", child.ID()).Warn("child loop rejected activation")
		a.children.Delete(child.ID())
		child.Close(nil)
	}
}

// activate runs on the child's loop.
func (a *Acceptor) activate(child api.Channel) {
	child.Pipeline().AddFirst(newTracker(&a.children, child.ID()))
	if !runInitializer(a.log, a.initializer, child) {
		child.Close(nil)
		return
	}
	child.Pipeline().FireActive()
}

// Children returns the accepted channels that are still open.
func (a *Acceptor) Children() []api.Channel {
	var out []api.Channel
	a.children.Range(func(_, v any) bool {
		out = append(out, v.(api.Channel))
		return true
	})
	return out
}

// CloseChildren closes every accepted channel that is still open.
func (a *Acceptor) CloseChildren() {
	for _, ch := range a.Children() {
		ch.Close(nil)
	}
}

// tracker removes a channel from a bootstrap's registry once the channel
// is unregistered.
type tracker struct {
	pipeline.HandlerAdapter
	registry *sync.Map
	id       string
}

func newTracker(registry *sync.Map, id string) *tracker {
	return &tracker{HandlerAdapter: pipeline.NewHandlerAdapter(trackerName), registry: registry, id: id}
}

func (t *tracker) OnUnregistered(ctx api.HandlerContext) {
	t.registry.Delete(t.id)
	ctx.FireUnregistered()
}
