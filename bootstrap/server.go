// File: bootstrap/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package bootstrap

import (
	"context"
	"slices"
	"sync"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/control"
	"github.com/momentics/hioload-pipeline/internal/concurrency"
	"github.com/momentics/hioload-pipeline/internal/logging"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// AcceptLoopLabel names the loop that runs listening channels.
const AcceptLoopLabel = "bootstrap-accept"

// ServerBootstrap binds listening channels and hands accepted connections
// to a group of event loops.
//
//	b := bootstrap.NewServer().
//		NumLoops(4).
//		ChannelFactory(channel.NewSocketChannel).
//		ChildInitializer(func(ch api.Channel) { ch.Pipeline().AddLast(echo) })
//	b.Bind(channel.NewSocketAddress(9000), onBound)
type ServerBootstrap struct {
	loopSettings

	cfgMu       sync.Mutex
	factory     func() (api.Channel, error)
	initializer func(api.Channel)
	handler     api.Handler
	log         *logrus.Entry

	startMu    sync.Mutex
	acceptLoop *concurrency.EventLoop
	acceptors  []*Acceptor
	listeners  []api.Channel
}

// NewServer returns a bootstrap with round-robin selection and one loop
// per CPU.
func NewServer() *ServerBootstrap {
	return &ServerBootstrap{log: logging.For("bootstrap")}
}

// Loops uses the given loops for accepted channels. The bootstrap does not
// shut them down. Loops and NumLoops are exclusive; the first call wins.
func (b *ServerBootstrap) Loops(loops []api.EventLoop) *ServerBootstrap {
	b.setLoops(loops)
	return b
}

// NumLoops makes the bootstrap start and own n loops.
func (b *ServerBootstrap) NumLoops(n int) *ServerBootstrap {
	b.setNumLoops(n)
	return b
}

// Selection sets the loop selection strategy.
func (b *ServerBootstrap) Selection(strategy Strategy) *ServerBootstrap {
	b.setStrategy(strategy, nil)
	return b
}

// Weights selects the weighted strategy with one weight per loop.
func (b *ServerBootstrap) Weights(weights []uint) *ServerBootstrap {
	b.setStrategy(Weighted, weights)
	return b
}

// Metrics reports loop and accept counters to m.
func (b *ServerBootstrap) Metrics(m *control.Metrics) *ServerBootstrap {
	b.setMetrics(m)
	return b
}

// ChannelFactory sets the constructor of listening channels.
func (b *ServerBootstrap) ChannelFactory(f func() (api.Channel, error)) *ServerBootstrap {
	b.cfgMu.Lock()
	b.factory = f
	b.cfgMu.Unlock()
	return b
}

// ChildInitializer runs on the child's loop before the child becomes active.
// It typically installs the protocol handlers.
func (b *ServerBootstrap) ChildInitializer(init func(api.Channel)) *ServerBootstrap {
	b.cfgMu.Lock()
	b.initializer = init
	b.cfgMu.Unlock()
	return b
}

// Handler adds h to every listening channel, in front of the acceptor.
func (b *ServerBootstrap) Handler(h api.Handler) *ServerBootstrap {
	b.cfgMu.Lock()
	b.handler = h
	b.cfgMu.Unlock()
	return b
}

// Bind creates a listening channel and binds it to addr. onComplete gets the
// listening channel or *api.BindFailure. Configuration problems fail before
// Bind returns.
func (b *ServerBootstrap) Bind(addr api.Address, onComplete api.Completion) {
	if onComplete == nil {
		onComplete = api.IgnoreCompletion
	}
	b.cfgMu.Lock()
	factory, initializer, handler := b.factory, b.initializer, b.handler
	b.cfgMu.Unlock()

	if factory == nil {
		onComplete(nil, api.NewBindFailure("missing channel factory", nil))
		return
	}
	ch, err := newChannel(factory)
	if err != nil {
		onComplete(nil, api.NewBindFailure("failed to create channel: "+err.Error(), err))
		return
	}
	if ch == nil {
		onComplete(nil, api.NewBindFailure("missing channel factory", nil))
		return
	}

	group, err := b.ensureGroup()
	if err != nil {
		ch.Close(nil)
		onComplete(nil, api.NewBindFailure("failed to start event loops", err))
		return
	}
	acceptLoop, err := b.ensureAcceptLoop()
	if err != nil {
		ch.Close(nil)
		onComplete(nil, api.NewBindFailure("failed to start accept loop", err))
		return
	}

	acceptor := NewAcceptor(group, initializer, b.metricsOrDefault())
	b.startMu.Lock()
	b.acceptors = append(b.acceptors, acceptor)
	b.listeners = append(b.listeners, ch)
	b.startMu.Unlock()

	ch.Register(acceptLoop)
	err = acceptLoop.Execute(func() {
		if handler != nil {
			ch.Pipeline().AddLast(handler)
		}
		ch.Pipeline().AddLast(acceptor)
		ch.Bind(addr, func(bound api.Channel, err error) {
			if err != nil {
				b.log.WithError(err).WithField("addr", addrString(addr)).Warn("bind failed")
				b.discard(ch, acceptor)
			} else {
				b.log.WithField("addr", addrString(bound.LocalAddress())).Info("server bound")
			}
			onComplete(bound, err)
		})
	})
	if err != nil {
		b.discard(ch, acceptor)
		onComplete(nil, api.NewBindFailure("event loop unavailable", err))
	}
}

// discard closes a listener whose bind failed and stops tracking it.
func (b *ServerBootstrap) discard(ch api.Channel, acceptor *Acceptor) {
	b.startMu.Lock()
	b.listeners = slices.DeleteFunc(b.listeners, func(c api.Channel) bool { return c == ch })
	b.acceptors = slices.DeleteFunc(b.acceptors, func(a *Acceptor) bool { return a == acceptor })
	b.startMu.Unlock()
	ch.Close(nil)
}

// Listeners returns the bound listening channels.
func (b *ServerBootstrap) Listeners() []api.Channel {
	b.startMu.Lock()
	defer b.startMu.Unlock()
	return append([]api.Channel(nil), b.listeners...)
}

func (b *ServerBootstrap) ensureAcceptLoop() (*concurrency.EventLoop, error) {
	b.startMu.Lock()
	defer b.startMu.Unlock()
	if b.acceptLoop != nil {
		return b.acceptLoop, nil
	}
	loop, err := concurrency.NewEventLoop(AcceptLoopLabel, concurrency.WithMetrics(b.metricsOrDefault()))
	if err != nil {
		return nil, err
	}
	loop.Start()
	b.acceptLoop = loop
	return loop, nil
}

// Children returns the accepted channels that are still open.
func (b *ServerBootstrap) Children() []api.Channel {
	b.startMu.Lock()
	acceptors := append([]*Acceptor(nil), b.acceptors...)
	b.startMu.Unlock()
	var out []api.Channel
	for _, a := range acceptors {
		out = append(out, a.Children()...)
	}
	return out
}

// Shutdown closes every listening and accepted channel, then stops the
// accept loop and the loops the bootstrap started.
func (b *ServerBootstrap) Shutdown(ctx context.Context) error {
	b.startMu.Lock()
	listeners, acceptors, acceptLoop := b.listeners, b.acceptors, b.acceptLoop
	b.listeners, b.acceptors = nil, nil
	b.startMu.Unlock()

	for _, ch := range listeners {
		ch.Close(nil)
	}
	for _, a := range acceptors {
		a.CloseChildren()
	}

	g, gctx := errgroup.WithContext(ctx)
	if acceptLoop != nil {
		g.Go(func() error { return acceptLoop.Shutdown(gctx) })
	}
	g.Go(func() error { return b.shutdownGroup(gctx) })
	if err := g.Wait(); err != nil {
		return err
	}
	b.log.Debug("server bootstrap shut down")
	return nil
}

func addrString(a api.Address) string {
	if a == nil {
		return ""
	}
	return a.String()
}
