// File: bootstrap/client.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package bootstrap

import (
	"context"
	"errors"
	"sync"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/channel"
	"github.com/momentics/hioload-pipeline/control"
	"github.com/momentics/hioload-pipeline/internal/logging"
	"github.com/sirupsen/logrus"
)

var errInitializerFailed = errors.New("channel initializer panicked")

// ClientBootstrap opens outbound connections on a group of event loops.
type ClientBootstrap struct {
	loopSettings

	cfgMu       sync.Mutex
	factory     func() (api.Channel, error)
	initializer func(api.Channel)
	log         *logrus.Entry

	channels sync.Map // channel ID -> api.Channel
}

// NewClient returns a client bootstrap producing channel.SocketChannel
// connections.
func NewClient() *ClientBootstrap {
	return &ClientBootstrap{
		factory: channel.NewSocketChannel,
		log:     logging.For("bootstrap").WithField("side", "client"),
	}
}

// Loops uses the given loops. The first of Loops and NumLoops wins.
func (b *ClientBootstrap) Loops(loops []api.EventLoop) *ClientBootstrap {
	b.setLoops(loops)
	return b
}

// NumLoops makes the bootstrap start and own n loops.
func (b *ClientBootstrap) NumLoops(n int) *ClientBootstrap {
	b.setNumLoops(n)
	return b
}

func (b *ClientBootstrap) Selection(strategy Strategy) *ClientBootstrap {
	b.setStrategy(strategy, nil)
	return b
}

func (b *ClientBootstrap) Weights(weights []uint) *ClientBootstrap {
	b.setStrategy(Weighted, weights)
	return b
}

func (b *ClientBootstrap) Metrics(m *control.Metrics) *ClientBootstrap {
	b.setMetrics(m)
	return b
}

// ChannelFactory replaces the default channel constructor.
func (b *ClientBootstrap) ChannelFactory(f func() (api.Channel, error)) *ClientBootstrap {
	b.cfgMu.Lock()
	b.factory = f
	b.cfgMu.Unlock()
	return b
}

// Initializer runs on the channel's loop before the connection is opened.
func (b *ClientBootstrap) Initializer(init func(api.Channel)) *ClientBootstrap {
	b.cfgMu.Lock()
	b.initializer = init
	b.cfgMu.Unlock()
	return b
}

// Connect creates a channel on the next loop, initializes it and connects
// it to addr. onComplete gets the connected channel or *api.ConnectFailure.
func (b *ClientBootstrap) Connect(addr api.Address, onComplete api.Completion) {
	if onComplete == nil {
		onComplete = api.IgnoreCompletion
	}
	b.cfgMu.Lock()
	factory, initializer := b.factory, b.initializer
	b.cfgMu.Unlock()

	if factory == nil {
		onComplete(nil, &api.ConnectFailure{Cause: api.ErrInvalidArgument})
		return
	}
	ch, err := newChannel(factory)
	if err != nil {
		onComplete(nil, &api.ConnectFailure{Cause: err})
		return
	}
	if ch == nil {
		onComplete(nil, &api.ConnectFailure{Cause: api.ErrInvalidArgument})
		return
	}
	group, err := b.ensureGroup()
	if err != nil {
		ch.Close(nil)
		onComplete(nil, &api.ConnectFailure{Cause: err})
		return
	}

	loop := group.Next()
	ch.Register(loop)
	b.channels.Store(ch.ID(), ch)
	err = loop.Execute(func() {
		ch.Pipeline().AddFirst(newTracker(&b.channels, ch.ID()))
		if !runInitializer(b.log, initializer, ch) {
			b.channels.Delete(ch.ID())
			ch.Close(nil)
			onComplete(nil, &api.ConnectFailure{Cause: errInitializerFailed})
			return
		}
		ch.Connect(addr, func(connected api.Channel, err error) {
			if err != nil {
				b.log.WithError(err).WithField("addr", addrString(addr)).Debug("connect failed")
				ch.Close(nil)
			}
			onComplete(connected, err)
		})
	})
	if err != nil {
		b.channels.Delete(ch.ID())
		ch.Close(nil)
		onComplete(nil, &api.ConnectFailure{Cause: err})
	}
}

// Channels returns the channels opened by Connect that are still
// registered.
func (b *ClientBootstrap) Channels() []api.Channel {
	var out []api.Channel
	b.channels.Range(func(_, v any) bool {
		out = append(out, v.(api.Channel))
		return true
	})
	return out
}

// Shutdown closes the channels this bootstrap opened and stops the loops
// it started.
func (b *ClientBootstrap) Shutdown(ctx context.Context) error {
	b.channels.Range(func(k, v any) bool {
		v.(api.Channel).Close(nil)
		b.channels.Delete(k)
		return true
	})
	return b.shutdownGroup(ctx)
}
