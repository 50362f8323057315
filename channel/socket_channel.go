// File: channel/socket_channel.go
// Package channel implements TCP channels driven by event loops.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A SocketChannel is bound to one event loop for its whole life. Public
// methods may be called from any goroutine; they hand the work to the loop.
// Everything suffixed with 0 runs on the loop and touches loop-owned state
// without locking.

package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"github.com/google/uuid"
	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/control"
	"github.com/momentics/hioload-pipeline/core/buffer"
	"github.com/momentics/hioload-pipeline/internal/logging"
	"github.com/momentics/hioload-pipeline/internal/transport"
	"github.com/momentics/hioload-pipeline/pipeline"
	"github.com/momentics/hioload-pipeline/pool"
	"github.com/sirupsen/logrus"
)

// ErrNotConnected is the cause of writes on a channel without a connection.
var ErrNotConnected = errors.New("channel not connected")

// socket is the descriptor surface a channel drives; *transport.Socket in
// production.
type socket interface {
	Fd() int
	Accept() (*transport.Socket, netip.AddrPort, error)
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	ConnectError() error
	LocalAddr() (netip.AddrPort, error)
	Close() error
}

type pendingWrite struct {
	data []byte
	done api.Completion
}

// SocketChannel implements api.Channel over a non-blocking TCP socket.
type SocketChannel struct {
	id      string
	cfg     Config
	metrics *control.Metrics
	log     *logrus.Entry

	mu       sync.RWMutex
	loop     api.EventLoop
	pipeline *pipeline.DefaultPipeline
	local    api.Address
	remote   api.Address

	closing   atomic.Bool // Close was requested
	listening atomic.Bool
	connected atomic.Bool

	// Loop-owned.
	sock      socket
	closed    bool
	reading   bool
	watching  bool
	interest  api.Interest
	pending   *queue.Queue // of *pendingWrite
	connectCb api.Completion
}

var (
	_ api.Channel     = (*SocketChannel)(nil)
	_ pipeline.Reader = (*SocketChannel)(nil)
)

// New creates an unregistered channel with cfg.
func New(cfg Config) *SocketChannel {
	cfg = cfg.normalized()
	id := uuid.NewString()
	return &SocketChannel{
		id:      id,
		cfg:     cfg,
		metrics: cfg.Metrics,
		log:     logging.For("channel").WithField("channel", id),
		pending: queue.New(),
	}
}

// NewSocketChannel creates an unregistered channel with DefaultConfig. Its
// signature matches the bootstrap channel factories.
func NewSocketChannel() (api.Channel, error) {
	return New(DefaultConfig()), nil
}

// Factory returns a channel factory producing channels with cfg.
func Factory(cfg Config) func() (api.Channel, error) {
	return func() (api.Channel, error) { return New(cfg), nil }
}

// newAccepted wraps a socket taken off a listen queue.
func newAccepted(sock *transport.Socket, remote netip.AddrPort, cfg Config) *SocketChannel {
	c := New(cfg)
	c.sock = sock
	c.remote = FromAddrPort(remote)
	if local, err := sock.LocalAddr(); err == nil {
		c.local = FromAddrPort(local)
	}
	c.markActive(&c.connected)
	return c
}

func (c *SocketChannel) ID() string { return c.id }

func (c *SocketChannel) String() string { return "channel(" + c.id + ")" }

func (c *SocketChannel) LocalAddress() api.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.local
}

func (c *SocketChannel) RemoteAddress() api.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.remote
}

func (c *SocketChannel) EventLoop() api.EventLoop {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loop
}

func (c *SocketChannel) Pipeline() api.Pipeline {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.pipeline == nil {
		return nil
	}
	return c.pipeline
}

// IsOpen reports false as soon as Close has been requested.
func (c *SocketChannel) IsOpen() bool { return !c.closing.Load() }

// IsActive reports whether the channel is listening or connected.
func (c *SocketChannel) IsActive() bool {
	return c.IsOpen() && (c.listening.Load() || c.connected.Load())
}

func addrString(a api.Address) string {
	if a == nil {
		return ""
	}
	return a.String()
}

func (c *SocketChannel) markActive(flag *atomic.Bool) {
	if flag.CompareAndSwap(false, true) {
		c.metrics.ChannelsActive.Inc()
	}
}

// Register binds the channel to loop and creates its pipeline. Registering
// twice is a programming error and panics with *api.FatalError.
func (c *SocketChannel) Register(loop api.EventLoop) {
	if loop == nil {
		api.Fatalf("channel %s: register with nil event loop", c.id)
	}
	c.mu.Lock()
	if c.loop != nil {
		prev := c.loop.Label()
		c.mu.Unlock()
		api.Fatalf("channel %s already registered on %s", c.id, prev)
	}
	c.loop = loop
	c.pipeline = pipeline.New(c, pipeline.WithMetrics(c.metrics))
	c.log = c.log.WithField("loop", loop.Label())
	c.mu.Unlock()

	c.metrics.ChannelsRegistered.Inc()
	if err := loop.Execute(c.register0); err != nil {
		c.log.WithError(err).Warn("registration task rejected")
	}
}

func (c *SocketChannel) register0() {
	c.log.Debug("channel registered")
	c.pipeline.FireRegistered()
}

// endpoint validates addr against the channel state.
func (c *SocketChannel) endpoint(addr api.Address) (*SocketAddress, string, error) {
	sa, ok := addr.(*SocketAddress)
	if !ok {
		return nil, "invalid address type", fmt.Errorf("%T: %w", addr, api.ErrInvalidArgument)
	}
	if _, ok := sa.Port(); !ok {
		return nil, "port not specified", fmt.Errorf("%s: %w", sa, api.ErrInvalidArgument)
	}
	if c.EventLoop() == nil {
		return nil, "channel not registered", api.ErrNotRegistered
	}
	if c.closing.Load() {
		return nil, "channel closed", api.ErrChannelClosed
	}
	if c.connected.Load() {
		return nil, "channel already connected", api.ErrInvalidArgument
	}
	if c.listening.Load() {
		return nil, "channel already bound", api.ErrInvalidArgument
	}
	return sa, "", nil
}

// resolve runs next on the loop with the endpoint of sa. Host names are
// looked up on a goroutine of their own so the loop never waits for DNS.
// Lookup failures reach fail on the loop, or on the lookup goroutine once
// the loop is gone. A non-nil return means the loop rejected the task.
func (c *SocketChannel) resolve(sa *SocketAddress, next func(netip.AddrPort), fail func(reason string, err error)) error {
	loop := c.EventLoop()
	if ap, ok := sa.literal(); ok {
		return loop.Execute(func() { next(ap) })
	}
	go func() {
		ap, err := sa.Resolve(context.Background())
		task := func() { next(ap) }
		if err != nil {
			c.log.WithError(err).WithField("host", sa.Host()).Warn("address lookup failed")
			task = func() { fail("cannot resolve address", err) }
		}
		if xerr := loop.Execute(task); xerr != nil {
			fail("event loop unavailable", xerr)
		}
	}()
	return nil
}

// Bind starts listening on addr. Validation failures complete synchronously
// with *api.BindFailure; everything else completes on the loop.
func (c *SocketChannel) Bind(addr api.Address, onComplete api.Completion) {
	if onComplete == nil {
		onComplete = api.IgnoreCompletion
	}
	sa, reason, err := c.endpoint(addr)
	if err != nil {
		onComplete(nil, api.NewBindFailure(reason, err))
		return
	}
	err = c.resolve(sa,
		func(ap netip.AddrPort) { c.bind0(ap, onComplete) },
		func(reason string, err error) { onComplete(nil, api.NewBindFailure(reason, err)) })
	if err != nil {
		onComplete(nil, api.NewBindFailure("event loop unavailable", err))
	}
}

func (c *SocketChannel) bind0(ap netip.AddrPort, onComplete api.Completion) {
	if c.closed || c.closing.Load() {
		onComplete(nil, api.NewBindFailure("channel closed", api.ErrChannelClosed))
		return
	}
	sock, err := transport.Listen(ap, c.cfg.Listen)
	if err != nil {
		c.log.WithError(err).WithField("addr", ap.String()).Warn("bind failed")
		onComplete(nil, api.NewBindFailure("listen failed", err))
		return
	}
	c.sock = sock
	if local, err := sock.LocalAddr(); err == nil {
		c.mu.Lock()
		c.local = FromAddrPort(local)
		c.mu.Unlock()
	}
	c.markActive(&c.listening)
	c.log.WithField("addr", addrString(c.LocalAddress())).Info("channel listening")
	c.pipeline.FireActive()
	onComplete(c, nil)
}

// Connect opens a connection to addr. The completion receives the channel
// once connected, or *api.ConnectFailure.
func (c *SocketChannel) Connect(addr api.Address, onComplete api.Completion) {
	if onComplete == nil {
		onComplete = api.IgnoreCompletion
	}
	failed := func(reason string, err error) {
		onComplete(nil, &api.ConnectFailure{Cause: fmt.Errorf("%s: %w", reason, err)})
	}
	sa, reason, err := c.endpoint(addr)
	if err != nil {
		failed(reason, err)
		return
	}
	err = c.resolve(sa, func(ap netip.AddrPort) { c.connect0(ap, onComplete) }, failed)
	if err != nil {
		onComplete(nil, &api.ConnectFailure{Cause: err})
	}
}

func (c *SocketChannel) connect0(ap netip.AddrPort, onComplete api.Completion) {
	if c.closed || c.closing.Load() {
		onComplete(nil, &api.ConnectFailure{Cause: api.ErrChannelClosed})
		return
	}
	sock, inProgress, err := transport.Dial(ap)
	if err != nil {
		c.metrics.IOErrors.WithLabelValues("connect").Inc()
		onComplete(nil, &api.ConnectFailure{Cause: err})
		return
	}
	c.sock = sock
	c.mu.Lock()
	c.remote = FromAddrPort(ap)
	c.mu.Unlock()
	if !inProgress {
		c.connected0(onComplete)
		return
	}
	c.connectCb = onComplete
	c.setInterest(api.Writable)
}

func (c *SocketChannel) finishConnect0() {
	onComplete := c.connectCb
	c.connectCb = nil
	if err := c.sock.ConnectError(); err != nil {
		c.metrics.IOErrors.WithLabelValues("connect").Inc()
		c.close0()
		onComplete(nil, &api.ConnectFailure{Cause: err})
		return
	}
	c.setInterest(c.interest &^ api.Writable)
	c.connected0(onComplete)
}

func (c *SocketChannel) connected0(onComplete api.Completion) {
	if local, err := c.sock.LocalAddr(); err == nil {
		c.mu.Lock()
		c.local = FromAddrPort(local)
		c.mu.Unlock()
	}
	c.markActive(&c.connected)
	c.log.WithField("remote", addrString(c.RemoteAddress())).Debug("channel connected")
	c.pipeline.FireActive()
	onComplete(c, nil)
}

// BeginRead starts watching the socket for input. The pipeline head calls
// it on the loop once the channel becomes active.
func (c *SocketChannel) BeginRead() {
	if c.reading || c.closed || c.sock == nil {
		return
	}
	c.reading = true
	c.setInterest(c.interest | api.Readable)
}

// setInterest applies the interest set to the loop's watch on the socket.
func (c *SocketChannel) setInterest(interest api.Interest) {
	if c.closed || c.sock == nil {
		return
	}
	if c.watching && interest == c.interest {
		return
	}
	var err error
	if c.watching {
		err = c.loop.Rewatch(c.sock.Fd(), interest)
	} else if err = c.loop.Watch(c.sock.Fd(), interest, c.onReady); err == nil {
		c.watching = true
	}
	if err != nil {
		c.log.WithError(err).Error("cannot update readiness interest")
		c.pipeline.FireError(err)
		return
	}
	c.interest = interest
}

// onReady is the readiness callback registered with the loop.
func (c *SocketChannel) onReady(ready api.Interest) {
	if c.closed {
		return
	}
	if c.connectCb != nil {
		if ready&(api.Writable|api.Hangup) != 0 {
			c.finishConnect0()
		}
		return
	}
	if ready&api.Writable != 0 && c.pending.Length() > 0 {
		c.flush0()
		if c.closed {
			return
		}
	}
	if ready&(api.Readable|api.Hangup) != 0 && c.reading {
		if c.listening.Load() {
			c.accept0()
		} else {
			c.read0()
		}
	}
}

// accept0 takes one connection per notification; the level-triggered
// reactor reports the listener again while more are queued.
func (c *SocketChannel) accept0() {
	sock, remote, err := c.sock.Accept()
	switch {
	case errors.Is(err, transport.ErrWouldBlock):
		return
	case err != nil:
		c.metrics.IOErrors.WithLabelValues("accept").Inc()
		c.log.WithError(err).Error("accept failed")
		c.pipeline.FireError(err)
		return
	}
	child := newAccepted(sock, remote, c.cfg)
	c.log.WithFields(logrus.Fields{"child": child.ID(), "remote": remote.String()}).Debug("connection accepted")
	c.pipeline.FireRead(child)
}

// read0 drains the socket into one buffer and fires it inbound.
func (c *SocketChannel) read0() {
	scratch := pool.Default().Get(c.cfg.ReadBufferSize)
	defer pool.Default().Put(scratch)

	var buf *buffer.ByteBuffer
	var readErr error
	for i := 0; i < c.cfg.MaxReadsPerEvent; i++ {
		n, err := c.sock.Read(scratch)
		if n > 0 {
			if buf == nil {
				buf = buffer.NewWithCapacity(n)
			}
			_, _ = buf.Write(scratch[:n])
			c.metrics.BytesRead.Add(float64(n))
		}
		if err != nil {
			readErr = err
			break
		}
	}
	if buf != nil {
		c.pipeline.FireRead(buf)
		if c.closed || c.closing.Load() {
			return
		}
	}
	switch {
	case readErr == nil, errors.Is(readErr, transport.ErrWouldBlock):
	case errors.Is(readErr, io.EOF):
		c.log.Debug("peer closed connection")
		c.close0()
	case transport.IsConnReset(readErr):
		c.metrics.IOErrors.WithLabelValues("read").Inc()
		c.pipeline.FireError(readErr)
		c.close0()
	default:
		c.metrics.IOErrors.WithLabelValues("read").Inc()
		c.log.WithError(readErr).Error("read failed")
		c.pipeline.FireError(readErr)
	}
}

// Write hands data to the socket on the loop. data must not be modified
// until onComplete runs. The completion receives the channel once every
// byte has been accepted by the kernel, or *api.WriteFailure.
func (c *SocketChannel) Write(data []byte, onComplete api.Completion) {
	if onComplete == nil {
		onComplete = api.IgnoreCompletion
	}
	loop := c.EventLoop()
	if loop == nil {
		onComplete(nil, &api.WriteFailure{Cause: api.ErrNotRegistered})
		return
	}
	if err := loop.Execute(func() { c.write0(data, onComplete) }); err != nil {
		onComplete(nil, &api.WriteFailure{Cause: err})
	}
}

func (c *SocketChannel) write0(data []byte, onComplete api.Completion) {
	if c.closed || c.sock == nil || !c.connected.Load() {
		cause := api.ErrChannelClosed
		if !c.closed {
			cause = ErrNotConnected
		}
		c.metrics.IOErrors.WithLabelValues("write").Inc()
		onComplete(nil, &api.WriteFailure{Cause: cause})
		return
	}
	if c.pending.Length() > 0 {
		c.pending.Add(&pendingWrite{data: data, done: onComplete})
		return
	}
	n, err := c.sock.Write(data)
	c.metrics.BytesWritten.Add(float64(n))
	switch {
	case err == nil:
		onComplete(c, nil)
	case errors.Is(err, transport.ErrWouldBlock):
		c.pending.Add(&pendingWrite{data: data[n:], done: onComplete})
		c.setInterest(c.interest | api.Writable)
	default:
		c.failWrite0(err, onComplete)
	}
}

// flush0 writes queued data until the socket would block.
func (c *SocketChannel) flush0() {
	for c.pending.Length() > 0 {
		pw := c.pending.Peek().(*pendingWrite)
		n, err := c.sock.Write(pw.data)
		c.metrics.BytesWritten.Add(float64(n))
		pw.data = pw.data[n:]
		switch {
		case err == nil:
			c.pending.Remove()
			pw.done(c, nil)
			if c.closed {
				return
			}
		case errors.Is(err, transport.ErrWouldBlock):
			return
		default:
			c.pending.Remove()
			c.failWrite0(err, pw.done)
			return
		}
	}
	c.setInterest(c.interest &^ api.Writable)
}

func (c *SocketChannel) failWrite0(err error, onComplete api.Completion) {
	c.metrics.IOErrors.WithLabelValues("write").Inc()
	onComplete(nil, &api.WriteFailure{Cause: err})
	if transport.IsConnReset(err) {
		c.close0()
	}
}

// Disconnect closes a stream channel.
func (c *SocketChannel) Disconnect(onComplete api.Completion) {
	c.Close(onComplete)
}

// Close releases the channel. The first call marks it closed immediately
// and tears it down on the loop; writes already queued on the loop run
// first. Every call completes with the channel and a nil error.
func (c *SocketChannel) Close(onComplete api.Completion) {
	if onComplete == nil {
		onComplete = api.IgnoreCompletion
	}
	first := c.closing.CompareAndSwap(false, true)
	loop := c.EventLoop()
	if loop == nil {
		if first {
			c.release()
		}
		onComplete(c, nil)
		return
	}
	err := loop.Execute(func() {
		c.close0()
		onComplete(c, nil)
	})
	if err != nil {
		// The loop is gone, so nothing else touches loop-owned state.
		if first {
			c.release()
		}
		onComplete(c, nil)
	}
}

// release closes the socket of a channel whose loop cannot run close0.
func (c *SocketChannel) release() {
	if c.closed {
		return
	}
	c.closed = true
	if c.sock != nil {
		_ = c.sock.Close()
	}
	c.deactivate()
	c.metrics.ChannelsClosed.Inc()
}

func (c *SocketChannel) deactivate() bool {
	wasListening := c.listening.Swap(false)
	wasConnected := c.connected.Swap(false)
	if wasListening || wasConnected {
		c.metrics.ChannelsActive.Dec()
		return true
	}
	return false
}

func (c *SocketChannel) close0() {
	if c.closed {
		return
	}
	c.closed = true
	c.closing.Store(true)

	if c.watching {
		if err := c.loop.Unwatch(c.sock.Fd()); err != nil {
			c.log.WithError(err).Debug("unwatch on close")
		}
		c.watching = false
	}
	if c.sock != nil {
		if err := c.sock.Close(); err != nil {
			c.log.WithError(err).Debug("socket close")
		}
	}
	wasActive := c.deactivate()
	c.metrics.ChannelsClosed.Inc()

	for c.pending.Length() > 0 {
		pw := c.pending.Remove().(*pendingWrite)
		pw.done(nil, &api.WriteFailure{Cause: api.ErrChannelClosed})
	}
	if cb := c.connectCb; cb != nil {
		c.connectCb = nil
		cb(nil, &api.ConnectFailure{Cause: api.ErrChannelClosed})
	}

	if wasActive {
		c.pipeline.FireInactive()
	}
	c.pipeline.FireUnregistered()
	c.pipeline.Teardown()
	c.log.Debug("channel closed")
}
