//go:build linux

package channel

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/control"
	"github.com/momentics/hioload-pipeline/internal/concurrency"
	"github.com/momentics/hioload-pipeline/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

const waitFor = 3 * time.Second

func newLoop(t *testing.T) *concurrency.EventLoop {
	t.Helper()
	loop, err := concurrency.NewEventLoop("channel-test")
	require.NoError(t, err)
	loop.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = loop.Shutdown(ctx)
	})
	return loop
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Metrics = control.NewMetrics(prometheus.NewRegistry())
	return cfg
}

type result struct {
	ch  api.Channel
	err error
}

// completion returns a Completion feeding a buffered channel.
func completion() (api.Completion, <-chan result) {
	out := make(chan result, 1)
	return func(ch api.Channel, err error) { out <- result{ch, err} }, out
}

func await(t *testing.T, c <-chan result) result {
	t.Helper()
	select {
	case r := <-c:
		return r
	case <-time.After(waitFor):
		t.Fatal("completion not called")
		return result{}
	}
}

// events records lifecycle callbacks and inbound payloads from the loop.
type events struct {
	pipeline.HandlerAdapter
	mu    sync.Mutex
	names []string
	reads chan any
	errs  chan error
}

func newEvents() *events {
	return &events{
		HandlerAdapter: pipeline.NewHandlerAdapter("events"),
		reads:          make(chan any, 16),
		errs:           make(chan error, 16),
	}
}

func (e *events) add(name string) {
	e.mu.Lock()
	e.names = append(e.names, name)
	e.mu.Unlock()
}

func (e *events) list() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.names...)
}

func (e *events) OnRegistered(ctx api.HandlerContext)     { e.add("registered"); ctx.FireRegistered() }
func (e *events) OnUnregistered(ctx api.HandlerContext)   { e.add("unregistered"); ctx.FireUnregistered() }
func (e *events) OnActive(ctx api.HandlerContext)         { e.add("active"); ctx.FireActive() }
func (e *events) OnInactive(ctx api.HandlerContext)       { e.add("inactive"); ctx.FireInactive() }
func (e *events) OnRead(_ api.HandlerContext, msg any)    { e.reads <- msg }
func (e *events) OnError(_ api.HandlerContext, err error) { e.errs <- err }
func (e *events) HandlerRemoved(api.HandlerContext)       { e.add("removed") }

// install adds h on the loop, after the queued registration task.
func install(t *testing.T, loop api.EventLoop, ch api.Channel, h api.Handler) {
	t.Helper()
	require.NoError(t, loop.Execute(func() { ch.Pipeline().AddLast(h) }))
}

// bound registers a channel with an events handler and binds it to an
// ephemeral loopback port.
func bound(t *testing.T, loop api.EventLoop) (*SocketChannel, *events, int) {
	t.Helper()
	ch := New(testConfig())
	ev := newEvents()
	ch.Register(loop)
	install(t, loop, ch, ev)

	done, res := completion()
	ch.Bind(NewHostAddress("127.0.0.1", 0), done)
	r := await(t, res)
	require.NoError(t, r.err)
	require.Same(t, ch, r.ch)

	port, ok := ch.LocalAddress().Port()
	require.True(t, ok)
	require.NotZero(t, port)
	t.Cleanup(func() { ch.Close(nil) })
	return ch, ev, port
}

func TestBindValidationFailsSynchronously(t *testing.T) {
	loop := newLoop(t)

	type otherAddress struct{ api.Address }
	cases := []struct {
		name   string
		setup  func() *SocketChannel
		addr   api.Address
		reason string
	}{
		{"invalid address type", func() *SocketChannel { c := New(testConfig()); c.Register(loop); return c },
			otherAddress{}, "invalid address type"},
		{"port absent", func() *SocketChannel { c := New(testConfig()); c.Register(loop); return c },
			NewSocketAddress(-1), "port not specified"},
		{"not registered", func() *SocketChannel { return New(testConfig()) },
			NewSocketAddress(0), "channel not registered"},
		{"closed", func() *SocketChannel { c := New(testConfig()); c.Register(loop); c.Close(nil); return c },
			NewSocketAddress(0), "channel closed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ch := tc.setup()
			called := false
			ch.Bind(tc.addr, func(got api.Channel, err error) {
				called = true
				assert.Nil(t, got)
				var bf *api.BindFailure
				require.True(t, errors.As(err, &bf), "got %v", err)
				assert.Equal(t, tc.reason, bf.Reason)
			})
			assert.True(t, called, "completion must run before Bind returns")
		})
	}
}

func TestBindAddressInUse(t *testing.T) {
	loop := newLoop(t)
	_, _, port := bound(t, loop)

	ch := New(testConfig())
	ch.Register(loop)
	done, res := completion()
	ch.Bind(NewHostAddress("127.0.0.1", port), done)
	r := await(t, res)
	assert.Nil(t, r.ch)
	var bf *api.BindFailure
	require.True(t, errors.As(r.err, &bf))
	assert.Equal(t, "listen failed", bf.Reason)
	assert.ErrorIs(t, r.err, unix.EADDRINUSE)
}

func TestDoubleRegisterIsFatal(t *testing.T) {
	loop := newLoop(t)
	ch := New(testConfig())
	ch.Register(loop)

	defer func() {
		r := recover()
		_, ok := r.(*api.FatalError)
		assert.True(t, ok, "expected *api.FatalError, got %v", r)
	}()
	ch.Register(loop)
}

func TestListenerFiresAcceptedChannelsAsReads(t *testing.T) {
	loop := newLoop(t)
	ch, ev, port := bound(t, loop)
	assert.True(t, ch.IsActive())

	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer conn.Close()

	select {
	case msg := <-ev.reads:
		child, ok := msg.(*SocketChannel)
		require.True(t, ok, "got %T", msg)
		assert.Nil(t, child.EventLoop(), "accepted channels start unregistered")
		assert.True(t, child.IsActive())
		rport, ok := child.RemoteAddress().Port()
		require.True(t, ok)
		assert.Equal(t, conn.LocalAddr().(*net.TCPAddr).Port, rport)
		child.Close(nil)
	case <-time.After(waitFor):
		t.Fatal("no accepted channel")
	}
}

// accept binds a listener and returns the first accepted child registered
// on loop with ev installed, plus the client side connection.
func accept(t *testing.T, loop api.EventLoop, ev *events) (*SocketChannel, net.Conn) {
	t.Helper()
	_, lev, port := bound(t, loop)
	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var child *SocketChannel
	select {
	case msg := <-lev.reads:
		child = msg.(*SocketChannel)
	case <-time.After(waitFor):
		t.Fatal("no accepted channel")
	}
	child.Register(loop)
	t.Cleanup(func() { child.Close(nil) })
	require.NoError(t, loop.Execute(func() {
		child.Pipeline().AddLast(ev)
		child.Pipeline().FireActive()
	}))
	return child, conn
}

func TestAcceptedChannelReadsAndWrites(t *testing.T) {
	loop := newLoop(t)
	ev := newEvents()
	child, conn := accept(t, loop, ev)

	_, err := conn.Write([]byte("ping"))
	require.NoError(t, err)
	select {
	case msg := <-ev.reads:
		buf, ok := msg.(api.Buffer)
		require.True(t, ok)
		assert.Equal(t, "ping", string(buf.Bytes()))
	case <-time.After(waitFor):
		t.Fatal("no inbound read")
	}

	done, res := completion()
	child.Write([]byte("pong"), done)
	require.NoError(t, await(t, res).err)

	reply := make([]byte, 4)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	_, err = io.ReadFull(conn, reply)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(reply))
}

func TestLargeWriteIsQueuedAndFlushed(t *testing.T) {
	loop := newLoop(t)
	child, conn := accept(t, loop, newEvents())

	payload := make([]byte, 8<<20)
	for i := range payload {
		payload[i] = byte(i)
	}
	done, res := completion()
	child.Write(payload, done)

	got := make([]byte, len(payload))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	_, err := io.ReadFull(conn, got)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	require.NoError(t, await(t, res).err)
}

func TestCloseThenWriteFails(t *testing.T) {
	loop := newLoop(t)
	child, _ := accept(t, loop, newEvents())

	closeDone, closeRes := completion()
	child.Close(closeDone)
	assert.False(t, child.IsOpen())

	done, res := completion()
	child.Write([]byte("late"), done)
	r := await(t, res)
	assert.Nil(t, r.ch)
	var wf *api.WriteFailure
	require.True(t, errors.As(r.err, &wf))
	assert.ErrorIs(t, r.err, api.ErrChannelClosed)

	cr := await(t, closeRes)
	assert.NoError(t, cr.err)
}

func TestWriteBeforeCloseIsDelivered(t *testing.T) {
	loop := newLoop(t)
	child, conn := accept(t, loop, newEvents())

	done, res := completion()
	child.Write([]byte("bye\n"), done)
	child.Close(nil)
	require.NoError(t, await(t, res).err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	all, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, "bye\n", string(all))
}

func TestCloseIsIdempotentAndFiresLifecycleOnce(t *testing.T) {
	loop := newLoop(t)
	ev := newEvents()
	child, _ := accept(t, loop, ev)

	first, firstRes := completion()
	second, secondRes := completion()
	child.Close(first)
	child.Close(second)

	r1, r2 := await(t, firstRes), await(t, secondRes)
	assert.NoError(t, r1.err)
	assert.NoError(t, r2.err)
	assert.Same(t, child, r2.ch)

	// ev is installed after registration, so it sees the rest of the lifecycle.
	assert.Equal(t, []string{"active", "inactive", "unregistered", "removed"}, ev.list())
}

func TestPeerCloseClosesChannel(t *testing.T) {
	loop := newLoop(t)
	ev := newEvents()
	child, conn := accept(t, loop, ev)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return !child.IsOpen() }, waitFor, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		names := ev.list()
		return len(names) > 0 && names[len(names)-1] == "removed"
	}, waitFor, 5*time.Millisecond)
}

func TestConnectAndExchange(t *testing.T) {
	loop := newLoop(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	ch := New(testConfig())
	ev := newEvents()
	ch.Register(loop)
	install(t, loop, ch, ev)

	done, res := completion()
	ch.Connect(FromAddrPort(ln.Addr().(*net.TCPAddr).AddrPort()), done)

	server, err := ln.Accept()
	require.NoError(t, err)
	defer server.Close()

	r := await(t, res)
	require.NoError(t, r.err)
	assert.True(t, ch.IsActive())

	_, err = server.Write([]byte("welcome"))
	require.NoError(t, err)
	select {
	case msg := <-ev.reads:
		assert.Equal(t, "welcome", string(msg.(api.Buffer).Bytes()))
	case <-time.After(waitFor):
		t.Fatal("no inbound read on client channel")
	}
	ch.Close(nil)
}

func TestConnectRefused(t *testing.T) {
	loop := newLoop(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr).AddrPort()
	require.NoError(t, ln.Close())

	ch := New(testConfig())
	ch.Register(loop)
	done, res := completion()
	ch.Connect(FromAddrPort(addr), done)

	r := await(t, res)
	assert.Nil(t, r.ch)
	var cf *api.ConnectFailure
	require.True(t, errors.As(r.err, &cf))
	assert.ErrorIs(t, r.err, unix.ECONNREFUSED)
}

func TestWriteAfterLoopShutdownFailsSynchronously(t *testing.T) {
	loop, err := concurrency.NewEventLoop("short-lived")
	require.NoError(t, err)
	loop.Start()
	ch := New(testConfig())
	ch.Register(loop)
	require.NoError(t, loop.Shutdown(context.Background()))

	called := false
	ch.Write([]byte("x"), func(got api.Channel, err error) {
		called = true
		assert.ErrorIs(t, err, concurrency.ErrEventLoopClosed)
	})
	assert.True(t, called)

	closed := false
	ch.Close(func(got api.Channel, err error) { closed = err == nil })
	assert.True(t, closed)
}
