//go:build linux

package bootstrap

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/momentics/hioload-pipeline/adapters"
	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/channel"
	"github.com/momentics/hioload-pipeline/codec"
	"github.com/momentics/hioload-pipeline/control"
	"github.com/momentics/hioload-pipeline/internal/concurrency"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const waitFor = 5 * time.Second

type bindResult struct {
	ch  api.Channel
	err error
}

func bindServer(t *testing.T, b *ServerBootstrap) api.Channel {
	t.Helper()
	res := make(chan bindResult, 1)
	b.Bind(channel.NewHostAddress("127.0.0.1", 0), func(ch api.Channel, err error) {
		res <- bindResult{ch, err}
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		assert.NoError(t, b.Shutdown(ctx))
	})
	select {
	case r := <-res:
		require.NoError(t, r.err)
		require.NotNil(t, r.ch)
		return r.ch
	case <-time.After(waitFor):
		t.Fatal("bind did not complete")
		return nil
	}
}

func dialServer(t *testing.T, ch api.Channel) net.Conn {
	t.Helper()
	port, ok := ch.LocalAddress().Port()
	require.True(t, ok)
	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(waitFor)))
	return conn
}

// echoServer installs line framing, the string codec and an echo handler
// on every child. "bye" closes the connection and counts down latch.
func echoServer(m *control.Metrics, latch *concurrency.CountdownLatch, byes *atomic.Int32) *ServerBootstrap {
	return NewServer().
		NumLoops(2).
		Metrics(m).
		ChannelFactory(channel.Factory(channel.Config{Metrics: m})).
		ChildInitializer(func(ch api.Channel) {
			ch.Pipeline().
				AddLast(codec.NewLineFrameDecoder(0, true)).
				AddLast(codec.NewStringCodec()).
				AddLast(adapters.Func("echo", func(ctx api.HandlerContext, msg any) {
					line, ok := msg.(string)
					if !ok {
						ctx.FireRead(msg)
						return
					}
					if strings.EqualFold(strings.TrimSpace(line), "bye") {
						ctx.Channel().Close(nil)
						byes.Add(1)
						latch.Countdown()
						return
					}
					ctx.FireWrite(line + "\n")
				}))
		})
}

func TestEchoUntilBye(t *testing.T) {
	m := control.NewMetrics(prometheus.NewRegistry())
	latch := concurrency.NewCountdownLatch(1)
	var byes atomic.Int32
	ln := bindServer(t, echoServer(m, latch, &byes))

	conn := dialServer(t, ln)
	r := bufio.NewReader(conn)

	for _, line := range []string{"hello", "wörld", "third line"} {
		_, err := conn.Write([]byte(line + "\r\n"))
		require.NoError(t, err)
		got, err := r.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, line+"\n", got)
	}

	_, err := conn.Write([]byte("BYE\n"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, latch.Await(ctx))

	_, err = r.ReadByte()
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, int32(1), byes.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionsAccepted))
}

func TestConcurrentClients(t *testing.T) {
	m := control.NewMetrics(prometheus.NewRegistry())
	const clients = 8
	latch := concurrency.NewCountdownLatch(clients)
	var byes atomic.Int32
	ln := bindServer(t, echoServer(m, latch, &byes))
	port, _ := ln.LocalAddress().Port()

	var g errgroup.Group
	for i := 0; i < clients; i++ {
		g.Go(func() error {
			conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
			if err != nil {
				return err
			}
			defer conn.Close()
			_ = conn.SetDeadline(time.Now().Add(waitFor))
			msg := "client " + strconv.Itoa(i) + "\n"
			if _, err := conn.Write([]byte(msg)); err != nil {
				return err
			}
			got, err := bufio.NewReader(conn).ReadString('\n')
			if err != nil {
				return err
			}
			if got != msg {
				return errors.New("unexpected echo " + strconv.Quote(got))
			}
			_, err = conn.Write([]byte("bye\n"))
			return err
		})
	}
	require.NoError(t, g.Wait())

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, latch.Await(ctx))
	assert.Equal(t, int32(clients), byes.Load())
	assert.Equal(t, float64(clients), testutil.ToFloat64(m.ConnectionsAccepted))
}

func TestBindWithoutFactoryFails(t *testing.T) {
	b := NewServer().NumLoops(1)
	called := false
	b.Bind(channel.NewSocketAddress(0), func(ch api.Channel, err error) {
		called = true
		assert.Nil(t, ch)
		var bf *api.BindFailure
		require.True(t, errors.As(err, &bf))
		assert.Equal(t, "missing channel factory", bf.Reason)
	})
	assert.True(t, called, "completion must run before Bind returns")
	assert.Nil(t, b.group, "no loops are started for a failed bind")
	require.NoError(t, b.Shutdown(context.Background()))
}

func TestBindFactoryFailures(t *testing.T) {
	boom := errors.New("no sockets today")
	for name, factory := range map[string]func() (api.Channel, error){
		"error": func() (api.Channel, error) { return nil, boom },
		"panic": func() (api.Channel, error) { panic("factory exploded") },
		"nil":   func() (api.Channel, error) { return nil, nil },
	} {
		t.Run(name, func(t *testing.T) {
			var got error
			NewServer().ChannelFactory(factory).Bind(channel.NewSocketAddress(0), func(ch api.Channel, err error) {
				assert.Nil(t, ch)
				got = err
			})
			var bf *api.BindFailure
			require.True(t, errors.As(got, &bf))
			switch name {
			case "error":
				assert.Equal(t, "failed to create channel: no sockets today", bf.Reason)
				assert.ErrorIs(t, got, boom)
			case "panic":
				assert.True(t, strings.HasPrefix(bf.Reason, "failed to create channel:"), bf.Reason)
				assert.Contains(t, bf.Reason, "factory exploded")
			case "nil":
				assert.Equal(t, "missing channel factory", bf.Reason)
			}
		})
	}
}

func TestBindFailureIsReportedAsynchronously(t *testing.T) {
	m := control.NewMetrics(prometheus.NewRegistry())
	first := bindServer(t, NewServer().NumLoops(1).Metrics(m).ChannelFactory(channel.Factory(channel.Config{Metrics: m})))
	port, _ := first.LocalAddress().Port()

	var created api.Channel
	factory := channel.Factory(channel.Config{Metrics: m})
	b := NewServer().NumLoops(1).Metrics(m).ChannelFactory(func() (api.Channel, error) {
		ch, err := factory()
		created = ch
		return ch, err
	})
	t.Cleanup(func() { _ = b.Shutdown(context.Background()) })
	res := make(chan error, 1)
	b.Bind(channel.NewHostAddress("127.0.0.1", port), func(ch api.Channel, err error) {
		assert.Nil(t, ch)
		res <- err
	})
	select {
	case err := <-res:
		var bf *api.BindFailure
		require.True(t, errors.As(err, &bf))
		assert.Equal(t, "listen failed", bf.Reason)
	case <-time.After(waitFor):
		t.Fatal("bind did not complete")
	}

	// The failed listener is released right away, not at Shutdown.
	assert.Empty(t, b.Listeners())
	require.NotNil(t, created)
	assert.False(t, created.IsOpen())
}

func TestRoundRobinAssignment(t *testing.T) {
	const k = 3
	var loops []api.EventLoop
	for i := 0; i < k; i++ {
		loop, err := NewEventLoop("rr-" + strconv.Itoa(i))
		require.NoError(t, err)
		loops = append(loops, loop)
		t.Cleanup(func() { _ = loop.Shutdown(context.Background()) })
	}

	m := control.NewMetrics(prometheus.NewRegistry())
	assigned := make(chan string, 16)
	b := NewServer().
		Loops(loops).
		NumLoops(7).
		Metrics(m).
		ChannelFactory(channel.Factory(channel.Config{Metrics: m})).
		ChildInitializer(func(ch api.Channel) { assigned <- ch.EventLoop().Label() })
	ln := bindServer(t, b)

	for i := 0; i < 2*k+1; i++ {
		dialServer(t, ln)
		select {
		case label := <-assigned:
			assert.Equal(t, loops[i%k].Label(), label, "connection %d", i)
		case <-time.After(waitFor):
			t.Fatalf("connection %d was not initialized", i)
		}
	}
	assert.Equal(t, k, b.group.Len(), "NumLoops after Loops is ignored")
}

func TestNumLoopsFirstWriterWins(t *testing.T) {
	b := NewServer().NumLoops(2).NumLoops(5).Loops([]api.EventLoop{nil})
	group, err := b.ensureGroup()
	require.NoError(t, err)
	assert.Equal(t, 2, group.Len())
	for i, loop := range group.Loops() {
		assert.Equal(t, "bootstrap-io-"+strconv.Itoa(i), loop.Label())
	}
	require.NoError(t, b.Shutdown(context.Background()))
}

func TestListenerHandlerSeesAcceptedChannels(t *testing.T) {
	m := control.NewMetrics(prometheus.NewRegistry())
	b := NewServer().
		NumLoops(1).
		Metrics(m).
		ChannelFactory(channel.Factory(channel.Config{Metrics: m})).
		Handler(adapters.NewMetricsHandler("listener-stats", m))
	ln := bindServer(t, b)
	dialServer(t, ln)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.ConnectionsAccepted) == 1
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HandlerEvents.WithLabelValues("listener-stats", "read")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HandlerEvents.WithLabelValues("listener-stats", "active")))
}

func TestShutdownClosesAcceptedChannels(t *testing.T) {
	m := control.NewMetrics(prometheus.NewRegistry())
	latch := concurrency.NewCountdownLatch(1)
	var byes atomic.Int32
	b := echoServer(m, latch, &byes)
	ln := bindServer(t, b)
	conn := dialServer(t, ln)

	_, err := conn.Write([]byte("ping\n"))
	require.NoError(t, err)
	r := bufio.NewReader(conn)
	_, err = r.ReadString('\n')
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, b.Shutdown(ctx))

	_, err = r.ReadByte()
	assert.ErrorIs(t, err, io.EOF)
	assert.False(t, ln.IsOpen())
}

func TestChildInitializerPanicClosesChild(t *testing.T) {
	m := control.NewMetrics(prometheus.NewRegistry())
	b := NewServer().
		NumLoops(1).
		Metrics(m).
		ChannelFactory(channel.Factory(channel.Config{Metrics: m})).
		ChildInitializer(func(api.Channel) { panic("bad initializer") })
	ln := bindServer(t, b)
	conn := dialServer(t, ln)

	_, err := conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestClientConnectAndExchange(t *testing.T) {
	m := control.NewMetrics(prometheus.NewRegistry())
	latch := concurrency.NewCountdownLatch(1)
	var byes atomic.Int32
	ln := bindServer(t, echoServer(m, latch, &byes))
	port, _ := ln.LocalAddress().Port()

	var mu sync.Mutex
	var lines []string
	replies := make(chan struct{}, 4)
	client := NewClient().
		NumLoops(1).
		Metrics(m).
		ChannelFactory(channel.Factory(channel.Config{Metrics: m})).
		Initializer(func(ch api.Channel) {
			ch.Pipeline().
				AddLast(codec.NewLineFrameDecoder(0, true)).
				AddLast(codec.NewStringCodec()).
				AddLast(adapters.Func("collect", func(_ api.HandlerContext, msg any) {
					mu.Lock()
					lines = append(lines, msg.(string))
					mu.Unlock()
					replies <- struct{}{}
				}))
		})
	t.Cleanup(func() { assert.NoError(t, client.Shutdown(context.Background())) })

	connected := make(chan bindResult, 1)
	client.Connect(channel.NewHostAddress("127.0.0.1", port), func(ch api.Channel, err error) {
		connected <- bindResult{ch, err}
	})
	var ch api.Channel
	select {
	case r := <-connected:
		require.NoError(t, r.err)
		ch = r.ch
	case <-time.After(waitFor):
		t.Fatal("connect did not complete")
	}
	require.True(t, ch.IsActive())

	require.NoError(t, ch.EventLoop().Execute(func() { ch.Pipeline().FireWrite("over\n") }))
	select {
	case <-replies:
	case <-time.After(waitFor):
		t.Fatal("no echo received")
	}
	mu.Lock()
	assert.Equal(t, []string{"over"}, lines)
	mu.Unlock()

	require.NoError(t, ch.EventLoop().Execute(func() { ch.Pipeline().FireWrite("bye\n") }))
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, latch.Await(ctx))
	require.Eventually(t, func() bool { return !ch.IsOpen() }, waitFor, 5*time.Millisecond)
}

func TestClientConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	m := control.NewMetrics(prometheus.NewRegistry())
	client := NewClient().NumLoops(1).Metrics(m).ChannelFactory(channel.Factory(channel.Config{Metrics: m}))
	t.Cleanup(func() { _ = client.Shutdown(context.Background()) })

	res := make(chan error, 1)
	client.Connect(channel.NewHostAddress("127.0.0.1", port), func(ch api.Channel, err error) {
		assert.Nil(t, ch)
		res <- err
	})
	select {
	case err := <-res:
		var cf *api.ConnectFailure
		assert.True(t, errors.As(err, &cf))
	case <-time.After(waitFor):
		t.Fatal("connect did not complete")
	}
}

func TestClientForgetsClosedChannels(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	port := ln.Addr().(*net.TCPAddr).Port

	m := control.NewMetrics(prometheus.NewRegistry())
	client := NewClient().NumLoops(2).Metrics(m).ChannelFactory(channel.Factory(channel.Config{Metrics: m}))
	t.Cleanup(func() { _ = client.Shutdown(context.Background()) })

	const conns = 20
	var g errgroup.Group
	for range conns {
		g.Go(func() error {
			res := make(chan error, 1)
			client.Connect(channel.NewHostAddress("127.0.0.1", port), func(_ api.Channel, err error) { res <- err })
			select {
			case err := <-res:
				return err
			case <-time.After(waitFor):
				return errors.New("connect did not complete")
			}
		})
	}
	require.NoError(t, g.Wait())

	assert.Eventually(t, func() bool { return len(client.Channels()) == 0 }, waitFor, 5*time.Millisecond,
		"channels closed by the peer must not stay tracked")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ChannelsActive))
}

func TestClientForgetsFailedConnects(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	m := control.NewMetrics(prometheus.NewRegistry())
	client := NewClient().NumLoops(1).Metrics(m).ChannelFactory(channel.Factory(channel.Config{Metrics: m}))
	t.Cleanup(func() { _ = client.Shutdown(context.Background()) })

	res := make(chan error, 1)
	client.Connect(channel.NewHostAddress("127.0.0.1", port), func(_ api.Channel, err error) { res <- err })
	select {
	case err := <-res:
		require.Error(t, err)
	case <-time.After(waitFor):
		t.Fatal("connect did not complete")
	}
	assert.Eventually(t, func() bool { return len(client.Channels()) == 0 }, waitFor, 5*time.Millisecond)
}

// stallLookups makes every name lookup wait until the returned release
// function is called, then fail.
func stallLookups(t *testing.T) (release func()) {
	t.Helper()
	gate := make(chan struct{})
	prev := net.DefaultResolver
	net.DefaultResolver = &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, _, _ string) (net.Conn, error) {
			select {
			case <-gate:
			case <-ctx.Done():
			}
			return nil, errors.New("resolver offline")
		},
	}
	var once sync.Once
	release = func() { once.Do(func() { close(gate) }) }
	t.Cleanup(func() {
		release()
		net.DefaultResolver = prev
	})
	return release
}

func TestClientConnectLeavesLoopFreeDuringLookup(t *testing.T) {
	release := stallLookups(t)
	loop, err := NewEventLoop("lookup-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = loop.Shutdown(context.Background()) })

	m := control.NewMetrics(prometheus.NewRegistry())
	client := NewClient().Loops([]api.EventLoop{loop}).Metrics(m).ChannelFactory(channel.Factory(channel.Config{Metrics: m}))
	t.Cleanup(func() { _ = client.Shutdown(context.Background()) })

	res := make(chan error, 1)
	client.Connect(channel.NewHostAddress("stalled.example", 80), func(_ api.Channel, err error) { res <- err })

	ran := make(chan struct{})
	require.NoError(t, loop.Execute(func() { close(ran) }))
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("loop task waited behind a name lookup")
	}

	release()
	select {
	case err := <-res:
		var cf *api.ConnectFailure
		require.ErrorAs(t, err, &cf)
		assert.ErrorContains(t, err, "cannot resolve address")
	case <-time.After(waitFor):
		t.Fatal("connect did not complete")
	}
}
