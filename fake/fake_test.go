package fake

import (
	"errors"
	"testing"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	pipeline.HandlerAdapter
	events []string
}

func (r *recorder) OnRegistered(ctx api.HandlerContext) {
	r.events = append(r.events, "registered")
	ctx.FireRegistered()
}

func (r *recorder) OnActive(ctx api.HandlerContext) {
	r.events = append(r.events, "active")
	ctx.FireActive()
}

func (r *recorder) OnInactive(ctx api.HandlerContext) {
	r.events = append(r.events, "inactive")
	ctx.FireInactive()
}

func (r *recorder) OnUnregistered(ctx api.HandlerContext) {
	r.events = append(r.events, "unregistered")
	ctx.FireUnregistered()
}

func TestEventLoopQueuesUntilRunPending(t *testing.T) {
	l := NewEventLoop("fake")
	var order []int
	require.NoError(t, l.Execute(func() {
		order = append(order, 1)
		_ = l.Execute(func() { order = append(order, 3) })
	}))
	require.NoError(t, l.Execute(func() { order = append(order, 2) }))
	assert.Equal(t, 2, l.Pending())
	assert.Empty(t, order)

	assert.Equal(t, 3, l.RunPending())
	assert.Equal(t, []int{1, 2, 3}, order)
	assert.Equal(t, 3, l.Executed())

	l.Close()
	assert.ErrorIs(t, l.Execute(func() {}), api.ErrChannelClosed)
	assert.ErrorIs(t, l.Execute(nil), api.ErrInvalidArgument)
}

func TestEventLoopFireFiltersByInterest(t *testing.T) {
	l := NewImmediateEventLoop("fake")
	var got []api.Interest
	require.NoError(t, l.Watch(7, api.Readable, func(r api.Interest) { got = append(got, r) }))
	assert.Error(t, l.Watch(7, api.Readable, nil))

	assert.False(t, l.Fire(7, api.Writable))
	assert.True(t, l.Fire(7, api.Readable|api.Writable))
	assert.True(t, l.Fire(7, api.Hangup))

	require.NoError(t, l.Rewatch(7, api.Readable|api.Writable))
	interest, ok := l.Interest(7)
	require.True(t, ok)
	assert.Equal(t, api.Readable|api.Writable, interest)

	require.NoError(t, l.Unwatch(7))
	assert.False(t, l.Fire(7, api.Readable))
	assert.Error(t, l.Rewatch(7, api.Readable))
	assert.Equal(t, []api.Interest{api.Readable, api.Hangup}, got)
}

func TestChannelLifecycle(t *testing.T) {
	l := NewImmediateEventLoop("fake")
	ch := NewChannel()
	assert.Nil(t, ch.Pipeline())

	ch.Register(l)
	rec := &recorder{HandlerAdapter: pipeline.NewHandlerAdapter("rec")}
	ch.Pipeline().AddLast(rec)
	assert.Panics(t, func() { ch.Register(l) })

	var connected error = errors.New("not called")
	ch.Connect(Address{Host: "peer", Num: 80}, func(_ api.Channel, err error) { connected = err })
	require.NoError(t, connected)
	assert.True(t, ch.IsActive())
	assert.Equal(t, 1, ch.ReadRequests())
	assert.Equal(t, "peer:80", ch.RemoteAddress().String())

	ch.Pipeline().FireWrite("ping")
	assert.Equal(t, [][]byte{[]byte("ping")}, ch.Written())

	ch.Close(nil)
	ch.Close(nil)
	assert.False(t, ch.IsOpen())
	assert.Equal(t, []string{"active", "inactive", "unregistered"}, rec.events)
	assert.Empty(t, ch.Pipeline().Names())
}

func TestChannelWriteErrors(t *testing.T) {
	ch := NewChannel()
	boom := errors.New("boom")
	ch.SetWriteError(boom)

	var got error
	ch.Write([]byte("x"), func(_ api.Channel, err error) { got = err })
	var wf *api.WriteFailure
	require.ErrorAs(t, got, &wf)
	assert.ErrorIs(t, got, boom)

	ch.Close(nil)
	ch.Write([]byte("x"), func(_ api.Channel, err error) { got = err })
	assert.ErrorIs(t, got, api.ErrChannelClosed)
	assert.Empty(t, ch.Written())
}

func TestChannelConnectError(t *testing.T) {
	ch := NewChannel()
	ch.SetConnectError(errors.New("refused"))
	var got error
	ch.Connect(Address{Host: "peer", Num: 1}, func(_ api.Channel, err error) { got = err })
	var cf *api.ConnectFailure
	assert.ErrorAs(t, got, &cf)
	assert.False(t, ch.IsActive())
}
