// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides predictable, controllable behavior for all core interfaces.

package fake

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/pipeline"
)

// Address is a fixed api.Address.
type Address struct {
	Host string
	Num  int
}

func (a Address) Port() (int, bool) { return a.Num, a.Num > 0 }
func (a Address) String() string    { return fmt.Sprintf("%s:%d", a.Host, a.Num) }

// Channel is an in-memory api.Channel. Writes are recorded instead of sent.
// Registered fires on the loop; every other event fires on the caller.
type Channel struct {
	mu         sync.Mutex
	id         string
	loop       api.EventLoop
	pipe       *pipeline.DefaultPipeline
	open       bool
	active     bool
	written    [][]byte
	writeErr   error
	connectErr error
	reads      int
	local      api.Address
	remote     api.Address
}

// NewChannel creates an open, unregistered channel.
func NewChannel() *Channel {
	return &Channel{id: uuid.NewString(), open: true}
}

func (c *Channel) ID() string { return c.id }

func (c *Channel) LocalAddress() api.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

func (c *Channel) RemoteAddress() api.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

func (c *Channel) EventLoop() api.EventLoop {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loop
}

func (c *Channel) Pipeline() api.Pipeline {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pipe == nil {
		return nil
	}
	return c.pipe
}

func (c *Channel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *Channel) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Register creates the pipeline and fires Registered on loop.
func (c *Channel) Register(loop api.EventLoop) {
	c.mu.Lock()
	if c.loop != nil {
		c.mu.Unlock()
		api.Fatalf("channel %s registered twice", c.id)
	}
	c.loop = loop
	c.pipe = pipeline.New(c)
	p := c.pipe
	c.mu.Unlock()
	_ = loop.Execute(p.FireRegistered)
}

// Bind marks the channel active at addr.
func (c *Channel) Bind(addr api.Address, onComplete api.Completion) {
	c.mu.Lock()
	c.local = addr
	c.active = true
	c.mu.Unlock()
	complete(onComplete, c, nil)
}

// Connect marks the channel active and fires Active, or fails with the
// error set by SetConnectError.
func (c *Channel) Connect(addr api.Address, onComplete api.Completion) {
	c.mu.Lock()
	if err := c.connectErr; err != nil {
		c.mu.Unlock()
		complete(onComplete, c, &api.ConnectFailure{Cause: err})
		return
	}
	c.remote = addr
	c.active = true
	p := c.pipe
	c.mu.Unlock()
	if p != nil {
		p.FireActive()
	}
	complete(onComplete, c, nil)
}

func (c *Channel) Disconnect(onComplete api.Completion) {
	c.Close(onComplete)
}

// Close fires Inactive when the channel was active, then Unregistered, then
// tears the pipeline down. Later calls complete with nil.
func (c *Channel) Close(onComplete api.Completion) {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		complete(onComplete, c, nil)
		return
	}
	c.open = false
	wasActive := c.active
	c.active = false
	p := c.pipe
	c.mu.Unlock()
	if p != nil {
		if wasActive {
			p.FireInactive()
		}
		p.FireUnregistered()
		p.Teardown()
	}
	complete(onComplete, c, nil)
}

// Write records data, or fails with the error set by SetWriteError.
func (c *Channel) Write(data []byte, onComplete api.Completion) {
	c.mu.Lock()
	var err error
	switch {
	case !c.open:
		err = &api.WriteFailure{Cause: api.ErrChannelClosed}
	case c.writeErr != nil:
		err = &api.WriteFailure{Cause: c.writeErr}
	default:
		c.written = append(c.written, append([]byte(nil), data...))
	}
	c.mu.Unlock()
	complete(onComplete, c, err)
}

// BeginRead counts read requests from the pipeline head.
func (c *Channel) BeginRead() {
	c.mu.Lock()
	c.reads++
	c.mu.Unlock()
}

// SetWriteError makes later writes fail with err.
func (c *Channel) SetWriteError(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

// SetConnectError makes later connects fail with err.
func (c *Channel) SetConnectError(err error) {
	c.mu.Lock()
	c.connectErr = err
	c.mu.Unlock()
}

// Written returns a copy of every recorded write.
func (c *Channel) Written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.written))
	copy(out, c.written)
	return out
}

// ReadRequests returns how often BeginRead was called.
func (c *Channel) ReadRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

func complete(onComplete api.Completion, ch api.Channel, err error) {
	if onComplete != nil {
		onComplete(ch, err)
	}
}

var _ api.Channel = (*Channel)(nil)
