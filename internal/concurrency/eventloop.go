// File: internal/concurrency/eventloop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// EventLoop is a single goroutine that runs submitted tasks strictly in
// submission order and dispatches readiness callbacks for the descriptors
// watched on it. Each iteration drains a snapshot of the task queue, then
// waits on the reactor: without blocking when more tasks arrived meanwhile,
// otherwise until a descriptor is ready or Execute wakes it.

package concurrency

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/control"
	"github.com/momentics/hioload-pipeline/internal/logging"
	"github.com/momentics/hioload-pipeline/reactor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const maxReadyEvents = 128

// Ensure compile-time interface compliance.
var _ api.EventLoop = (*EventLoop)(nil)

// LoopOption customizes an EventLoop at construction.
type LoopOption func(*EventLoop)

// WithCPU pins the loop's OS thread to cpu once the loop starts.
func WithCPU(cpu int) LoopOption {
	return func(l *EventLoop) { l.cpu = cpu }
}

// WithMetrics reports loop activity to m instead of control.Default().
func WithMetrics(m *control.Metrics) LoopOption {
	return func(l *EventLoop) { l.metrics = m }
}

// EventLoop implements api.EventLoop on top of a readiness reactor.
type EventLoop struct {
	label   string
	reactor reactor.Reactor
	cpu     int

	mu     sync.Mutex
	tasks  *queue.Queue // of func()
	closed bool

	// Owned by the loop goroutine.
	watchers map[int]api.ReadyFunc
	events   []reactor.Event
	batch    []func()

	running atomic.Bool
	done    chan struct{}

	metrics *control.Metrics
	taskCnt prometheus.Counter
	log     *logrus.Entry
}

// NewEventLoop creates a loop with its own reactor. The loop does not run
// until Start is called; tasks submitted before that are kept in order.
func NewEventLoop(label string, opts ...LoopOption) (*EventLoop, error) {
	r, err := reactor.New()
	if err != nil {
		return nil, fmt.Errorf("event loop %s: %w", label, err)
	}
	l := &EventLoop{
		label:    label,
		reactor:  r,
		cpu:      -1,
		tasks:    queue.New(),
		watchers: make(map[int]api.ReadyFunc),
		events:   make([]reactor.Event, maxReadyEvents),
		done:     make(chan struct{}),
		metrics:  control.Default(),
		log:      logging.For("eventloop").WithField("loop", label),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.taskCnt = l.metrics.LoopTasks.WithLabelValues(label)
	return l, nil
}

// Label returns the loop's name.
func (l *EventLoop) Label() string { return l.label }

// Start launches the loop goroutine. Subsequent calls are no-ops.
func (l *EventLoop) Start() {
	if !l.running.CompareAndSwap(false, true) {
		return
	}
	go l.run()
}

// Execute queues task behind every task submitted before it.
func (l *EventLoop) Execute(task func()) error {
	if task == nil {
		return fmt.Errorf("nil task: %w", api.ErrInvalidArgument)
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrEventLoopClosed
	}
	l.tasks.Add(task)
	l.mu.Unlock()
	return l.reactor.Wake()
}

// Watch starts dispatching readiness of fd to fn. Call only from the loop.
func (l *EventLoop) Watch(fd int, interest api.Interest, fn api.ReadyFunc) error {
	if _, ok := l.watchers[fd]; ok {
		return fmt.Errorf("fd %d already watched on %s: %w", fd, l.label, api.ErrInvalidArgument)
	}
	if err := l.reactor.Add(fd, interest); err != nil {
		return err
	}
	l.watchers[fd] = fn
	return nil
}

// Rewatch replaces the interest set of fd. Call only from the loop.
func (l *EventLoop) Rewatch(fd int, interest api.Interest) error {
	if _, ok := l.watchers[fd]; !ok {
		return fmt.Errorf("fd %d not watched on %s: %w", fd, l.label, api.ErrInvalidArgument)
	}
	return l.reactor.Modify(fd, interest)
}

// Unwatch stops readiness dispatch for fd. Call only from the loop.
// Unwatching an unknown fd is a no-op.
func (l *EventLoop) Unwatch(fd int) error {
	if _, ok := l.watchers[fd]; !ok {
		return nil
	}
	delete(l.watchers, fd)
	return l.reactor.Remove(fd)
}

// Shutdown rejects further tasks, lets the loop run everything already
// queued and waits for the loop goroutine to exit or ctx to end.
// A loop that was never started is released immediately.
func (l *EventLoop) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	already := l.closed
	l.closed = true
	l.mu.Unlock()

	if !already {
		if l.running.CompareAndSwap(false, true) {
			// Never started: run the loop once so queued tasks are not lost.
			go l.run()
		} else if err := l.reactor.Wake(); err != nil {
			l.log.WithError(err).Warn("wakeup on shutdown failed")
		}
	}
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event loop %s shutdown: %w", l.label, ctx.Err())
	}
}

// Done is closed once the loop goroutine has exited.
func (l *EventLoop) Done() <-chan struct{} { return l.done }

func (l *EventLoop) run() {
	defer close(l.done)
	defer func() {
		if err := l.reactor.Close(); err != nil {
			l.log.WithError(err).Warn("reactor close failed")
		}
	}()
	if l.cpu >= 0 {
		if err := pinCurrentThread(l.cpu); err != nil {
			l.log.WithError(err).Warn("cpu pinning unavailable")
		}
	}
	l.log.Debug("event loop started")

	for {
		pending, closed := l.runTasks()
		if closed && !pending {
			l.log.Debug("event loop stopped")
			return
		}
		timeout := -1
		if pending {
			timeout = 0
		}
		n, err := l.reactor.Wait(l.events, timeout)
		if err != nil {
			l.log.WithError(err).Error("reactor wait failed")
			continue
		}
		for i := 0; i < n; i++ {
			ev := l.events[i]
			fn, ok := l.watchers[ev.Fd]
			if !ok {
				continue
			}
			l.safeExecute(func() { fn(ev.Ready) })
		}
	}
}

// runTasks executes the tasks queued at the moment it is called and reports
// whether more arrived meanwhile and whether the loop is shutting down.
func (l *EventLoop) runTasks() (pending, closed bool) {
	l.mu.Lock()
	for l.tasks.Length() > 0 {
		l.batch = append(l.batch, l.tasks.Remove().(func()))
	}
	l.mu.Unlock()

	for i, task := range l.batch {
		l.safeExecute(task)
		l.batch[i] = nil
	}
	l.taskCnt.Add(float64(len(l.batch)))
	l.batch = l.batch[:0]

	l.mu.Lock()
	pending, closed = l.tasks.Length() > 0, l.closed
	l.mu.Unlock()
	return pending, closed
}

// safeExecute runs fn, recovering ordinary panics. *api.FatalError is
// re-raised and terminates the process.
func (l *EventLoop) safeExecute(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			if fatal, ok := r.(*api.FatalError); ok {
				panic(fatal)
			}
			l.metrics.LoopPanics.Inc()
			l.log.WithField("panic", r).Error("recovered panic in loop task")
		}
	}()
	fn()
}
