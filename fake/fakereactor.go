// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides predictable, controllable behavior for the core interfaces.

package fake

import (
	"fmt"
	"sync"

	"github.com/momentics/hioload-pipeline/api"
)

// EventLoop is a deterministic api.EventLoop. Tasks queue until RunPending
// is called, or run inline on the caller when the loop is immediate.
// Readiness is simulated with Fire.
type EventLoop struct {
	mu        sync.Mutex
	label     string
	immediate bool
	closed    bool
	tasks     []func()
	watches   map[int]watch
	executed  int
}

type watch struct {
	interest api.Interest
	fn       api.ReadyFunc
}

// NewEventLoop returns a loop that queues tasks.
func NewEventLoop(label string) *EventLoop {
	return &EventLoop{label: label, watches: make(map[int]watch)}
}

// NewImmediateEventLoop returns a loop that runs tasks as they are submitted.
func NewImmediateEventLoop(label string) *EventLoop {
	l := NewEventLoop(label)
	l.immediate = true
	return l
}

func (l *EventLoop) Label() string { return l.label }

// Execute queues task, or runs it when the loop is immediate.
func (l *EventLoop) Execute(task func()) error {
	if task == nil {
		return api.ErrInvalidArgument
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return api.ErrChannelClosed
	}
	if !l.immediate {
		l.tasks = append(l.tasks, task)
		l.mu.Unlock()
		return nil
	}
	l.executed++
	l.mu.Unlock()
	task()
	return nil
}

// RunPending runs queued tasks, including tasks they submit, and returns
// how many ran.
func (l *EventLoop) RunPending() int {
	n := 0
	for {
		l.mu.Lock()
		if len(l.tasks) == 0 {
			l.mu.Unlock()
			return n
		}
		task := l.tasks[0]
		l.tasks = l.tasks[1:]
		l.executed++
		l.mu.Unlock()
		task()
		n++
	}
}

// Pending returns the number of queued tasks.
func (l *EventLoop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

// Executed returns the number of tasks run so far.
func (l *EventLoop) Executed() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.executed
}

// Close makes later Execute calls fail.
func (l *EventLoop) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}

func (l *EventLoop) Watch(fd int, interest api.Interest, fn api.ReadyFunc) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.watches[fd]; ok {
		return fmt.Errorf("fd %d already watched: %w", fd, api.ErrInvalidArgument)
	}
	l.watches[fd] = watch{interest: interest, fn: fn}
	return nil
}

func (l *EventLoop) Rewatch(fd int, interest api.Interest) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.watches[fd]
	if !ok {
		return fmt.Errorf("fd %d not watched: %w", fd, api.ErrInvalidArgument)
	}
	w.interest = interest
	l.watches[fd] = w
	return nil
}

func (l *EventLoop) Unwatch(fd int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.watches, fd)
	return nil
}

// Interest reports the interest registered for fd.
func (l *EventLoop) Interest(fd int) (api.Interest, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.watches[fd]
	return w.interest, ok
}

// Fire delivers ready to the callback watching fd, filtered by its
// interest. Hangup is always delivered. It reports whether a callback ran.
func (l *EventLoop) Fire(fd int, ready api.Interest) bool {
	l.mu.Lock()
	w, ok := l.watches[fd]
	l.mu.Unlock()
	if !ok {
		return false
	}
	ready &= w.interest | api.Hangup
	if ready == 0 {
		return false
	}
	w.fn(ready)
	return true
}

var _ api.EventLoop = (*EventLoop)(nil)
