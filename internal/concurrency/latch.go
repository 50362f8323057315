// File: internal/concurrency/latch.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"context"
	"sync"

	"github.com/momentics/hioload-pipeline/api"
)

// CountdownLatch releases waiters once Countdown has been called count times.
type CountdownLatch struct {
	mu    sync.Mutex
	count int
	done  chan struct{}
}

// NewCountdownLatch returns a latch expecting count calls to Countdown.
func NewCountdownLatch(count int) *CountdownLatch {
	if count < 0 {
		api.Fatalf("negative latch count %d", count)
	}
	l := &CountdownLatch{count: count, done: make(chan struct{})}
	if count == 0 {
		close(l.done)
	}
	return l
}

// Countdown decrements the count; calls past zero are ignored.
func (l *CountdownLatch) Countdown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count == 0 {
		return
	}
	l.count--
	if l.count == 0 {
		close(l.done)
	}
}

// Count returns the remaining count.
func (l *CountdownLatch) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Done is closed when the count reaches zero.
func (l *CountdownLatch) Done() <-chan struct{} { return l.done }

// Await blocks until the count reaches zero or ctx ends.
func (l *CountdownLatch) Await(ctx context.Context) error {
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
