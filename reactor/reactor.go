// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral readiness reactor interface.

package reactor

import "github.com/momentics/hioload-pipeline/api"

// Event is one readiness notification returned by Wait.
type Event struct {
	Fd    int
	Ready api.Interest
}

// Reactor multiplexes readiness notifications for many descriptors.
// Add/Modify/Remove are safe to call from any goroutine; Wait must only be
// called by the owning loop.
type Reactor interface {
	// Add starts watching fd for the given interest.
	Add(fd int, interest api.Interest) error

	// Modify replaces the interest set of fd.
	Modify(fd int, interest api.Interest) error

	// Remove stops watching fd.
	Remove(fd int) error

	// Wait blocks up to timeoutMs (negative: forever) and fills events.
	// A wakeup is reported as zero events.
	Wait(events []Event, timeoutMs int) (int, error)

	// Wake interrupts a blocked Wait.
	Wake() error

	// Close releases the poller and the wakeup descriptor.
	Close() error
}
