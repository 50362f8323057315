// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// BytePool hands out byte slices from power-of-two size classes. Requests
// above the largest class are allocated directly and never retained.

package pool

import "sync/atomic"

const (
	minClassShift = 9  // 512 B
	maxClassShift = 16 // 64 KiB
	numClasses    = maxClassShift - minClassShift + 1
)

// Stats reports pool usage counters.
type Stats struct {
	Gets   uint64
	Puts   uint64
	Misses uint64 // Gets served by a fresh allocation
}

// BytePool is safe for concurrent use.
type BytePool struct {
	classes [numClasses]*SyncPool[*[]byte]
	gets    atomic.Uint64
	puts    atomic.Uint64
	misses  atomic.Uint64
}

// NewBytePool creates an empty pool.
func NewBytePool() *BytePool {
	p := &BytePool{}
	for i := range p.classes {
		size := 1 << (minClassShift + i)
		p.classes[i] = NewSyncPool(func() *[]byte {
			p.misses.Add(1)
			b := make([]byte, size)
			return &b
		}).WithReset(fullLength)
	}
	return p
}

var defaultPool = NewBytePool()

// Default returns the process-wide pool.
func Default() *BytePool { return defaultPool }

// classFor returns the smallest class holding size, or -1 when none does.
func classFor(size int) int {
	for i := 0; i < numClasses; i++ {
		if size <= 1<<(minClassShift+i) {
			return i
		}
	}
	return -1
}

// Get returns a slice of length size. Its contents are unspecified.
func (p *BytePool) Get(size int) []byte {
	p.gets.Add(1)
	c := classFor(size)
	if c < 0 {
		p.misses.Add(1)
		return make([]byte, size)
	}
	b := p.classes[c].Get()
	return (*b)[:size]
}

// Put recycles b. Slices whose capacity is not exactly a class size are dropped.
func (p *BytePool) Put(b []byte) {
	c := classFor(cap(b))
	if c < 0 || cap(b) != 1<<(minClassShift+c) {
		return
	}
	p.puts.Add(1)
	p.classes[c].Put(&b)
}

// fullLength restores a recycled slice to its class size.
func fullLength(b *[]byte) *[]byte {
	*b = (*b)[:cap(*b)]
	return b
}

// Stats returns a snapshot of the counters.
func (p *BytePool) Stats() Stats {
	return Stats{Gets: p.gets.Load(), Puts: p.puts.Load(), Misses: p.misses.Load()}
}
