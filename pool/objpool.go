// File: pool/objpool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"sync"

	"github.com/momentics/hioload-pipeline/api"
)

// SyncPool is a typed sync.Pool. Values passed to Put go through the reset
// hook, when one is set, before they become visible to Get.
type SyncPool[T any] struct {
	pool  sync.Pool
	reset func(T) T
}

// NewSyncPool returns a pool that calls creator when it has nothing cached.
func NewSyncPool[T any](creator func() T) *SyncPool[T] {
	if creator == nil {
		api.Fatalf("pool: nil creator")
	}
	sp := &SyncPool[T]{}
	sp.pool.New = func() any { return creator() }
	return sp
}

// WithReset sets the hook applied to every recycled value. It must be
// called before the pool is shared.
func (sp *SyncPool[T]) WithReset(reset func(T) T) *SyncPool[T] {
	sp.reset = reset
	return sp
}

func (sp *SyncPool[T]) Get() T { return sp.pool.Get().(T) }

func (sp *SyncPool[T]) Put(v T) {
	if sp.reset != nil {
		v = sp.reset(v)
	}
	sp.pool.Put(v)
}
