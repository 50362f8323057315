// control/hotreload.go
// Manages hot-reload hooks for configuration changes.

package control

import (
	"errors"
	"sync"
)

// ReloadHooks runs registered listeners when configuration changes. Hooks
// receive the new configuration value and may reject it with an error.
type ReloadHooks struct {
	mu    sync.Mutex
	hooks []func(cfg any) error
}

// Register adds a component reload listener.
func (r *ReloadHooks) Register(fn func(cfg any) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, fn)
}

// Trigger invokes every hook synchronously in registration order and joins
// their errors. A failing hook does not stop later ones.
func (r *ReloadHooks) Trigger(cfg any) error {
	r.mu.Lock()
	hooks := append([]func(any) error(nil), r.hooks...)
	r.mu.Unlock()

	var errs []error
	for _, fn := range hooks {
		if err := fn(cfg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
