// File: internal/concurrency/group.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// EventLoopGroup is a fixed pool of event loops. Membership never changes
// after construction; Next is safe for concurrent use.

package concurrency

import (
	"context"
	"fmt"
	"runtime"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/control"
	"golang.org/x/sync/errgroup"
)

// GroupConfig describes a group whose loops the group creates and owns.
type GroupConfig struct {
	Size        int      // <= 0 selects runtime.NumCPU()
	Strategy    Strategy // loop selection policy
	Weights     []uint   // StrategyWeighted only, one per loop
	LabelPrefix string   // loops are labelled "<prefix>-<i>"
	PinCPUs     bool     // pin loop i to CPU i mod NumCPU
	Metrics     *control.Metrics
}

// DefaultGroupConfig returns the configuration bootstraps use.
func DefaultGroupConfig() GroupConfig {
	return GroupConfig{
		Size:        runtime.NumCPU(),
		Strategy:    StrategyRoundRobin,
		LabelPrefix: "bootstrap-io",
	}
}

// EventLoopGroup hands out loops according to its selector.
type EventLoopGroup struct {
	loops    []api.EventLoop
	owned    []*EventLoop
	selector Selector
}

// NewEventLoopGroup creates and starts cfg.Size loops.
func NewEventLoopGroup(cfg GroupConfig) (*EventLoopGroup, error) {
	if cfg.Size <= 0 {
		cfg.Size = runtime.NumCPU()
	}
	if cfg.LabelPrefix == "" {
		cfg.LabelPrefix = "bootstrap-io"
	}
	selector, err := NewSelector(cfg.Strategy, cfg.Size, cfg.Weights)
	if err != nil {
		return nil, err
	}
	g := &EventLoopGroup{selector: selector}
	for i := 0; i < cfg.Size; i++ {
		opts := []LoopOption{}
		if cfg.PinCPUs {
			opts = append(opts, WithCPU(i))
		}
		if cfg.Metrics != nil {
			opts = append(opts, WithMetrics(cfg.Metrics))
		}
		loop, err := NewEventLoop(fmt.Sprintf("%s-%d", cfg.LabelPrefix, i), opts...)
		if err != nil {
			_ = g.ShutdownGracefully(context.Background())
			return nil, err
		}
		loop.Start()
		g.loops = append(g.loops, loop)
		g.owned = append(g.owned, loop)
	}
	return g, nil
}

// NewEventLoopGroupFrom wraps caller-provided loops. The group does not own
// them: ShutdownGracefully leaves them running.
func NewEventLoopGroupFrom(loops []api.EventLoop, strategy Strategy, weights []uint) (*EventLoopGroup, error) {
	if len(loops) == 0 {
		return nil, fmt.Errorf("empty loop list: %w", api.ErrInvalidArgument)
	}
	selector, err := NewSelector(strategy, len(loops), weights)
	if err != nil {
		return nil, err
	}
	return &EventLoopGroup{
		loops:    append([]api.EventLoop(nil), loops...),
		selector: selector,
	}, nil
}

// Next returns the loop the selector picks.
func (g *EventLoopGroup) Next() api.EventLoop {
	return g.loops[g.selector.Pick()]
}

// Loops returns the members in construction order.
func (g *EventLoopGroup) Loops() []api.EventLoop {
	return append([]api.EventLoop(nil), g.loops...)
}

// Len returns the number of loops.
func (g *EventLoopGroup) Len() int { return len(g.loops) }

// ShutdownGracefully shuts every owned loop down in parallel.
func (g *EventLoopGroup) ShutdownGracefully(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, loop := range g.owned {
		eg.Go(func() error { return loop.Shutdown(ctx) })
	}
	return eg.Wait()
}
