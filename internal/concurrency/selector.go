// File: internal/concurrency/selector.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Loop selection strategies for EventLoopGroup.

package concurrency

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync/atomic"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/mroth/weightedrand"
)

// Strategy names a selection policy.
type Strategy int

const (
	// StrategyRoundRobin assigns the i-th selection to loop i mod K.
	StrategyRoundRobin Strategy = iota
	// StrategyRandom picks a loop uniformly at random.
	StrategyRandom
	// StrategyWeighted picks a loop with probability proportional to its weight.
	StrategyWeighted
)

func (s Strategy) String() string {
	switch s {
	case StrategyRoundRobin:
		return "round-robin"
	case StrategyRandom:
		return "random"
	case StrategyWeighted:
		return "weighted"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy converts a configuration string to a Strategy.
// The empty string selects round-robin.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "round-robin", "roundrobin":
		return StrategyRoundRobin, nil
	case "random":
		return StrategyRandom, nil
	case "weighted":
		return StrategyWeighted, nil
	}
	return 0, fmt.Errorf("selection strategy %q: %w", s, api.ErrInvalidArgument)
}

// Selector picks the index of the next loop. Implementations are safe for
// concurrent use.
type Selector interface {
	Pick() int
}

type roundRobin struct {
	n       uint64
	counter atomic.Uint64
}

// NewRoundRobin returns a selector cycling through [0, n) starting at 0.
func NewRoundRobin(n int) Selector {
	if n <= 0 {
		api.Fatalf("round-robin selector over %d loops", n)
	}
	return &roundRobin{n: uint64(n)}
}

func (r *roundRobin) Pick() int {
	return int((r.counter.Add(1) - 1) % r.n)
}

type random struct{ n int }

// NewRandom returns a selector picking uniformly from [0, n).
func NewRandom(n int) Selector {
	if n <= 0 {
		api.Fatalf("random selector over %d loops", n)
	}
	return random{n: n}
}

func (r random) Pick() int { return rand.IntN(r.n) }

type weighted struct{ chooser *weightedrand.Chooser }

// NewWeighted returns a selector where index i is picked with probability
// weights[i] / sum(weights). Zero weights exclude a loop; at least one
// weight must be positive.
func NewWeighted(weights []uint) (Selector, error) {
	choices := make([]weightedrand.Choice, 0, len(weights))
	for i, w := range weights {
		choices = append(choices, weightedrand.Choice{Item: i, Weight: w})
	}
	chooser, err := weightedrand.NewChooser(choices...)
	if err != nil {
		return nil, fmt.Errorf("weighted selector %v: %w", weights, err)
	}
	return weighted{chooser: chooser}, nil
}

func (w weighted) Pick() int { return w.chooser.Pick().(int) }

// NewSelector builds the selector for strategy over n loops.
// weights is consulted only by StrategyWeighted and must have n entries.
func NewSelector(strategy Strategy, n int, weights []uint) (Selector, error) {
	if n <= 0 {
		return nil, fmt.Errorf("selector over %d loops: %w", n, api.ErrInvalidArgument)
	}
	switch strategy {
	case StrategyRoundRobin:
		return NewRoundRobin(n), nil
	case StrategyRandom:
		return NewRandom(n), nil
	case StrategyWeighted:
		if len(weights) != n {
			return nil, fmt.Errorf("%d weights for %d loops: %w", len(weights), n, api.ErrInvalidArgument)
		}
		return NewWeighted(weights)
	}
	return nil, fmt.Errorf("%s: %w", strategy, api.ErrInvalidArgument)
}
