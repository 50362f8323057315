// File: bootstrap/loops.go
// Package bootstrap wires channels, pipelines and event loops together for
// servers and clients.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package bootstrap

import (
	"context"
	"fmt"
	"sync"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/control"
	"github.com/momentics/hioload-pipeline/internal/concurrency"
	"github.com/sirupsen/logrus"
)

// Strategy selects which loop of the group receives the next channel.
type Strategy = concurrency.Strategy

const (
	RoundRobin = concurrency.StrategyRoundRobin
	Random     = concurrency.StrategyRandom
	Weighted   = concurrency.StrategyWeighted
)

// ParseStrategy maps "round-robin", "random" or "weighted" to a Strategy.
func ParseStrategy(s string) (Strategy, error) { return concurrency.ParseStrategy(s) }

// NewEventLoop creates and starts a loop for use with Loops. The caller owns
// it and must shut it down.
func NewEventLoop(label string) (*concurrency.EventLoop, error) {
	loop, err := concurrency.NewEventLoop(label)
	if err != nil {
		return nil, err
	}
	loop.Start()
	return loop, nil
}

// LoopChooser hands out the loop for the next channel.
type LoopChooser interface {
	Next() api.EventLoop
}

// loopSettings is the loop configuration shared by both bootstraps. The
// group is created on first use and never changes afterwards.
type loopSettings struct {
	mu       sync.Mutex
	sized    bool // Loops or NumLoops was called
	loops    []api.EventLoop
	numLoops int
	strategy Strategy
	weights  []uint
	metrics  *control.Metrics

	group *concurrency.EventLoopGroup
}

func (s *loopSettings) setLoops(loops []api.EventLoop) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sized {
		s.sized = true
		s.loops = append([]api.EventLoop(nil), loops...)
	}
}

func (s *loopSettings) setNumLoops(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sized {
		s.sized = true
		s.numLoops = n
	}
}

func (s *loopSettings) setStrategy(strategy Strategy, weights []uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strategy = strategy
	if weights != nil {
		s.weights = append([]uint(nil), weights...)
	}
}

func (s *loopSettings) setMetrics(m *control.Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
}

func (s *loopSettings) metricsOrDefault() *control.Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metrics == nil {
		return control.Default()
	}
	return s.metrics
}

// ensureGroup returns the group, creating it on first call. Explicit loops
// are wrapped without taking ownership; otherwise NumLoops loops labelled
// bootstrap-io-<i> are started.
func (s *loopSettings) ensureGroup() (*concurrency.EventLoopGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.group != nil {
		return s.group, nil
	}
	var (
		group *concurrency.EventLoopGroup
		err   error
	)
	if len(s.loops) > 0 {
		group, err = concurrency.NewEventLoopGroupFrom(s.loops, s.strategy, s.weights)
	} else {
		cfg := concurrency.DefaultGroupConfig()
		if s.numLoops > 0 {
			cfg.Size = s.numLoops
		}
		cfg.Strategy = s.strategy
		cfg.Weights = s.weights
		cfg.Metrics = s.metrics
		group, err = concurrency.NewEventLoopGroup(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("event loop group: %w", err)
	}
	s.group = group
	return group, nil
}

func (s *loopSettings) shutdownGroup(ctx context.Context) error {
	s.mu.Lock()
	group := s.group
	s.mu.Unlock()
	if group == nil {
		return nil
	}
	return group.ShutdownGracefully(ctx)
}

// newChannel runs factory, turning a panic into an error.
func newChannel(factory func() (api.Channel, error)) (ch api.Channel, err error) {
	defer func() {
		if r := recover(); r != nil {
			ch, err = nil, fmt.Errorf("channel factory panicked: %v", r)
		}
	}()
	return factory()
}

// runInitializer calls init on ch and reports whether it returned normally.
// Fatal usage errors keep propagating.
func runInitializer(log *logrus.Entry, init func(api.Channel), ch api.Channel) (ok bool) {
	if init == nil {
		return true
	}
	defer func() {
		if r := recover(); r != nil {
			if fe, fatal := r.(*api.FatalError); fatal {
				panic(fe)
			}
			log.WithFields(logrus.Fields{"channel": ch.ID(), "panic": r}).Error("channel initializer panicked")
			ok = false
		}
	}()
	init(ch)
	return true
}
