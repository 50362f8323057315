package concurrency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/fake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundRobinAssignsIModK(t *testing.T) {
	for _, k := range []int{1, 2, 3, 7} {
		s := NewRoundRobin(k)
		for i := 0; i < 5*k; i++ {
			require.Equal(t, i%k, s.Pick(), "k=%d i=%d", k, i)
		}
	}
}

func TestRoundRobinIsBalancedUnderConcurrency(t *testing.T) {
	const k, perWorker, workers = 4, 250, 8
	s := NewRoundRobin(k)
	counts := make([]int, k)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				idx := s.Pick()
				mu.Lock()
				counts[idx]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	for _, c := range counts {
		assert.Equal(t, perWorker*workers/k, c)
	}
}

func TestRandomStaysInRange(t *testing.T) {
	s := NewRandom(3)
	for i := 0; i < 1000; i++ {
		idx := s.Pick()
		require.GreaterOrEqual(t, idx, 0)
		require.Less(t, idx, 3)
	}
}

func TestWeightedSkipsZeroWeights(t *testing.T) {
	s, err := NewWeighted([]uint{0, 5, 0})
	require.NoError(t, err)
	for i := 0; i < 200; i++ {
		require.Equal(t, 1, s.Pick())
	}

	_, err = NewWeighted([]uint{0, 0})
	assert.Error(t, err)
}

func TestNewSelectorValidation(t *testing.T) {
	_, err := NewSelector(StrategyRoundRobin, 0, nil)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)

	_, err = NewSelector(StrategyWeighted, 2, []uint{1})
	assert.ErrorIs(t, err, api.ErrInvalidArgument)

	_, err = NewSelector(Strategy(42), 2, nil)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)

	assert.Panics(t, func() { NewRoundRobin(0) })
}

func TestParseStrategy(t *testing.T) {
	for in, want := range map[string]Strategy{
		"":            StrategyRoundRobin,
		"round-robin": StrategyRoundRobin,
		"Random":      StrategyRandom,
		" weighted ":  StrategyWeighted,
	} {
		got, err := ParseStrategy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseStrategy("least-loaded")
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	assert.Equal(t, "weighted", StrategyWeighted.String())
}

func TestGroupFromExplicitLoops(t *testing.T) {
	loops := []api.EventLoop{fake.NewImmediateEventLoop("a"), fake.NewImmediateEventLoop("b")}
	g, err := NewEventLoopGroupFrom(loops, StrategyRoundRobin, nil)
	require.NoError(t, err)
	assert.Equal(t, "a", g.Next().Label())
	assert.Equal(t, "b", g.Next().Label())
	assert.Equal(t, "a", g.Next().Label())
	require.NoError(t, g.ShutdownGracefully(context.Background()))

	_, err = NewEventLoopGroupFrom(nil, StrategyRoundRobin, nil)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestCountdownLatch(t *testing.T) {
	l := NewCountdownLatch(2)
	assert.Equal(t, 2, l.Count())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Await(ctx), context.DeadlineExceeded)

	l.Countdown()
	l.Countdown()
	l.Countdown()
	assert.Equal(t, 0, l.Count())
	require.NoError(t, l.Await(context.Background()))

	require.NoError(t, NewCountdownLatch(0).Await(context.Background()))
	assert.Panics(t, func() { NewCountdownLatch(-1) })
}
