package admission

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestController(t *testing.T, initial Tier) *Controller {
	t.Helper()
	c, err := New(Config{Initial: initial, PollInterval: time.Millisecond})
	require.NoError(t, err)
	return c
}

// TestParseTier covers full names, aliases and rejection of unknown input.
func TestParseTier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Tier
		wantErr bool
	}{
		{in: "low", want: TierLow},
		{in: "HIGH", want: TierHigh},
		{in: " max\n", want: TierMax},
		{in: "l", want: TierLow},
		{in: "h", want: TierHigh},
		{in: "o", want: TierMax},
		{in: "turbo", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseTier(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUnknownTier)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

// TestNewDefaults verifies the default ceilings and starting tier.
func TestNewDefaults(t *testing.T) {
	t.Parallel()

	c, err := New(Config{})
	require.NoError(t, err)
	require.Equal(t, TierLow, c.Tier())
	require.Equal(t, 3, c.Ceiling())
	require.Equal(t, 0, c.InFlight())

	require.NoError(t, c.SetTier(TierHigh))
	require.Equal(t, 10, c.Ceiling())
	require.NoError(t, c.SetTier(TierMax))
	require.Equal(t, 25, c.Ceiling())
	require.Equal(t, "max", c.Tier().String())
}

// TestNewRejectsInvalidCeilings ensures non-positive tiers are refused.
func TestNewRejectsInvalidCeilings(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Ceilings: Ceilings{Low: 0, High: 2, Max: 3}})
	require.Error(t, err)

	_, err = New(Config{Initial: Tier(9)})
	require.ErrorIs(t, err, ErrUnknownTier)
}

// TestAcquireNeverExceedsCeiling runs many contenders and tracks the peak holder count.
func TestAcquireNeverExceedsCeiling(t *testing.T) {
	t.Parallel()

	c := newTestController(t, TierLow)
	var (
		current atomic.Int64
		peak    atomic.Int64
		wg      sync.WaitGroup
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Acquire(context.Background()); err != nil {
				t.Error(err)
				return
			}
			defer c.Release()
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			current.Add(-1)
		}()
	}
	wg.Wait()

	require.LessOrEqual(t, peak.Load(), int64(3))
	require.Equal(t, 0, c.InFlight())
}

// TestLoweringCeilingDoesNotEvict keeps existing holders when the tier drops.
func TestLoweringCeilingDoesNotEvict(t *testing.T) {
	t.Parallel()

	c := newTestController(t, TierHigh)
	for i := 0; i < 5; i++ {
		require.True(t, c.TryAcquire())
	}
	require.NoError(t, c.SetTier(TierLow))
	require.Equal(t, 5, c.InFlight())
	require.False(t, c.TryAcquire())

	// Holders drain until the count falls below the new ceiling.
	for i := 0; i < 3; i++ {
		c.Release()
	}
	require.Equal(t, 2, c.InFlight())
	require.True(t, c.TryAcquire())
	require.False(t, c.TryAcquire())
}

// TestRaisingCeilingAdmitsWaiters checks that blocked waiters proceed after a tier increase.
func TestRaisingCeilingAdmitsWaiters(t *testing.T) {
	t.Parallel()

	c := newTestController(t, TierLow)
	for i := 0; i < 3; i++ {
		require.True(t, c.TryAcquire())
	}

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 7; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Acquire(context.Background()); err == nil {
				admitted.Add(1)
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	require.Zero(t, admitted.Load())

	require.NoError(t, c.SetTier(TierHigh))
	wg.Wait()
	require.Equal(t, int64(7), admitted.Load())
	require.Equal(t, 10, c.InFlight())
}

// TestLoweringTierWithQueuedWaiters drops to the lowest tier while 25 tasks wait for
// admission and samples the holder count until every waiter has run.
func TestLoweringTierWithQueuedWaiters(t *testing.T) {
	t.Parallel()

	c := newTestController(t, TierMax)
	for i := 0; i < 25; i++ {
		require.True(t, c.TryAcquire())
	}

	var (
		admitted atomic.Int64
		wg       sync.WaitGroup
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Acquire(context.Background()); err != nil {
				t.Error(err)
				return
			}
			defer c.Release()
			admitted.Add(1)
			time.Sleep(2 * time.Millisecond)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	require.Zero(t, admitted.Load())

	require.NoError(t, c.SetTier(TierLow))
	for i := 0; i < 25; i++ {
		c.Release()
	}

	// Every holder from before the switch is gone; only waiters hold slots now.
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	var samples []int
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	timeout := time.After(5 * time.Second)
sampling:
	for {
		select {
		case <-done:
			break sampling
		case <-ticker.C:
			samples = append(samples, c.InFlight())
		case <-timeout:
			t.Fatal("waiters were not all admitted")
		}
	}

	require.NotEmpty(t, samples)
	for _, n := range samples {
		require.LessOrEqual(t, n, 3)
	}
	require.Equal(t, int64(25), admitted.Load())
	require.Equal(t, 0, c.InFlight())
	require.Equal(t, TierLow, c.Tier())
}

// TestAcquireHonoursContext returns promptly when the context is cancelled.
func TestAcquireHonoursContext(t *testing.T) {
	t.Parallel()

	c := newTestController(t, TierLow)
	for i := 0; i < 3; i++ {
		require.True(t, c.TryAcquire())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.Acquire(ctx)
	require.Error(t, err)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
	require.Equal(t, 3, c.InFlight())

	done, cancelDone := context.WithCancel(context.Background())
	cancelDone()
	c.Release()
	require.Error(t, c.Acquire(done))
	require.Equal(t, 2, c.InFlight())
}

// TestReleaseWithoutAcquirePanics guards against slot accounting underflow.
func TestReleaseWithoutAcquirePanics(t *testing.T) {
	t.Parallel()

	c := newTestController(t, TierLow)
	require.Panics(t, c.Release)
}
