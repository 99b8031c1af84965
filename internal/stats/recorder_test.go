package stats

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// TestHourRollover resets the hourly count at the first increment of a new hour.
func TestHourRollover(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Date(2024, 5, 1, 10, 15, 0, 0, time.UTC)}
	r := New(clk)

	for i := 0; i < 5; i++ {
		r.IncrementGrandTotal()
	}
	require.Equal(t, int64(5), r.PerHour())

	clk.Advance(time.Hour)
	r.IncrementGrandTotal()

	snap := r.Snapshot()
	require.Equal(t, int64(6), snap.GrandTotal)
	require.Equal(t, int64(1), snap.PerHour)
	require.Equal(t, time.Hour, snap.Elapsed)
}

// TestPerHourStaleBucketReadsZero reports nothing for an hour without extractions.
func TestPerHourStaleBucketReadsZero(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Date(2024, 5, 1, 10, 59, 0, 0, time.UTC)}
	r := New(clk)
	r.IncrementGrandTotal()
	require.Equal(t, int64(1), r.PerHour())

	clk.Advance(2 * time.Minute)
	require.Zero(t, r.PerHour())
	require.Equal(t, int64(1), r.GrandTotal())
}

// TestAlreadySeenIndependent keeps the dedup counter separate from the totals.
func TestAlreadySeenIndependent(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()}
	r := New(clk)
	r.IncrementAlreadySeen()
	r.IncrementAlreadySeen()

	snap := r.Snapshot()
	require.Equal(t, int64(2), snap.AlreadySeen)
	require.Zero(t, snap.GrandTotal)
	require.Zero(t, snap.PerHour)
}

// TestConcurrentIncrementsAreExact verifies no increments are lost under contention.
func TestConcurrentIncrementsAreExact(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	r := New(clk)

	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				r.IncrementGrandTotal()
				r.IncrementAlreadySeen()
			}
		}()
	}
	wg.Wait()

	snap := r.Snapshot()
	require.Equal(t, int64(4000), snap.GrandTotal)
	require.Equal(t, int64(4000), snap.PerHour)
	require.Equal(t, int64(4000), snap.AlreadySeen)
}
