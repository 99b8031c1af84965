package dedup

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestPreloadAndContains verifies stored keys are visible and empty keys skipped.
func TestPreloadAndContains(t *testing.T) {
	t.Parallel()

	r := New()
	r.Preload([]string{"https://a.example/1", "", "https://a.example/2"})

	require.True(t, r.Contains("https://a.example/1"))
	require.True(t, r.Contains("https://a.example/2"))
	require.False(t, r.Contains(""))
	require.False(t, r.Contains("https://a.example/3"))
	require.Equal(t, 2, r.Len())
}

// TestAddIsIdempotent ensures repeated adds leave one entry.
func TestAddIsIdempotent(t *testing.T) {
	t.Parallel()

	r := New()
	r.Add("https://b.example")
	r.Add("https://b.example")
	require.Equal(t, 1, r.Len())
	require.True(t, r.Contains("https://b.example"))
}

// TestClaimSingleWinner races many claimers on the same URL.
func TestClaimSingleWinner(t *testing.T) {
	t.Parallel()

	r := New()
	var wins atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Claim("https://c.example/shared") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(1), wins.Load())
	require.False(t, r.Claim("https://c.example/shared"))
}

// TestConcurrentAddsGrowMonotonically checks concurrent writers never lose entries.
func TestConcurrentAddsGrowMonotonically(t *testing.T) {
	t.Parallel()

	r := New()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				r.Add(fmt.Sprintf("https://d.example/%d/%d", w, i))
				_ = r.Contains(fmt.Sprintf("https://d.example/%d/%d", w, i))
			}
		}(w)
	}
	wg.Wait()
	require.Equal(t, 800, r.Len())
}
