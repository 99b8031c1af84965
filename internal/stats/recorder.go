// Package stats keeps the rolling ingestion counters reported on the console.
package stats

import (
	"sync/atomic"
	"time"

	"github.com/JakeFAU/scraperhose/internal/ingest"
)

const countMask = 1<<32 - 1

// Snapshot is a point-in-time view of the counters.
type Snapshot struct {
	GrandTotal  int64         `json:"grand_total"`
	PerHour     int64         `json:"per_hour"`
	AlreadySeen int64         `json:"already_seen"`
	Elapsed     time.Duration `json:"elapsed"`
}

// Recorder counts extracted articles, articles extracted in the current
// wall-clock hour, and URLs skipped because they were already known.
type Recorder struct {
	clock ingest.Clock
	start time.Time

	grandTotal  atomic.Int64
	alreadySeen atomic.Int64
	// hourly packs the hour bucket (unix seconds / 3600) in the high 32 bits
	// and the count for that bucket in the low 32 bits, so the bucket check
	// and the reset happen in one compare-and-swap.
	hourly atomic.Uint64
}

// New starts a Recorder; Elapsed is measured from this call.
func New(clock ingest.Clock) *Recorder {
	return &Recorder{
		clock: clock,
		start: clock.Now(),
	}
}

// IncrementGrandTotal records one extracted article and advances the hourly count.
func (r *Recorder) IncrementGrandTotal() {
	r.grandTotal.Add(1)
	bucket := hourBucket(r.clock.Now())
	for {
		old := r.hourly.Load()
		next := old + 1
		if oldBucket := old >> 32; bucket > oldBucket {
			next = bucket<<32 | 1
		}
		if r.hourly.CompareAndSwap(old, next) {
			return
		}
	}
}

// IncrementAlreadySeen records one URL skipped by deduplication.
func (r *Recorder) IncrementAlreadySeen() {
	r.alreadySeen.Add(1)
}

// GrandTotal returns the number of extracted articles.
func (r *Recorder) GrandTotal() int64 {
	return r.grandTotal.Load()
}

// AlreadySeen returns the number of deduplicated URLs.
func (r *Recorder) AlreadySeen() int64 {
	return r.alreadySeen.Load()
}

// PerHour returns the count for the current hour; zero once the hour has rolled over
// without a new extraction.
func (r *Recorder) PerHour() int64 {
	packed := r.hourly.Load()
	if packed>>32 != hourBucket(r.clock.Now()) {
		return 0
	}
	return int64(packed & countMask)
}

// Elapsed returns the time since the Recorder was created.
func (r *Recorder) Elapsed() time.Duration {
	return r.clock.Now().Sub(r.start)
}

// Snapshot returns all counters together.
func (r *Recorder) Snapshot() Snapshot {
	return Snapshot{
		GrandTotal:  r.GrandTotal(),
		PerHour:     r.PerHour(),
		AlreadySeen: r.AlreadySeen(),
		Elapsed:     r.Elapsed(),
	}
}

func hourBucket(t time.Time) uint64 {
	return uint64(t.Unix() / 3600)
}
