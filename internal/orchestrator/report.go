package orchestrator

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/JakeFAU/scraperhose/internal/sampler"
	"github.com/JakeFAU/scraperhose/internal/stats"
)

// Report is everything printed after a feed completes.
type Report struct {
	Stats     stats.Snapshot
	Resources sampler.Resources
	Processed int64
	Total     int
	Tier      string
}

// FeedsPerSecond is processed feeds over elapsed wall time.
func (r Report) FeedsPerSecond() float64 {
	return perSecond(r.Processed, r.Stats.Elapsed)
}

// ArticlesPerSecond is extracted articles over elapsed wall time.
func (r Report) ArticlesPerSecond() float64 {
	return perSecond(r.Stats.GrandTotal, r.Stats.Elapsed)
}

// String renders the console line.
func (r Report) String() string {
	return fmt.Sprintf(
		"Metrics: Grand: %d, This Hour: %d, Already Seen: %d, Elapsed: %s, Progress: %d/%d, Mode: %s, "+
			"CPU: %.1f%% (avg %.1f%%), RAM: %.1f MB (avg %.1f MB), Feeds/sec: %.2f, Articles/sec: %.2f",
		r.Stats.GrandTotal,
		r.Stats.PerHour,
		r.Stats.AlreadySeen,
		formatElapsed(r.Stats.Elapsed),
		r.Processed,
		r.Total,
		r.Tier,
		r.Resources.CPUPercent,
		r.Resources.CPUAverage,
		r.Resources.MemoryMB,
		r.Resources.MemoryAverageMB,
		r.FeedsPerSecond(),
		r.ArticlesPerSecond(),
	)
}

// Console serialises report lines onto one writer.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole wraps w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// Print writes one line.
func (c *Console) Print(r Report) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintln(c.w, r.String()); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func perSecond(n int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(n) / elapsed.Seconds()
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Truncate(time.Second)
	h := int64(d / time.Hour)
	m := int64(d%time.Hour) / int64(time.Minute)
	s := int64(d%time.Minute) / int64(time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
