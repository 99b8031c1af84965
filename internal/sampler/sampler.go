// Package sampler periodically measures process CPU and memory usage.
package sampler

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/procfs"
	"go.uber.org/zap"

	"github.com/JakeFAU/scraperhose/internal/ingest"
)

// DefaultInterval is the time between samples.
const DefaultInterval = time.Second

const bytesPerMB = 1024 * 1024

// Reading is a raw measurement of the process.
type Reading struct {
	CPUSeconds float64
	RSSBytes   uint64
}

// Source produces Readings.
type Source interface {
	Read() (Reading, error)
}

// ProcSource reads the current process from /proc.
type ProcSource struct {
	fs procfs.FS
}

// NewProcSource opens the default /proc mount.
func NewProcSource() (*ProcSource, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("open procfs: %w", err)
	}
	return &ProcSource{fs: fs}, nil
}

// Read returns cumulative CPU time and resident memory of this process.
func (p *ProcSource) Read() (Reading, error) {
	proc, err := p.fs.Self()
	if err != nil {
		return Reading{}, fmt.Errorf("open self: %w", err)
	}
	stat, err := proc.Stat()
	if err != nil {
		return Reading{}, fmt.Errorf("read stat: %w", err)
	}
	return Reading{
		CPUSeconds: stat.CPUTime(),
		RSSBytes:   uint64(stat.ResidentMemory()),
	}, nil
}

// Resources is the latest sample plus running means over every sample so far.
type Resources struct {
	CPUPercent      float64 `json:"cpu_percent"`
	CPUAverage      float64 `json:"cpu_average"`
	MemoryMB        float64 `json:"memory_mb"`
	MemoryAverageMB float64 `json:"memory_average_mb"`
	Samples         int64   `json:"samples"`
}

// Config controls a Sampler.
type Config struct {
	Interval time.Duration
	Cores    int
}

// Sampler turns successive Readings into CPU percent and memory figures.
type Sampler struct {
	source   Source
	clock    ingest.Clock
	interval time.Duration
	cores    int
	logger   *zap.Logger

	mu       sync.RWMutex
	last     Reading
	lastAt   time.Time
	primed   bool
	cpuSum   float64
	memSum   float64
	snapshot Resources
}

// New builds a Sampler. Cores defaults to runtime.NumCPU.
func New(source Source, clock ingest.Clock, cfg Config, logger *zap.Logger) *Sampler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Cores <= 0 {
		cfg.Cores = runtime.NumCPU()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sampler{
		source:   source,
		clock:    clock,
		interval: cfg.Interval,
		cores:    cfg.Cores,
		logger:   logger,
	}
}

// Run samples every interval until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) {
	s.sample()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *Sampler) sample() {
	if err := s.SampleOnce(); err != nil {
		s.logger.Warn("resource sample failed", zap.Error(err))
	}
}

// SampleOnce takes one reading. The first call only establishes the baseline.
func (s *Sampler) SampleOnce() error {
	reading, err := s.source.Read()
	if err != nil {
		return fmt.Errorf("sample resources: %w", err)
	}
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.primed {
		s.last, s.lastAt, s.primed = reading, now, true
		return nil
	}
	cpu := CPUPercent(reading.CPUSeconds-s.last.CPUSeconds, now.Sub(s.lastAt), s.cores)
	mem := float64(reading.RSSBytes) / bytesPerMB
	s.last, s.lastAt = reading, now

	s.cpuSum += cpu
	s.memSum += mem
	n := s.snapshot.Samples + 1
	s.snapshot = Resources{
		CPUPercent:      cpu,
		CPUAverage:      s.cpuSum / float64(n),
		MemoryMB:        mem,
		MemoryAverageMB: s.memSum / float64(n),
		Samples:         n,
	}
	return nil
}

// Snapshot returns the latest computed figures.
func (s *Sampler) Snapshot() Resources {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// CPUPercent normalises consumed CPU seconds over wall time and core count.
func CPUPercent(cpuSeconds float64, wall time.Duration, cores int) float64 {
	if wall <= 0 || cores <= 0 || cpuSeconds < 0 {
		return 0
	}
	return cpuSeconds / (wall.Seconds() * float64(cores)) * 100
}
