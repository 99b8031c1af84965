// Package admission bounds the number of in-flight network operations with a runtime-adjustable ceiling.
package admission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrUnknownTier is returned when a tier name cannot be parsed.
var ErrUnknownTier = errors.New("unknown tier")

// Tier names one of the fixed concurrency ceilings.
type Tier int32

// Supported tiers, ordered from least to most parallel.
const (
	TierLow Tier = iota
	TierHigh
	TierMax
)

// String returns the operator-facing label of the tier.
func (t Tier) String() string {
	switch t {
	case TierLow:
		return "low"
	case TierHigh:
		return "high"
	case TierMax:
		return "max"
	default:
		return fmt.Sprintf("tier(%d)", int32(t))
	}
}

// ParseTier maps operator input to a Tier. Full names and the single-key
// aliases l, h and o are accepted, case-insensitively.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "l":
		return TierLow, nil
	case "high", "h":
		return TierHigh, nil
	case "max", "o":
		return TierMax, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
}

// Ceilings holds the slot count for each tier.
type Ceilings struct {
	Low  int
	High int
	Max  int
}

// DefaultCeilings mirrors the low/high/max tiers of 3, 10 and 25 slots.
var DefaultCeilings = Ceilings{Low: 3, High: 10, Max: 25}

// DefaultPollInterval is the delay between slot availability checks.
const DefaultPollInterval = 50 * time.Millisecond

func (c Ceilings) forTier(t Tier) (int, bool) {
	switch t {
	case TierLow:
		return c.Low, true
	case TierHigh:
		return c.High, true
	case TierMax:
		return c.Max, true
	default:
		return 0, false
	}
}

// Config controls a Controller.
type Config struct {
	Ceilings     Ceilings
	Initial      Tier
	PollInterval time.Duration
}

// Controller hands out slots while the number of holders is below the current ceiling.
// Lowering the ceiling never evicts holders; it only delays future acquisitions.
type Controller struct {
	ceilings Ceilings
	poll     time.Duration

	mu      sync.Mutex // serialises tier switches
	tier    atomic.Int32
	ceiling atomic.Int64
	held    atomic.Int64
}

// New builds a Controller starting at cfg.Initial.
func New(cfg Config) (*Controller, error) {
	if cfg.Ceilings == (Ceilings{}) {
		cfg.Ceilings = DefaultCeilings
	}
	if cfg.Ceilings.Low <= 0 || cfg.Ceilings.High <= 0 || cfg.Ceilings.Max <= 0 {
		return nil, fmt.Errorf("tier ceilings must be > 0: %+v", cfg.Ceilings)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	c := &Controller{
		ceilings: cfg.Ceilings,
		poll:     cfg.PollInterval,
	}
	if err := c.SetTier(cfg.Initial); err != nil {
		return nil, err
	}
	return c, nil
}

// Acquire blocks until a slot is free and reserves it, or until ctx is done.
// Waiters poll; there is no fairness between them.
func (c *Controller) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("acquire slot: %w", err)
	}
	for {
		if c.tryAcquire() {
			return nil
		}
		timer := time.NewTimer(c.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("acquire slot: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

// TryAcquire reserves a slot without waiting and reports whether it succeeded.
func (c *Controller) TryAcquire() bool {
	return c.tryAcquire()
}

func (c *Controller) tryAcquire() bool {
	for {
		held := c.held.Load()
		if held >= c.ceiling.Load() {
			return false
		}
		if c.held.CompareAndSwap(held, held+1) {
			return true
		}
	}
}

// Release frees a slot obtained from Acquire.
func (c *Controller) Release() {
	if c.held.Add(-1) < 0 {
		panic("admission: Release called without matching Acquire")
	}
}

// SetTier switches the ceiling. Only future acquisitions observe the change.
func (c *Controller) SetTier(t Tier) error {
	ceiling, ok := c.ceilings.forTier(t)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTier, t)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tier.Store(int32(t))
	c.ceiling.Store(int64(ceiling))
	return nil
}

// Tier returns the active tier.
func (c *Controller) Tier() Tier {
	return Tier(c.tier.Load())
}

// Ceiling returns the active slot ceiling.
func (c *Controller) Ceiling() int {
	return int(c.ceiling.Load())
}

// InFlight returns the number of slots currently held.
func (c *Controller) InFlight() int {
	return int(c.held.Load())
}
