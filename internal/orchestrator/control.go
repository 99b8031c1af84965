package orchestrator

import (
	"bufio"
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/JakeFAU/scraperhose/internal/admission"
)

// TierSetter applies a tier change.
type TierSetter interface {
	SetTier(admission.Tier) error
}

// ListenForTier reads operator commands, one per line, and switches the tier for
// every recognised command. Unrecognised lines are ignored. It returns when ctx
// is done or the input is exhausted.
func ListenForTier(ctx context.Context, in io.Reader, slots TierSetter, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	lines := make(chan string)
	go func() {
		// A blocked read on stdin cannot be interrupted; this goroutine ends with the input.
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			tier, err := admission.ParseTier(line)
			if err != nil {
				logger.Debug("ignoring control input", zap.String("input", line))
				continue
			}
			if err := slots.SetTier(tier); err != nil {
				logger.Warn("tier change failed", zap.String("tier", tier.String()), zap.Error(err))
				continue
			}
			logger.Info("tier changed", zap.String("tier", tier.String()))
		}
	}
}
