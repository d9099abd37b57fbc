package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

const defaultMaxAttempts = 3

type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.Backoff < 0 {
		p.Backoff = 0
	}
	return p
}

// retryable reports whether a fresh load may succeed where this attempt failed.
func retryable(err error) bool {
	return errors.Is(err, domain.ErrConcurrencyConflict) || errors.Is(err, domain.ErrDuplicateKey)
}

// run calls fn until it succeeds, fails with a non-retryable error, or the
// attempt budget is spent. Backoff grows linearly with the attempt number.
func (p RetryPolicy) run(ctx context.Context, logger *zap.Logger, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil || !retryable(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}

		logger.Warn("retrying stock command",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Backoff * time.Duration(attempt)):
		}
	}
	return err
}
