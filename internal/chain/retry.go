package chain

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// RetryConfig defines backoff behavior for transient RPC failures.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig returns the standard RPC retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 6,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

// withRetry runs fn with exponential backoff and jitter. Only transient
// errors are retried; anything else returns immediately.
func withRetry(ctx context.Context, cfg RetryConfig, logger *zap.Logger, operation string, fn func(context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 250 * time.Millisecond
	}

	delay := cfg.BaseDelay
	var lastErr error
	for attempt := 1; ; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt >= cfg.MaxAttempts || !isTransient(lastErr) {
			return lastErr
		}

		wait := jitter(delay)
		if logger != nil {
			logger.Warn("rpc call failed, retrying",
				zap.String("operation", operation),
				zap.Int("attempt", attempt),
				zap.Duration("retry_in", wait),
				zap.Error(lastErr))
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
}

// jitter spreads a delay by ±15% to avoid retry herds.
func jitter(d time.Duration) time.Duration {
	offset := (rand.Float64() - 0.5) * 0.3 * float64(d)
	return d + time.Duration(offset)
}
