package service

import (
	"context"
	"time"

	"judgehub/internal/common/metrics"
	appErr "judgehub/pkg/errors"
	"judgehub/pkg/utils/logger"

	"go.uber.org/zap"
)

// RetryPolicy bounds how often a propagation step is attempted.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BaseDelay: 50 * time.Millisecond, MaxDelay: 2 * time.Second}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.MaxDelay < 0 {
		p.MaxDelay = 0
	}
	return p
}

// ComputeBackoff doubles base per retry and caps the result at max.
// A non-positive base disables waiting.
func ComputeBackoff(retryCount int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if retryCount <= 0 {
		if max > 0 && base > max {
			return max
		}
		return base
	}
	delay := base
	for i := 0; i < retryCount; i++ {
		if max > 0 && delay > max/2 {
			return max
		}
		delay *= 2
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}

// Do runs fn until it succeeds, the attempts are used up or ctx ends.
// Validation failures are returned at once.
func (p RetryPolicy) Do(ctx context.Context, step string, fn func(ctx context.Context) error) error {
	p = p.withDefaults()
	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if appErr.Is(err, appErr.ValidationFailed) {
			break
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		delay := ComputeBackoff(attempt, p.BaseDelay, p.MaxDelay)
		logger.Warn(ctx, "propagation step failed, retrying",
			zap.String("step", step),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				metrics.PropagationFailures.WithLabelValues(step).Inc()
				return appErr.Wrapf(ctx.Err(), appErr.PropagationFailed, "%s canceled during backoff", step)
			case <-timer.C:
			}
		}
	}
	metrics.PropagationFailures.WithLabelValues(step).Inc()
	return appErr.Wrapf(err, appErr.PropagationFailed, "%s failed: %v", step, err)
}
