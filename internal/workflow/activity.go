package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jobgtm/pipeline-be/internal/pipeline/domain"
)

// RetryPolicy bounds how an activity is retried. Each attempt gets its own
// timeout; backoff doubles between attempts up to MaxBackoff.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

// DefaultRetryPolicy matches the pipeline's standard activity envelope
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Timeout:        2 * time.Minute,
	}
}

// Activity is one retryable unit of workflow work
type Activity func(ctx context.Context) error

// Execute runs the activity under the policy. A per-attempt timeout consumes
// an attempt like any other failure. The parent context canceling stops the
// loop immediately without burning the remaining attempts.
func Execute(ctx context.Context, name string, policy RetryPolicy, logger *slog.Logger, activity Activity) error {
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	backoff := policy.InitialBackoff
	if backoff <= 0 {
		backoff = time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if policy.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, policy.Timeout)
		}

		lastErr = activity(attemptCtx)
		if cancel != nil {
			cancel()
		}

		if lastErr == nil {
			return nil
		}

		if ctx.Err() != nil {
			return fmt.Errorf("activity %s canceled: %w", name, ctx.Err())
		}

		logger.Warn("Activity attempt failed",
			slog.String("activity", name),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", maxAttempts),
			slog.Any("error", lastErr),
		)

		if attempt < maxAttempts {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return fmt.Errorf("activity %s canceled: %w", name, ctx.Err())
			}

			backoff *= 2
			if policy.MaxBackoff > 0 && backoff > policy.MaxBackoff {
				backoff = policy.MaxBackoff
			}
		}
	}

	return fmt.Errorf("activity %s: %w: %w", name, domain.ErrMaxRetriesExceeded, lastErr)
}
