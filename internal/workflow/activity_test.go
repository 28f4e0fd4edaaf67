package workflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobgtm/pipeline-be/internal/pipeline/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    maxAttempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Timeout:        time.Second,
	}
}

func TestExecute_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Execute(context.Background(), "fetch-page", fastPolicy(3), testLogger(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestExecute_ExhaustsAttempts(t *testing.T) {
	attempts := 0
	cause := errors.New("permanent")
	err := Execute(context.Background(), "upsert-row", fastPolicy(3), testLogger(), func(ctx context.Context) error {
		attempts++
		return cause
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.ErrorIs(t, err, domain.ErrMaxRetriesExceeded)
	assert.ErrorIs(t, err, cause)
}

func TestExecute_TimeoutConsumesAttempt(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		Timeout:        20 * time.Millisecond,
	}

	attempts := 0
	err := Execute(context.Background(), "scrape-detail", policy, testLogger(), func(ctx context.Context) error {
		attempts++
		<-ctx.Done()
		return ctx.Err()
	})

	require.Error(t, err)
	assert.Equal(t, 2, attempts, "each timeout burns exactly one attempt")
	assert.ErrorIs(t, err, domain.ErrMaxRetriesExceeded)
}

func TestExecute_ParentCancelStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := Execute(ctx, "publish-batch", fastPolicy(5), testLogger(), func(ctx context.Context) error {
		attempts++
		cancel()
		return errors.New("failed")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts, "cancellation must not burn the remaining attempts")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, domain.ErrMaxRetriesExceeded)
}
