package upload

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	syncerrors "github.com/zfogg/sidechain/clientsync/pkg/errors"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}
}

func TestLoadWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0

	attempts, err := LoadWithRetry(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return syncerrors.NetworkError("fetch media", errors.New("connection reset"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestLoadWithRetry_GivesUpAtCap(t *testing.T) {
	attempts, err := LoadWithRetry(context.Background(), fastPolicy(4), func(ctx context.Context) error {
		return syncerrors.ServerError(503)
	})

	assert.Equal(t, 4, attempts)
	assert.True(t, syncerrors.Is(err, syncerrors.ErrorTypeServer))
}

func TestLoadWithRetry_PermanentErrorStopsImmediately(t *testing.T) {
	attempts, err := LoadWithRetry(context.Background(), fastPolicy(5), func(ctx context.Context) error {
		return syncerrors.NotFoundError("media", "m1")
	})

	assert.Equal(t, 1, attempts)
	assert.True(t, syncerrors.Is(err, syncerrors.ErrorTypeNotFound))
}

func TestLoadWithRetry_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts, err := LoadWithRetry(ctx, fastPolicy(5), func(ctx context.Context) error { return ctx.Err() })

	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadWithRetry_Validation(t *testing.T) {
	attempts, err := LoadWithRetry(context.Background(), RetryPolicy{}, nil)

	assert.Zero(t, attempts)
	assert.True(t, syncerrors.Is(err, syncerrors.ErrorTypeValidation))
}

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(errors.New("plain")))
	assert.True(t, retryable(syncerrors.TimeoutError(nil)))
	assert.False(t, retryable(syncerrors.ValidationError("file", "empty")))
	assert.False(t, retryable(context.DeadlineExceeded))
}
