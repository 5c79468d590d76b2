package upload

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	syncerrors "github.com/zfogg/sidechain/clientsync/pkg/errors"
	"github.com/zfogg/sidechain/clientsync/pkg/logger"
)

// RetryPolicy caps caller-side retries of a media load or upload
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns three attempts starting at half a second
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// LoadWithRetry calls fn until it succeeds, the policy runs out of attempts,
// ctx is done, or fn returns an error that retrying cannot fix. It returns
// the number of attempts made and the last error.
func LoadWithRetry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) (int, error) {
	if fn == nil {
		return 0, syncerrors.ValidationError("load", "no load function")
	}
	def := DefaultRetryPolicy()
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = def.MaxAttempts
	}
	if policy.InitialInterval <= 0 {
		policy.InitialInterval = def.InitialInterval
	}
	if policy.MaxInterval <= 0 {
		policy.MaxInterval = def.MaxInterval
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialInterval
	b.MaxInterval = policy.MaxInterval
	b.MaxElapsedTime = 0

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		logger.Debug("Load failed, retrying", "attempt", attempts, "max_attempts", policy.MaxAttempts, "error", err)
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(policy.MaxAttempts-1)), ctx))

	if err != nil {
		logger.Warn("Load gave up", "attempts", attempts, "error", err)
	}
	return attempts, err
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *syncerrors.SyncError
	if errors.As(err, &se) {
		return se.IsTransient() || se.Type == syncerrors.ErrorTypeUnknown
	}
	return true
}
