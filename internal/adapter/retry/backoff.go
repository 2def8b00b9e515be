// Package retry implements port.RetryPolicy for remote embedding and
// completion calls.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"ragchat/internal/domain"
	"ragchat/internal/port"
)

// None runs the operation exactly once.
type None struct{}

func (None) Do(ctx context.Context, op func(ctx context.Context) error) error {
	return op(ctx)
}

// Backoff retries retryable errors with capped exponential backoff.
// Credential, input and cancellation errors are returned immediately.
type Backoff struct {
	maxAttempts     uint
	initialInterval time.Duration
	maxInterval     time.Duration
	logger          *zap.Logger
}

// New returns None when maxAttempts <= 1, a Backoff otherwise.
func New(maxAttempts int, initial, max time.Duration, logger *zap.Logger) port.RetryPolicy {
	if maxAttempts <= 1 {
		return None{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	if max < initial {
		max = initial
	}
	return &Backoff{
		maxAttempts:     uint(maxAttempts),
		initialInterval: initial,
		maxInterval:     max,
		logger:          logger,
	}
}

func (b *Backoff) Do(ctx context.Context, op func(ctx context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.initialInterval
	eb.MaxInterval = b.maxInterval

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := op(ctx)
		if err == nil {
			return struct{}{}, nil
		}
		if !domain.IsRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		b.logger.Warn("retrying remote call",
			zap.Int("attempt", attempt),
			zap.Uint("max_attempts", b.maxAttempts),
			zap.Error(err),
		)
		return struct{}{}, err
	},
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(b.maxAttempts),
	)
	return err
}
