package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"live-quiz-service/internal/domain"
)

// RetryPolicy bounds retries of idempotent reads (game and question loads).
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy retries a failed load up to five times within a few seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// isPermanent reports lookups that will not succeed on retry.
func isPermanent(err error) bool {
	return errors.Is(err, domain.ErrGameNotFound) ||
		errors.Is(err, domain.ErrQuizSetNotFound) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// retryRead runs op until it succeeds, fails permanently or runs out of
// attempts. Exhausted retries surface as ErrPersistence.
func retryRead[T any](ctx context.Context, policy RetryPolicy, what string, op func(context.Context) (T, error)) (T, error) {
	var result T
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		v, err := op(ctx)
		if err != nil {
			if isPermanent(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = v
		return nil
	}, policy.backOff(ctx), func(err error, wait time.Duration) {
		log.Warn().Err(err).Str("read", what).Int("attempt", attempt).Dur("retry_in", wait).Msg("read failed, retrying")
	})
	if err != nil {
		if isPermanent(err) {
			return result, err
		}
		return result, fmt.Errorf("%s after %d attempts: %w: %w", what, attempt, domain.ErrPersistence, err)
	}
	return result, nil
}
