package backend

import (
	"context"
	"time"

	"github.com/aescanero/cellvert/pkg/ports"
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// Retrying retries failed backend calls a bounded number of times
type Retrying struct {
	next        ports.Backend
	maxAttempts uint
	delay       time.Duration
	logger      *zap.Logger
}

// WithRetry wraps a backend so each call is attempted at most maxAttempts times
func WithRetry(next ports.Backend, maxAttempts uint, delay time.Duration, logger *zap.Logger) *Retrying {
	if maxAttempts == 0 {
		maxAttempts = 1
	}

	return &Retrying{
		next:        next,
		maxAttempts: maxAttempts,
		delay:       delay,
		logger:      logger,
	}
}

// Commit commits through the wrapped backend
func (r *Retrying) Commit(ctx context.Context) (string, error) {
	return backoff.Retry(ctx, func() (string, error) {
		hash, err := r.next.Commit(ctx)
		if err != nil {
			return "", r.classify(ctx, err)
		}
		return hash, nil
	}, r.options("commit")...)
}

// Revert reverts through the wrapped backend. Reverting to a hash is idempotent.
func (r *Retrying) Revert(ctx context.Context, hash string) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := r.next.Revert(ctx, hash); err != nil {
			return struct{}{}, r.classify(ctx, err)
		}
		return struct{}{}, nil
	}, r.options("revert")...)
	return err
}

func (r *Retrying) options(op string) []backoff.RetryOption {
	return []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewConstantBackOff(r.delay)),
		backoff.WithMaxTries(r.maxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.logger.Warn("backend call failed, retrying",
				zap.String("op", op),
				zap.Duration("retry_in", next),
				zap.Error(err))
		}),
	}
}

// classify stops retrying once the caller has given up
func (r *Retrying) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return backoff.Permanent(err)
	}
	return err
}
