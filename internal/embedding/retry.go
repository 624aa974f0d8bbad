package embedding

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds Retrying. Zero values take the defaults: 5 attempts,
// 500ms initial interval, 10s max interval.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = 500 * time.Millisecond
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = 10 * time.Second
	}
	return p
}

type retrying struct {
	inner  Embedder
	policy RetryPolicy
	logger *slog.Logger
}

// Retrying wraps inner so that ErrRateLimited and ErrTimeout are retried with
// exponential backoff. ErrService fails immediately.
func Retrying(inner Embedder, policy RetryPolicy, logger *slog.Logger) Embedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &retrying{
		inner:  inner,
		policy: policy.withDefaults(),
		logger: logger.With("component", "embedding-retry"),
	}
}

func (r *retrying) Dimension() int {
	return r.inner.Dimension()
}

func (r *retrying) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	attempt := 0

	operation := func() error {
		attempt++
		v, err := r.inner.Embed(ctx, text)
		if err == nil {
			vec = v
			return nil
		}
		if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTimeout) {
			r.logger.Debug("transient embedding error", "attempt", attempt, "error", err)
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.policy.InitialInterval
	b.MaxInterval = r.policy.MaxInterval
	b.MaxElapsedTime = 0 // bounded by attempts

	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.policy.MaxAttempts-1)), ctx))
	if err != nil {
		return nil, err
	}
	return vec, nil
}
