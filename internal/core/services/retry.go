package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/custodia-labs/subanon/internal/core/domain"
	"github.com/custodia-labs/subanon/internal/logger"
)

// jitterFraction bounds the random extra delay added to each backoff.
const jitterFraction = 0.2

// RetryPolicy controls exponential backoff of transient remote failures.
type RetryPolicy struct {
	MaxAttempts      int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	RateLimitRetries int
}

// RetryPolicyFromSettings builds a policy from transfer settings.
func RetryPolicyFromSettings(s domain.TransferSettings) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:      s.MaxAttempts,
		BaseDelay:        s.BaseDelay,
		MaxDelay:         s.MaxDelay,
		RateLimitRetries: s.RateLimitRetries,
	}
}

// Delay returns the backoff before retry number attempt (0-based), without jitter.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// retryAfterer is implemented by rate limit errors that carry a Retry-After hint.
type retryAfterer interface {
	RetryAfter() time.Duration
}

// retrier runs remote calls under the run's throttle and retry policy.
// Every call runs on a context detached from run cancellation and bounded
// by inFlight, so a started request is allowed to finish or time out.
type retrier struct {
	policy   RetryPolicy
	throttle *Throttle
	inFlight time.Duration
}

func newRetrier(policy RetryPolicy, throttle *Throttle, inFlight time.Duration) *retrier {
	return &retrier{policy: policy, throttle: throttle, inFlight: inFlight}
}

// do makes one logical attempt of fn. Rate limit signals trip the global
// throttle and are retried within the rate limit budget without counting
// as an attempt. Other errors are returned as-is.
func (r *retrier) do(ctx context.Context, fn func(context.Context) error) error {
	for signals := 0; ; signals++ {
		if err := r.throttle.Wait(ctx); err != nil {
			return cancelled(err)
		}

		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.inFlight)
		err := fn(callCtx)
		cancel()

		if err == nil || !errors.Is(err, domain.ErrRateLimited) {
			return err
		}

		var ra retryAfterer
		var retryAfter time.Duration
		if errors.As(err, &ra) {
			retryAfter = ra.RetryAfter()
		}
		r.throttle.Trip(retryAfter)
		logger.Warn("Rate limited by platform, pausing all workers")

		if signals >= r.policy.RateLimitRetries {
			return fmt.Errorf("%w: rate limit budget of %d exhausted: %w",
				domain.ErrTransient, r.policy.RateLimitRetries, err)
		}
	}
}

// wait sleeps for the backoff of the given 0-based retry, plus jitter.
func (r *retrier) wait(ctx context.Context, attempt int) error {
	d := r.policy.Delay(attempt)
	if d > 0 {
		d += time.Duration(rand.Int64N(int64(float64(d)*jitterFraction) + 1)) //nolint:gosec // jitter doesn't need crypto rand
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return cancelled(ctx.Err())
	case <-timer.C:
		return nil
	}
}

// retryCall runs fn until it succeeds, fails with a non-transient error,
// or exhausts the policy's attempts.
func retryCall[T any](ctx context.Context, r *retrier, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := r.wait(ctx, attempt-1); err != nil {
				return zero, err
			}
		}

		var result T
		err := r.do(ctx, func(c context.Context) error {
			var callErr error
			result, callErr = fn(c)
			return callErr
		})
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, domain.ErrTransient) {
			return zero, err
		}
		lastErr = err
		logger.Debug("Transient failure (attempt %d/%d): %v", attempt+1, r.policy.MaxAttempts, err)
	}
	return zero, fmt.Errorf("after %d attempts: %w", r.policy.MaxAttempts, lastErr)
}

// cancelled wraps a context error as a domain cancellation.
func cancelled(err error) error {
	if errors.Is(err, domain.ErrCancelled) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrCancelled, err)
}
