package clients

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/ajitpratap0/dctables/pkg/errors"
)

// RetryPolicy retries an operation with exponential backoff and jitter.
type RetryPolicy struct {
	MaxAttempts     int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	InitialDelay    time.Duration `mapstructure:"initial_delay" yaml:"initial_delay"`
	MaxDelay        time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	Multiplier      float64       `mapstructure:"multiplier" yaml:"multiplier"`
	RandomizeFactor float64       `mapstructure:"randomize_factor" yaml:"randomize_factor"`
}

// DefaultRetryPolicy returns the policy used for connecting to nodes.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialDelay:    200 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		Multiplier:      2.0,
		RandomizeFactor: 0.25,
	}
}

// Execute runs fn until it succeeds, returns an error that is not
// retryable, attempts run out, or ctx is done.
func (rp RetryPolicy) Execute(ctx context.Context, fn func() error) error {
	return rp.ExecuteWithCondition(ctx, fn, errors.IsRetryable)
}

// ExecuteWithCondition is Execute with a custom retry predicate.
func (rp RetryPolicy) ExecuteWithCondition(ctx context.Context, fn func() error, shouldRetry func(error) bool) error {
	attempts := rp.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !shouldRetry(err) || attempt == attempts-1 {
			break
		}

		timer := time.NewTimer(rp.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "retry cancelled")
		case <-timer.C:
		}
	}
	return lastErr
}

// Delay returns the backoff before retry number attempt (0-based).
func (rp RetryPolicy) Delay(attempt int) time.Duration {
	mult := rp.Multiplier
	if mult <= 0 {
		mult = 1
	}
	delay := float64(rp.InitialDelay) * math.Pow(mult, float64(attempt))
	if rp.MaxDelay > 0 && delay > float64(rp.MaxDelay) {
		delay = float64(rp.MaxDelay)
	}

	if rp.RandomizeFactor > 0 {
		delta := delay * rp.RandomizeFactor
		delay = delay - delta + rand.Float64()*2*delta //nolint:gosec // jitter only
	}
	return time.Duration(delay)
}
