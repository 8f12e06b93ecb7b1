package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/cockroachdb/errors"
)

// BackoffStrategy selects how the delay grows between retries.
type BackoffStrategy int

const (
	// BackoffExponential waits InitialBackoff * BackoffMultiplier^n before retry n+1.
	BackoffExponential BackoffStrategy = iota
	// BackoffLinear waits InitialBackoff * (n+1) before retry n+1.
	BackoffLinear
)

// RetryConfig defines how Retry behaves.
type RetryConfig struct {
	// MaxRetries is the total retry budget. The first attempt is not a retry.
	MaxRetries int

	// FirstRetry is the index of the first retry available to this call. A
	// caller that tracks a budget across calls passes the number of retries
	// already spent; the backoff schedule continues from there.
	FirstRetry int

	InitialBackoff    time.Duration
	MaxBackoff        time.Duration // <= 0 means uncapped
	BackoffMultiplier float64
	Strategy          BackoffStrategy

	// Jitter adds up to +20% to each delay.
	Jitter bool

	// RetryableErrors reports whether err may be retried. Nil retries everything.
	RetryableErrors func(err error) bool

	// OnRetry runs before sleeping. retry is 1-based and includes FirstRetry.
	OnRetry func(retry int, delay time.Duration, err error)

	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryConfig returns an exponential policy suited to network calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Strategy:          BackoffExponential,
		Jitter:            true,
		RetryableErrors:   DefaultRetryableErrors,
	}
}

// LinearRetryConfig returns a policy that waits base, 2*base, 3*base, ...
func LinearRetryConfig(maxRetries int, base time.Duration) RetryConfig {
	return RetryConfig{
		MaxRetries:     maxRetries,
		InitialBackoff: base,
		Strategy:       BackoffLinear,
	}
}

// DefaultRetryableErrors retries everything except cancellation and an open breaker.
func DefaultRetryableErrors(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, ErrCircuitBreakerOpen),
		errors.Is(err, ErrCircuitBreakerTimeout):
		return false
	}
	return true
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func calculateBackoff(retry int, config RetryConfig) time.Duration {
	var backoff float64
	switch config.Strategy {
	case BackoffLinear:
		backoff = float64(config.InitialBackoff) * float64(retry+1)
	default:
		mult := config.BackoffMultiplier
		if mult <= 0 {
			mult = 2
		}
		backoff = float64(config.InitialBackoff) * math.Pow(mult, float64(retry))
	}
	if config.MaxBackoff > 0 && backoff > float64(config.MaxBackoff) {
		backoff = float64(config.MaxBackoff)
	}
	if config.Jitter {
		backoff += backoff * 0.2 * rand.Float64()
	}
	return time.Duration(backoff)
}

// RetryStats describes one Retry invocation.
type RetryStats struct {
	TotalAttempts   int
	TotalRetries    int
	SuccessfulCalls int
	TotalBackoff    time.Duration
	AverageBackoff  time.Duration
	LastError       error
}

// Retry calls fn until it succeeds, the budget is spent, the error is not
// retryable, or ctx is done. The last error is returned.
func Retry(ctx context.Context, config RetryConfig, fn func() error) error {
	_, err := RetryWithStats(ctx, config, fn)
	return err
}

// RetryWithStats is Retry that also reports what happened.
func RetryWithStats(ctx context.Context, config RetryConfig, fn func() error) (RetryStats, error) {
	var stats RetryStats
	sleep := config.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	retryable := config.RetryableErrors
	if retryable == nil {
		retryable = func(err error) bool { return err != nil }
	}

	for retry := config.FirstRetry; ; retry++ {
		stats.TotalAttempts++
		err := fn()
		if err == nil {
			stats.SuccessfulCalls++
			stats.LastError = nil
			return stats.finish(), nil
		}
		stats.LastError = err
		if retry >= config.MaxRetries || !retryable(err) {
			return stats.finish(), err
		}
		if ctx.Err() != nil {
			return stats.finish(), errors.WithSecondaryError(ctx.Err(), err)
		}
		delay := calculateBackoff(retry, config)
		if config.OnRetry != nil {
			config.OnRetry(retry+1, delay, err)
		}
		stats.TotalRetries++
		stats.TotalBackoff += delay
		if serr := sleep(ctx, delay); serr != nil {
			return stats.finish(), errors.WithSecondaryError(serr, err)
		}
	}
}

func (s RetryStats) finish() RetryStats {
	if s.TotalRetries > 0 {
		s.AverageBackoff = s.TotalBackoff / time.Duration(s.TotalRetries)
	}
	return s
}

// ExponentialBackoff retries fn up to maxRetries times, doubling the delay from initial.
func ExponentialBackoff(ctx context.Context, maxRetries int, initial time.Duration, fn func() error) error {
	return Retry(ctx, RetryConfig{
		MaxRetries:        maxRetries,
		InitialBackoff:    initial,
		BackoffMultiplier: 2,
		RetryableErrors:   DefaultRetryableErrors,
	}, fn)
}
