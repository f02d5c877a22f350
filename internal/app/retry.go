// internal/app/retry.go
package app

import (
	"context"
	"errors"
	"math"
	"time"

	"subscription_split_bot/internal/domain/notifier"
)

// RetryConfig configures retry behavior for external channel calls.
type RetryConfig struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	AttemptTimeout    time.Duration // Upper bound for a single call; zero means no bound
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialDelay:      1 * time.Second,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2.0,
		AttemptTimeout:    15 * time.Second,
	}
}

// RetryPolicy implements bounded exponential backoff.
type RetryPolicy struct {
	config    RetryConfig
	retryable func(error) bool
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy fills unset fields with defaults. A nil retryable predicate retries
// every error that is not a permanent delivery failure.
func NewRetryPolicy(config RetryConfig, retryable func(error) bool) *RetryPolicy {
	def := DefaultRetryConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.InitialDelay < 0 {
		config.InitialDelay = def.InitialDelay
	}
	if config.MaxDelay < config.InitialDelay {
		config.MaxDelay = config.InitialDelay
	}
	if config.BackoffMultiplier < 1.0 {
		config.BackoffMultiplier = def.BackoffMultiplier
	}
	if retryable == nil {
		retryable = IsRetryableDelivery
	}
	return &RetryPolicy{config: config, retryable: retryable, sleep: sleepContext}
}

// Config returns the effective configuration.
func (p *RetryPolicy) Config() RetryConfig {
	return p.config
}

// NextDelay is the wait after the given failed attempt (1-based).
func (p *RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return p.config.InitialDelay
	}
	delay := float64(p.config.InitialDelay) * math.Pow(p.config.BackoffMultiplier, float64(attempt-1))
	if delay > float64(p.config.MaxDelay) {
		return p.config.MaxDelay
	}
	return time.Duration(delay)
}

// Do calls fn until it succeeds, fails with a non-retryable error, or attempts run out.
// It returns the number of attempts made and the last error.
func (p *RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	var err error
	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		err = p.call(ctx, fn)
		if err == nil {
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, err
		}
		if !p.retryable(err) || attempt == p.config.MaxAttempts {
			return attempt, err
		}
		if serr := p.sleep(ctx, p.NextDelay(attempt)); serr != nil {
			return attempt, err
		}
	}
	return p.config.MaxAttempts, err
}

func (p *RetryPolicy) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.config.AttemptTimeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, p.config.AttemptTimeout)
	defer cancel()
	return fn(attemptCtx)
}

// IsRetryableDelivery retries everything except permanent delivery failures and cancellation.
func IsRetryableDelivery(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return !notifier.IsPermanent(err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
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
