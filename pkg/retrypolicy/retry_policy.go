// Package retrypolicy provides a reusable backoff helper. The
// orchestrator never retries a node on a component's behalf; retries are
// the component's responsibility. This package exists so component
// authors can share one backoff implementation. The scheduler does not
// use it; its retry delay comes from models.ScheduledJob.NextBackoffDelay.
package retrypolicy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// BackoffStrategy defines how retry delays are calculated.
type BackoffStrategy string

const (
	BackoffConstant    BackoffStrategy = "constant"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

// Policy defines retry behavior for a single unit of work, such as a
// node's own component call.
type Policy struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	// 0 or 1 means no retries.
	MaxAttempts int

	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffStrategy BackoffStrategy

	// RetryableErrors restricts retries to errors whose message contains one
	// of these substrings. Empty means every error is retryable.
	RetryableErrors []string

	// OnRetry, if set, is called before each retry attempt.
	OnRetry func(attempt int, err error)
}

// Default returns a sensible default: 3 attempts, exponential backoff
// capped at 30s.
func Default() *Policy {
	return &Policy{
		MaxAttempts:     3,
		InitialDelay:    1 * time.Second,
		MaxDelay:        30 * time.Second,
		BackoffStrategy: BackoffExponential,
	}
}

// None returns a policy that never retries.
func None() *Policy {
	return &Policy{MaxAttempts: 1}
}

// ShouldRetry reports whether err matches the policy's retryable set.
func (p *Policy) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if len(p.RetryableErrors) == 0 {
		return true
	}
	msg := err.Error()
	for _, pattern := range p.RetryableErrors {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// Delay computes the delay before the given attempt (1-indexed).
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	var delay time.Duration
	switch p.BackoffStrategy {
	case BackoffConstant:
		delay = p.InitialDelay
	case BackoffLinear:
		delay = p.InitialDelay * time.Duration(attempt)
	case BackoffExponential:
		multiplier := math.Pow(2, float64(attempt-1))
		delay = time.Duration(float64(p.InitialDelay) * multiplier)
	default:
		delay = p.InitialDelay
	}

	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// Execute runs fn, retrying per the policy until it succeeds, attempts are
// exhausted, the context is cancelled, or the error is non-retryable.
func (p *Policy) Execute(ctx context.Context, fn func() error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("execution cancelled: %w", ctx.Err())
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt >= maxAttempts || !p.ShouldRetry(err) {
			break
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}

		if delay := p.Delay(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("execution cancelled during retry delay: %w", ctx.Err())
			case <-time.After(delay):
			}
		}
	}

	return fmt.Errorf("all retry attempts failed: %w", lastErr)
}

// IsRetryableError reports whether err is worth retrying. Context
// cancellation and deadline errors are not; an error implementing
// Temporary() or Timeout() is retryable when that method returns true;
// every other non-nil error is treated as retryable.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	var temporaryErr interface{ Temporary() bool }
	if errors.As(err, &temporaryErr) {
		return temporaryErr.Temporary()
	}

	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) {
		return timeoutErr.Timeout()
	}

	return true
}
