// Package resilience contains recovery helpers for platform-specific transient
// failures.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Operation is a unit of work that may fail transiently
type Operation func(ctx context.Context) error

// Cleanup runs between attempts to undo partial work of the failed attempt
type Cleanup func(ctx context.Context, attempt int, err error) error

// RetryPolicy describes a bounded retry
type RetryPolicy struct {
	// Name identifies the operation in logs
	Name string

	// Attempts is the total number of tries, including the first
	Attempts int

	// Delay is waited between a cleanup and the next attempt
	Delay time.Duration

	// Retryable decides whether an error is worth another attempt. Nil retries every error.
	Retryable func(error) bool

	Logger *zap.Logger
}

// Once returns a policy that tries op at most twice
func Once(name string, logger *zap.Logger) RetryPolicy {
	return RetryPolicy{Name: name, Attempts: 2, Logger: logger}
}

// NoRetry returns a policy that runs op exactly once
func NoRetry(name string) RetryPolicy {
	return RetryPolicy{Name: name, Attempts: 1}
}

// ErrCleanupFailed marks a retry that was abandoned because cleanup failed
var ErrCleanupFailed = errors.New("cleanup between attempts failed")

// Retry runs op until it succeeds or the policy is exhausted. After every
// failed attempt that will be retried, onFailure is called to clean up; if it
// fails the retry is abandoned. The last operation error is returned.
func Retry(ctx context.Context, policy RetryPolicy, op Operation, onFailure Cleanup) error {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}
	logger := policy.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(ctx); err == nil {
			if attempt > 1 {
				logger.Info("Operation succeeded after retry",
					zap.String("operation", policy.Name),
					zap.Int("attempt", attempt))
			}
			return nil
		}

		if attempt == attempts || (policy.Retryable != nil && !policy.Retryable(err)) {
			break
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return multierr.Append(err, ctxErr)
		}

		logger.Warn("Operation failed, retrying",
			zap.String("operation", policy.Name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err))

		if onFailure != nil {
			if cleanupErr := onFailure(ctx, attempt, err); cleanupErr != nil {
				return multierr.Append(err, fmt.Errorf("%w: %v", ErrCleanupFailed, cleanupErr))
			}
		}

		if policy.Delay > 0 {
			timer := time.NewTimer(policy.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return multierr.Append(err, ctx.Err())
			case <-timer.C:
			}
		}
	}

	return err
}
