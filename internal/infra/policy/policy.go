// Package policy wraps device operations with timeout and retry semantics.
//
// This package contains:
//   - TimeoutPolicy: races an operation against a deadline
//   - RetryPolicy: bounded attempts with exponential backoff and cooperative cancellation
//   - Wrapper: retry around timeout, with the timeout applied to each attempt
package policy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/vietddude/printguard/internal/core/domain"
)

// Operation is a unit of device work guarded by a policy.
type Operation[T any] func(ctx context.Context) (T, error)

// ResultOperation is an operation that reports failure through a Result.
type ResultOperation[T any] func(ctx context.Context) domain.Result[T]

// Config defines retry and timeout behavior.
type Config struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	Timeout           time.Duration `yaml:"timeout"`
	RetryOnTimeout    bool          `yaml:"retry_on_timeout"`
	RetryOnError      bool          `yaml:"retry_on_error"`

	// RetryableErrors restricts error retries to failures matching one of these
	// with errors.Is. Empty means every non-timeout failure is retryable.
	RetryableErrors []error `yaml:"-"`
}

// DefaultConfig provides sensible defaults.
var DefaultConfig = Config{
	MaxAttempts:       3,
	BaseDelay:         500 * time.Millisecond,
	MaxDelay:          10 * time.Second,
	BackoffMultiplier: 2.0,
	Timeout:           10 * time.Second,
	RetryOnTimeout:    true,
	RetryOnError:      true,
}

// cancelSlice bounds each backoff sleep so cancellation shortens the wait.
const cancelSlice = 500 * time.Millisecond

func (c Config) clone() Config {
	out := c
	if c.RetryableErrors != nil {
		out.RetryableErrors = append([]error(nil), c.RetryableErrors...)
	}
	if out.MaxAttempts < 1 {
		out.MaxAttempts = 1
	}
	if out.BackoffMultiplier <= 0 {
		out.BackoffMultiplier = 1
	}
	return out
}

// Delay returns the wait after the given 1-based attempt:
// BaseDelay * BackoffMultiplier^(attempt-1), capped at MaxDelay when set.
func (c Config) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	multiplier := c.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	delay := float64(c.BaseDelay) * math.Pow(multiplier, float64(attempt-1))
	if c.MaxDelay > 0 && delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}
	return time.Duration(delay)
}

// TotalDelay returns the sum of every backoff wait across MaxAttempts.
func (c Config) TotalDelay() time.Duration {
	var total time.Duration
	for attempt := 1; attempt < c.MaxAttempts; attempt++ {
		total += c.Delay(attempt)
	}
	return total
}

func (c Config) retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case isCancellation(err):
		return false
	case isTimeout(err):
		return c.RetryOnTimeout
	case !c.RetryOnError:
		return false
	case len(c.RetryableErrors) == 0:
		return true
	}
	for _, target := range c.RetryableErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func isTimeout(err error) bool {
	return errors.Is(err, domain.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

func isCancellation(err error) bool {
	return errors.Is(err, domain.ErrCancelled) || errors.Is(err, context.Canceled)
}

// TimeoutError is returned when an operation does not settle before its deadline.
type TimeoutError struct {
	Operation string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("policy: %s timed out after %s", e.Operation, e.Timeout)
}

// Is reports domain.ErrTimeout equivalence.
func (e *TimeoutError) Is(target error) bool {
	return target == domain.ErrTimeout
}

// RetryExhaustedError wraps the last failure after every attempt was used.
type RetryExhaustedError struct {
	Operation string
	Attempts  int
	Last      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("policy: %s failed after %d attempts: %v", e.Operation, e.Attempts, e.Last)
}

// Is reports domain.ErrRetryExhausted equivalence.
func (e *RetryExhaustedError) Is(target error) bool {
	return target == domain.ErrRetryExhausted
}

// Unwrap returns the last underlying failure.
func (e *RetryExhaustedError) Unwrap() error {
	return e.Last
}

// invoke runs op and converts a panic into an error.
func invoke[T any](ctx context.Context, name string, op Operation[T]) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("policy: %s panicked: %v", name, r)
		}
	}()
	return op(ctx)
}

func fromResult[T any](op ResultOperation[T]) Operation[T] {
	return func(ctx context.Context) (T, error) {
		res := op(ctx)
		if res.Success {
			return res.Data, nil
		}
		return res.Data, res.Err()
	}
}

// sleepSliced waits for d in bounded slices, returning early on cancellation.
func sleepSliced(ctx context.Context, d, slice time.Duration) error {
	for d > 0 {
		step := d
		if slice > 0 && step > slice {
			step = slice
		}
		timer := time.NewTimer(step)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		d -= step
	}
	return nil
}
