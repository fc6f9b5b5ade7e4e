package policy

import (
	"context"
	"time"

	"github.com/vietddude/printguard/internal/core/domain"
)

// Wrapper composes a RetryPolicy around a TimeoutPolicy.
// The timeout applies to each attempt, not to the whole retry budget.
type Wrapper[T any] struct {
	retry   *RetryPolicy[T]
	timeout *TimeoutPolicy[T]
}

// NewWrapper composes the given policies. Either may be nil.
func NewWrapper[T any](retry *RetryPolicy[T], timeout *TimeoutPolicy[T]) *Wrapper[T] {
	return &Wrapper[T]{retry: retry, timeout: timeout}
}

// TimeoutOnly runs a single attempt under a deadline.
func TimeoutOnly[T any](timeout time.Duration) *Wrapper[T] {
	return NewWrapper[T](nil, NewTimeoutPolicy[T](timeout))
}

// RetryOnly retries without a per-attempt deadline.
func RetryOnly[T any](cfg Config) *Wrapper[T] {
	return NewWrapper[T](NewRetryPolicy[T](cfg), nil)
}

// TimeoutWithRetry retries with a fixed delay between attempts.
func TimeoutWithRetry[T any](timeout time.Duration, maxAttempts int, delay time.Duration) *Wrapper[T] {
	cfg := Config{
		MaxAttempts:       maxAttempts,
		BaseDelay:         delay,
		MaxDelay:          delay,
		BackoffMultiplier: 1,
		RetryOnTimeout:    true,
		RetryOnError:      true,
	}
	return NewWrapper(NewRetryPolicy[T](cfg), NewTimeoutPolicy[T](timeout))
}

// TimeoutWithBackoff retries with exponential backoff between attempts.
func TimeoutWithBackoff[T any](
	timeout time.Duration,
	maxAttempts int,
	baseDelay, maxDelay time.Duration,
	multiplier float64,
) *Wrapper[T] {
	cfg := Config{
		MaxAttempts:       maxAttempts,
		BaseDelay:         baseDelay,
		MaxDelay:          maxDelay,
		BackoffMultiplier: multiplier,
		RetryOnTimeout:    true,
		RetryOnError:      true,
	}
	return NewWrapper(NewRetryPolicy[T](cfg), NewTimeoutPolicy[T](timeout))
}

// FromConfig builds a wrapper from a Config. A zero Timeout disables the deadline.
func FromConfig[T any](cfg Config) *Wrapper[T] {
	var timeout *TimeoutPolicy[T]
	if cfg.Timeout > 0 {
		timeout = NewTimeoutPolicy[T](cfg.Timeout)
	}
	return NewWrapper(NewRetryPolicy[T](cfg), timeout)
}

// Run executes op and reports the full outcome.
func (w *Wrapper[T]) Run(ctx context.Context, name string, op Operation[T]) Outcome[T] {
	guarded := op
	if w.timeout != nil {
		guarded = func(ctx context.Context) (T, error) {
			return w.timeout.Execute(ctx, name, op)
		}
	}

	if w.retry != nil {
		return w.retry.Execute(ctx, name, guarded)
	}

	start := time.Now()
	v, err := invoke(ctx, name, guarded)
	return Outcome[T]{Value: v, Err: err, Attempts: 1, Elapsed: time.Since(start)}
}

// Execute runs op and returns its value or the final error.
func (w *Wrapper[T]) Execute(ctx context.Context, name string, op Operation[T]) (T, error) {
	out := w.Run(ctx, name, op)
	return out.Value, out.Err
}

// ExecuteWithResult runs op and never lets an error escape.
func (w *Wrapper[T]) ExecuteWithResult(ctx context.Context, name string, op Operation[T]) domain.Result[T] {
	return w.Run(ctx, name, op).Result()
}

// RunResult executes a Result-returning operation under the wrapper.
func (w *Wrapper[T]) RunResult(ctx context.Context, name string, op ResultOperation[T]) Outcome[T] {
	return w.Run(ctx, name, fromResult(op))
}
