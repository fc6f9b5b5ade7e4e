package policy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/printguard/internal/core/domain"
	"github.com/vietddude/printguard/internal/metrics"
)

// Outcome reports how a policy execution ended.
type Outcome[T any] struct {
	Value    T
	Err      error
	Attempts int
	Elapsed  time.Duration
}

// Success reports whether the operation eventually succeeded.
func (o Outcome[T]) Success() bool {
	return o.Err == nil
}

// Cancelled reports whether the caller stopped the execution.
func (o Outcome[T]) Cancelled() bool {
	return o.Err != nil && isCancellation(o.Err)
}

// Result converts the outcome into the uniform envelope.
func (o Outcome[T]) Result() domain.Result[T] {
	if o.Err != nil {
		return domain.FailErr[T](domain.CodeOperationFailed, o.Err)
	}
	return domain.OK(o.Value)
}

// RetryPolicy executes an operation up to MaxAttempts times with exponential backoff.
type RetryPolicy[T any] struct {
	cfg   Config
	slice time.Duration
	log   *slog.Logger
}

// NewRetryPolicy creates a retry policy. The config is copied and never mutated.
func NewRetryPolicy[T any](cfg Config) *RetryPolicy[T] {
	return &RetryPolicy[T]{
		cfg:   cfg.clone(),
		slice: cancelSlice,
		log:   slog.Default().With("component", "policy"),
	}
}

// Config returns a copy of the policy configuration.
func (p *RetryPolicy[T]) Config() Config {
	return p.cfg.clone()
}

// Execute runs op until it succeeds, fails with a non-retryable error,
// attempts run out, or ctx is cancelled. Cancellation is polled before each
// attempt and between backoff slices; an attempt in flight is never interrupted.
func (p *RetryPolicy[T]) Execute(ctx context.Context, name string, op Operation[T]) Outcome[T] {
	start := time.Now()
	var zero T
	var lastErr error
	attempts := 0

	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return p.cancelled(name, attempts, start, err)
		}

		attempts = attempt
		metrics.PolicyAttempts.WithLabelValues(name).Inc()

		value, err := invoke(ctx, name, op)
		if err == nil {
			metrics.PolicyOutcomes.WithLabelValues(name, "success").Inc()
			return Outcome[T]{Value: value, Attempts: attempt, Elapsed: time.Since(start)}
		}
		lastErr = err

		if isCancellation(err) && ctx.Err() != nil {
			return p.cancelled(name, attempts, start, ctx.Err())
		}

		if !p.cfg.retryable(err) {
			p.log.Debug("Attempt failed, not retryable", "operation", name, "attempt", attempt, "error", err)
			metrics.PolicyOutcomes.WithLabelValues(name, "failure").Inc()
			return Outcome[T]{Value: zero, Err: err, Attempts: attempt, Elapsed: time.Since(start)}
		}

		if attempt == p.cfg.MaxAttempts {
			break
		}

		delay := p.cfg.Delay(attempt)
		p.log.Debug("Attempt failed, backing off",
			"operation", name, "attempt", attempt, "delay", delay, "error", err)

		if err := sleepSliced(ctx, delay, p.slice); err != nil {
			return p.cancelled(name, attempts, start, err)
		}
	}

	metrics.PolicyOutcomes.WithLabelValues(name, "exhausted").Inc()
	return Outcome[T]{
		Value:    zero,
		Err:      &RetryExhaustedError{Operation: name, Attempts: attempts, Last: lastErr},
		Attempts: attempts,
		Elapsed:  time.Since(start),
	}
}

// ExecuteResult runs a Result-returning operation. A failed Result is retried
// exactly like a returned error.
func (p *RetryPolicy[T]) ExecuteResult(ctx context.Context, name string, op ResultOperation[T]) Outcome[T] {
	return p.Execute(ctx, name, fromResult(op))
}

func (p *RetryPolicy[T]) cancelled(name string, attempts int, start time.Time, cause error) Outcome[T] {
	metrics.PolicyOutcomes.WithLabelValues(name, "cancelled").Inc()
	return Outcome[T]{
		Err:      fmt.Errorf("policy: %s after %d attempts: %w: %w", name, attempts, domain.ErrCancelled, cause),
		Attempts: attempts,
		Elapsed:  time.Since(start),
	}
}
