package policy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/printguard/internal/core/domain"
)

// TimeoutPolicy races an operation against a deadline; the first to settle wins.
//
// The losing operation is not interrupted. Its context is cancelled so
// cooperative device calls can stop early, but a call that ignores its context
// keeps running detached. Callers talking to a device that tolerates a single
// in-flight command must serialise per device above this layer.
type TimeoutPolicy[T any] struct {
	timeout        time.Duration
	throwOnTimeout bool
	log            *slog.Logger
}

// NewTimeoutPolicy creates a policy that fails with *TimeoutError on deadline.
// A zero timeout fails every call immediately without invoking the operation.
func NewTimeoutPolicy[T any](timeout time.Duration) *TimeoutPolicy[T] {
	return &TimeoutPolicy[T]{
		timeout:        timeout,
		throwOnTimeout: true,
		log:            slog.Default().With("component", "policy"),
	}
}

// NewSoftTimeoutPolicy creates a policy whose deadline failure is reported as an
// ordinary operation failure instead of a timeout-typed error. A RetryPolicy then
// classifies it under RetryOnError rather than RetryOnTimeout.
func NewSoftTimeoutPolicy[T any](timeout time.Duration) *TimeoutPolicy[T] {
	p := NewTimeoutPolicy[T](timeout)
	p.throwOnTimeout = false
	return p
}

// Timeout returns the configured deadline.
func (p *TimeoutPolicy[T]) Timeout() time.Duration {
	return p.timeout
}

type settled[T any] struct {
	value T
	err   error
}

// Execute runs op under the deadline.
func (p *TimeoutPolicy[T]) Execute(ctx context.Context, name string, op Operation[T]) (T, error) {
	var zero T
	if p.timeout <= 0 {
		return zero, p.deadlineErr(name)
	}
	if err := ctx.Err(); err != nil {
		return zero, fmt.Errorf("policy: %s: %w: %w", name, domain.ErrCancelled, err)
	}

	opCtx, cancel := context.WithCancel(ctx)
	done := make(chan settled[T], 1)
	go func() {
		v, err := invoke(opCtx, name, op)
		done <- settled[T]{value: v, err: err}
	}()

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		cancel()
		return out.value, out.err
	case <-timer.C:
		cancel()
		p.log.Debug("Operation lost timeout race", "operation", name, "timeout", p.timeout)
		return zero, p.deadlineErr(name)
	case <-ctx.Done():
		cancel()
		return zero, fmt.Errorf("policy: %s: %w: %w", name, domain.ErrCancelled, ctx.Err())
	}
}

// ExecuteWithResult runs op and converts every error, the timeout included, into a failed Result.
func (p *TimeoutPolicy[T]) ExecuteWithResult(ctx context.Context, name string, op Operation[T]) domain.Result[T] {
	v, err := p.Execute(ctx, name, op)
	if err != nil {
		return domain.FailErr[T](domain.CodeOperationFailed, err)
	}
	return domain.OK(v)
}

func (p *TimeoutPolicy[T]) deadlineErr(name string) error {
	if p.throwOnTimeout {
		return &TimeoutError{Operation: name, Timeout: p.timeout}
	}
	return fmt.Errorf("policy: %s did not complete within %s", name, p.timeout)
}
