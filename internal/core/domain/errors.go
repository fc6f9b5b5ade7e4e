package domain

import (
	"context"
	"errors"
)

// Domain errors shared by every printguard package.
var (
	// ErrConnection is returned when a device connect or health probe fails.
	ErrConnection = errors.New("printguard: connection failed")

	// ErrNotConnected is returned when an operation needs a live connection.
	ErrNotConnected = errors.New("printguard: not connected")

	// ErrTimeout is returned when a policy deadline elapses before the operation settles.
	ErrTimeout = errors.New("printguard: operation timed out")

	// ErrRetryExhausted wraps the last failure after every attempt was used.
	ErrRetryExhausted = errors.New("printguard: retries exhausted")

	// ErrCancelled is returned when the caller cancels between attempts.
	ErrCancelled = errors.New("printguard: operation cancelled")

	// ErrCacheCorruption is reported by the cache self-check. It is never fatal.
	ErrCacheCorruption = errors.New("printguard: cache corrupted")

	// ErrCorrectionFailed is returned when a corrective command could not be issued.
	ErrCorrectionFailed = errors.New("printguard: correction failed")

	// ErrReadinessRead is returned when a readiness field cannot be read from the device.
	ErrReadinessRead = errors.New("printguard: readiness read failed")

	// ErrDiscovery is returned when device discovery fails.
	ErrDiscovery = errors.New("printguard: discovery failed")
)

var codeSentinels = map[ErrorCode]error{
	CodeConnectionFailed: ErrConnection,
	CodeNotConnected:     ErrNotConnected,
	CodeTimeout:          ErrTimeout,
	CodeRetryExhausted:   ErrRetryExhausted,
	CodeCancelled:        ErrCancelled,
	CodeDiscoveryFailed:  ErrDiscovery,
	CodeReadinessFailed:  ErrReadinessRead,
	CodeCorrectionFailed: ErrCorrectionFailed,
}

// CodeOf maps an error chain to its ErrorCode, returning fallback when nothing matches.
func CodeOf(err error, fallback ErrorCode) ErrorCode {
	switch {
	case err == nil:
		return fallback
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return CodeCancelled
	case errors.Is(err, ErrRetryExhausted):
		return CodeRetryExhausted
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, ErrNotConnected):
		return CodeNotConnected
	case errors.Is(err, ErrConnection):
		return CodeConnectionFailed
	case errors.Is(err, ErrReadinessRead):
		return CodeReadinessFailed
	case errors.Is(err, ErrCorrectionFailed):
		return CodeCorrectionFailed
	case errors.Is(err, ErrDiscovery):
		return CodeDiscoveryFailed
	default:
		return fallback
	}
}
