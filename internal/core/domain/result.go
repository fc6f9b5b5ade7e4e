package domain

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a failed Result so callers can branch without string matching.
type ErrorCode string

const (
	CodeConnectionFailed ErrorCode = "CONNECTION_ERROR"
	CodeNotConnected     ErrorCode = "NOT_CONNECTED"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeRetryExhausted   ErrorCode = "RETRY_EXHAUSTED"
	CodeCancelled        ErrorCode = "OPERATION_CANCELLED"
	CodeDiscoveryFailed  ErrorCode = "DISCOVERY_FAILED"
	CodeReadinessFailed  ErrorCode = "READINESS_READ_FAILED"
	CodeCorrectionFailed ErrorCode = "CORRECTION_FAILED"
	CodeNotReady         ErrorCode = "DEVICE_NOT_READY"
	CodePrintFailed      ErrorCode = "PRINT_FAILED"
	CodePersistence      ErrorCode = "PERSISTENCE_FAILED"
	CodeInvalidArgument  ErrorCode = "INVALID_ARGUMENT"
	CodeOperationFailed  ErrorCode = "OPERATION_FAILED"
)

// ErrorInfo is the error half of a Result.
type ErrorInfo struct {
	Message string    `json:"message"`
	Code    ErrorCode `json:"code"`

	// Err keeps the original error for errors.Is/As. It is not serialised.
	Err error `json:"-"`
}

// Error implements error so an ErrorInfo can travel through error-returning APIs.
func (e *ErrorInfo) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error, if any.
func (e *ErrorInfo) Unwrap() error {
	return e.Err
}

// Is matches the sentinel that corresponds to the code, so a failure Result
// classifies the same way as the error it was built from.
func (e *ErrorInfo) Is(target error) bool {
	sentinel, ok := codeSentinels[e.Code]
	return ok && sentinel == target
}

// Result is the uniform envelope returned by public operations.
// Callers branch on Success instead of inspecting errors for expected failures.
type Result[T any] struct {
	Success bool       `json:"success"`
	Data    T          `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// OK wraps data in a successful Result.
func OK[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: data}
}

// Fail builds a failed Result with an explicit code and message.
func Fail[T any](code ErrorCode, message string) Result[T] {
	return Result[T]{Error: &ErrorInfo{Message: message, Code: code}}
}

// FailErr builds a failed Result from err, deriving the code from the error chain
// when it carries one and falling back to code otherwise.
func FailErr[T any](code ErrorCode, err error) Result[T] {
	if err == nil {
		return Fail[T](code, "unknown error")
	}
	if info, ok := err.(*ErrorInfo); ok {
		return Result[T]{Error: &ErrorInfo{Message: info.Message, Code: info.Code, Err: info.Err}}
	}
	var info *ErrorInfo
	if errors.As(err, &info) {
		code = info.Code
	}
	return Result[T]{Error: &ErrorInfo{Message: err.Error(), Code: CodeOf(err, code), Err: err}}
}

// FailWith builds a failed Result carrying err under an explicit code,
// ignoring any code the chain would imply.
func FailWith[T any](code ErrorCode, err error) Result[T] {
	if err == nil {
		return Fail[T](code, "unknown error")
	}
	return Result[T]{Error: &ErrorInfo{Message: err.Error(), Code: code, Err: err}}
}

// Err returns the failure as an error, or nil on success.
func (r Result[T]) Err() error {
	if r.Success {
		return nil
	}
	if r.Error == nil {
		return &ErrorInfo{Message: "operation failed", Code: CodeOperationFailed}
	}
	return r.Error
}

// Code returns the failure code, or "" on success.
func (r Result[T]) Code() ErrorCode {
	if r.Success || r.Error == nil {
		return ""
	}
	return r.Error.Code
}

// Unwrap returns the data and the failure as a Go error pair.
func (r Result[T]) Unwrap() (T, error) {
	return r.Data, r.Err()
}
