package browser

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrUnavailable      = errors.New("browser driver unavailable")
	ErrSessionClosed    = errors.New("browser session closed")
	ErrSessionExists    = errors.New("browser session already exists")
	ErrOperationTimeout = errors.New("operation timeout")
	ErrElementNotFound  = errors.New("element not found")
)

// Driver error codes.
const (
	CodeLaunch      = "launch"
	CodeTimeout     = "timeout"
	CodeClosed      = "closed"
	CodeUnavailable = "unavailable"
	CodeScript      = "script"
)

// DriverError wraps errors from a driver adapter with the failing operation.
type DriverError struct {
	Code    string
	Op      string
	Message string
	Err     error
}

func (e *DriverError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("driver error [%s] %s: %s: %v", e.Code, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("driver error [%s] %s: %s", e.Code, e.Op, e.Message)
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

// NewDriverError creates a new DriverError.
func NewDriverError(code, op, message string) *DriverError {
	return &DriverError{Code: code, Op: op, Message: message}
}

// WrapDriverError wraps an existing error with driver context.
func WrapDriverError(code, op, message string, err error) *DriverError {
	return &DriverError{Code: code, Op: op, Message: message, Err: err}
}

// IsTimeout reports whether err is a bounded wait that expired. Parent
// cancellation is not a timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrOperationTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var driverErr *DriverError
	if errors.As(err, &driverErr) {
		return driverErr.Code == CodeTimeout
	}
	return false
}

// IsClosed reports whether err means the page or context has gone away.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSessionClosed) {
		return true
	}
	var driverErr *DriverError
	if errors.As(err, &driverErr) {
		return driverErr.Code == CodeClosed
	}
	return false
}

// IsRetryableError returns true if the error might succeed on retry.
func IsRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if IsTimeout(err) || errors.Is(err, ErrElementNotFound) {
		return true
	}
	var driverErr *DriverError
	if errors.As(err, &driverErr) {
		switch driverErr.Code {
		case CodeTimeout, CodeUnavailable:
			return true
		}
	}
	return false
}
