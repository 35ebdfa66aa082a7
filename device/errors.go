package device

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a specific type of device error for programmatic handling.
type ErrorCode int

const (
	// Transport and manager errors (100-199)
	ErrCodeUnavailable ErrorCode = iota + 100
	ErrCodeConnectionFailed
	ErrCodeNotConnected
	ErrCodeTimeout
	ErrCodeSendFailed
	ErrCodeReceiveFailed
	ErrCodeUnknownTransport
	ErrCodeInvalidPayload
)

// Well-known failure reasons surfaced in Availability and connection errors.
const (
	ReasonPortBusy         = "port-busy"
	ReasonPermissionDenied = "permission-denied"
	ReasonNoSuchDevice     = "no-such-device"
	ReasonAdapterOff       = "adapter-off"
	ReasonPairingRequired  = "pairing-required"
	ReasonServiceNotFound  = "service-not-found"
)

// DeviceError provides structured error information for programmatic handling.
type DeviceError struct {
	Code    ErrorCode
	Op      string // Operation that failed (e.g., "Connect", "Send")
	Kind    Kind   // Optional: transport variant involved
	Reason  string // Optional: well-known failure reason
	Message string // Human-readable message
	Cause   error  // Underlying error
}

func (e *DeviceError) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	if e.Reason != "" {
		sb.WriteString(" (")
		sb.WriteString(e.Reason)
		sb.WriteString(")")
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *DeviceError) Unwrap() error {
	return e.Cause
}

func (e *DeviceError) Is(target error) bool {
	if t, ok := target.(*DeviceError); ok {
		return e.Code == t.Code
	}
	return false
}

// NewUnavailableError creates an error for a transport whose prerequisites
// are missing. Reason should be one of the well-known reason constants.
func NewUnavailableError(op string, kind Kind, reason string) *DeviceError {
	return &DeviceError{
		Code:    ErrCodeUnavailable,
		Op:      op,
		Kind:    kind,
		Reason:  reason,
		Message: "transport unavailable",
	}
}

// NewConnectionFailedError creates an error for a failed connection attempt.
func NewConnectionFailedError(op string, kind Kind, reason string, cause error) *DeviceError {
	return &DeviceError{
		Code:    ErrCodeConnectionFailed,
		Op:      op,
		Kind:    kind,
		Reason:  reason,
		Message: "connection failed",
		Cause:   cause,
	}
}

// NewNotConnectedError creates an error for operations attempted without an
// active session.
func NewNotConnectedError(op string) *DeviceError {
	return &DeviceError{
		Code:    ErrCodeNotConnected,
		Op:      op,
		Message: "not connected",
	}
}

// NewTimeoutError creates an error for a receive that saw no data within its
// bound. Timeout is a normal outcome, not a fault.
func NewTimeoutError(op string) *DeviceError {
	return &DeviceError{
		Code:    ErrCodeTimeout,
		Op:      op,
		Message: "no response within timeout",
	}
}

// NewSendError creates an error for transmit failures.
func NewSendError(op string, cause error) *DeviceError {
	return &DeviceError{
		Code:    ErrCodeSendFailed,
		Op:      op,
		Message: "send failed",
		Cause:   cause,
	}
}

// NewReceiveError creates an error for receive failures.
func NewReceiveError(op string, cause error) *DeviceError {
	return &DeviceError{
		Code:    ErrCodeReceiveFailed,
		Op:      op,
		Message: "receive failed",
		Cause:   cause,
	}
}

// IsUnavailableError checks if an error indicates a missing prerequisite.
func IsUnavailableError(err error) bool {
	return hasCode(err, ErrCodeUnavailable)
}

// IsConnectionFailedError checks if an error indicates a failed connection attempt.
func IsConnectionFailedError(err error) bool {
	return hasCode(err, ErrCodeConnectionFailed)
}

// IsNotConnectedError checks if an error indicates there is no active session.
func IsNotConnectedError(err error) bool {
	return hasCode(err, ErrCodeNotConnected)
}

// IsTimeoutError checks if an error is a receive timeout.
func IsTimeoutError(err error) bool {
	return hasCode(err, ErrCodeTimeout)
}

func hasCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	var devErr *DeviceError
	if errors.As(err, &devErr) {
		return devErr.Code == code
	}
	return false
}

// ErrorReason extracts the well-known failure reason from an error, or ""
// if the error is not a DeviceError or carries none.
func ErrorReason(err error) string {
	var devErr *DeviceError
	if errors.As(err, &devErr) {
		return devErr.Reason
	}
	return ""
}

// GetErrorCode extracts the ErrorCode from an error if it's a DeviceError.
// Returns 0 if the error is not a DeviceError.
func GetErrorCode(err error) ErrorCode {
	var devErr *DeviceError
	if errors.As(err, &devErr) {
		return devErr.Code
	}
	return 0
}

// Errorf creates a DeviceError with a formatted message.
func Errorf(code ErrorCode, op, format string, args ...interface{}) *DeviceError {
	return &DeviceError{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}
