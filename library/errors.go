package library

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a specific type of library error for programmatic handling.
type ErrorCode int

const (
	// Storage and consistency errors (200-299)
	ErrCodeNotFound ErrorCode = iota + 200
	ErrCodeInvalidIdentity
	ErrCodePartialDelete
	ErrCodeInconsistent
	ErrCodeStorage
)

// LibraryError provides structured error information for programmatic handling.
type LibraryError struct {
	Code     ErrorCode
	Op       string // Operation that failed (e.g., "AddAsset", "Load")
	Identity string // Optional: asset identity involved
	Message  string // Human-readable message
	Cause    error  // Underlying error
}

func (e *LibraryError) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	if e.Identity != "" {
		sb.WriteString(" (")
		sb.WriteString(e.Identity)
		sb.WriteString(")")
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *LibraryError) Unwrap() error {
	return e.Cause
}

func (e *LibraryError) Is(target error) bool {
	if t, ok := target.(*LibraryError); ok {
		return e.Code == t.Code
	}
	return false
}

// NewNotFoundError creates an error for a missing asset.
func NewNotFoundError(op, identity string) *LibraryError {
	return &LibraryError{
		Code:     ErrCodeNotFound,
		Op:       op,
		Identity: identity,
		Message:  "asset not found",
	}
}

// NewInvalidIdentityError creates an error for a malformed asset or
// category name.
func NewInvalidIdentityError(op, identity string) *LibraryError {
	return &LibraryError{
		Code:     ErrCodeInvalidIdentity,
		Op:       op,
		Identity: identity,
		Message:  "invalid asset identity",
	}
}

// NewPartialDeleteError creates an error for a delete that removed only one
// half of an asset. The remaining half is described in the message so it is
// reported, not hidden.
func NewPartialDeleteError(op, identity, remaining string, cause error) *LibraryError {
	return &LibraryError{
		Code:     ErrCodePartialDelete,
		Op:       op,
		Identity: identity,
		Message:  fmt.Sprintf("partial delete, %s still present", remaining),
		Cause:    cause,
	}
}

// NewStorageError creates an error for filesystem failures.
func NewStorageError(op string, cause error) *LibraryError {
	return &LibraryError{
		Code:    ErrCodeStorage,
		Op:      op,
		Message: "storage failure",
		Cause:   cause,
	}
}

// IsNotFoundError checks if an error indicates a missing asset.
func IsNotFoundError(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsPartialDeleteError checks if an error indicates an incomplete delete.
func IsPartialDeleteError(err error) bool {
	return hasCode(err, ErrCodePartialDelete)
}

func hasCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	var libErr *LibraryError
	if errors.As(err, &libErr) {
		return libErr.Code == code
	}
	return false
}
