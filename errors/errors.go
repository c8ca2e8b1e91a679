// Package errors provides the error taxonomy for the storage engine.
package errors

import (
	"errors"
	"fmt"
)

// Code identifies the class of failure that occurred.
type Code string

const (
	CodeValidation         Code = "VALIDATION_FAILURE"
	CodeBackendUnavailable Code = "BACKEND_UNAVAILABLE"
	CodeConflict           Code = "CONFLICT_DETECTED"
	CodeResolutionInvalid  Code = "RESOLUTION_INVALID"
	CodeTransactionAborted Code = "TRANSACTION_ABORTED"
	CodeStorage            Code = "STORAGE_FAILURE"
)

// Operation names the storage operation during which an error occurred.
type Operation string

const (
	OpGet         Operation = "get"
	OpSet         Operation = "set"
	OpRemove      Operation = "remove"
	OpBatch       Operation = "batch"
	OpTransaction Operation = "transaction"
	OpSubscribe   Operation = "subscribe"
	OpDetect      Operation = "conflict_detect"
	OpResolve     Operation = "conflict_resolve"
	OpAudit       Operation = "audit"
	OpFlush       Operation = "flush"
	OpClose       Operation = "close"
)

// StorageError is the structured error type used throughout the engine.
type StorageError struct {
	// Operation during which the error occurred
	Op Operation

	// Component that generated the error (e.g., "manager", "storage/sqlite")
	Component string

	// Error code for the failure class
	Code Code

	// Storage key involved, if any
	Key string

	// Underlying error
	Err error

	// Whether the operation can be retried
	Retryable bool

	// Metadata for additional context
	Metadata map[string]interface{}
}

func (e *StorageError) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s operation failed", e.Op)
	}

	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}
	if e.Key != "" {
		msg += fmt.Sprintf(" (key=%q)", e.Key)
	}

	return msg + fmt.Sprintf(": %v", e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a validation-related StorageError.
// Validation failures are never retryable: the record must change first.
func NewValidationError(op Operation, key string, cause error) *StorageError {
	return &StorageError{
		Code:      CodeValidation,
		Op:        op,
		Component: "validator",
		Key:       key,
		Err:       cause,
		Retryable: false,
	}
}

// NewUnavailableError creates a backend-unreachable StorageError.
func NewUnavailableError(op Operation, component string, cause error) *StorageError {
	return &StorageError{
		Code:      CodeBackendUnavailable,
		Op:        op,
		Component: component,
		Err:       cause,
		Retryable: true,
	}
}

// NewConflictError signals that a record has diverged between backends.
// It is a signal requiring resolution, not a hard failure.
func NewConflictError(op Operation, key string, cause error) *StorageError {
	return &StorageError{
		Code:      CodeConflict,
		Op:        op,
		Component: "conflict",
		Key:       key,
		Err:       cause,
		Retryable: false,
	}
}

// NewResolutionInvalidError signals that a computed resolution failed
// validation. The resolution is discarded and the original conflict remains
// open.
func NewResolutionInvalidError(cause error) *StorageError {
	return &StorageError{
		Code:      CodeResolutionInvalid,
		Op:        OpResolve,
		Component: "resolver",
		Err:       cause,
		Retryable: false,
	}
}

// NewTransactionAbortedError wraps the error that aborted a transaction after
// all buffered writes have been reverted.
func NewTransactionAbortedError(cause error) *StorageError {
	return &StorageError{
		Code:      CodeTransactionAborted,
		Op:        OpTransaction,
		Component: "manager",
		Err:       cause,
		Retryable: false,
	}
}

// NewStorageFailure creates a generic storage StorageError.
func NewStorageFailure(op Operation, component string, cause error) *StorageError {
	return &StorageError{
		Code:      CodeStorage,
		Op:        op,
		Component: component,
		Err:       cause,
		Retryable: true,
	}
}

// New creates a StorageError with no code classification.
func New(op Operation, err error) *StorageError {
	return &StorageError{
		Op:  op,
		Err: err,
	}
}

// NewWithComponent creates a StorageError with component information.
func NewWithComponent(op Operation, component string, err error) *StorageError {
	return &StorageError{
		Op:        op,
		Component: component,
		Err:       err,
	}
}

// As is a re-export of the standard library errors.As so callers do not need
// a second errors import.
func As(err error, target any) bool { return errors.As(err, target) }

// Is is a re-export of the standard library errors.Is.
func Is(err, target error) bool { return errors.Is(err, target) }

// IsRetryable checks if an error is a retryable StorageError.
func IsRetryable(err error) bool {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// IsCode reports whether err is a StorageError carrying the given code.
func IsCode(err error, code Code) bool {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool { return IsCode(err, CodeValidation) }

// IsUnavailable reports whether err is a backend-unreachable failure.
func IsUnavailable(err error) bool { return IsCode(err, CodeBackendUnavailable) }

// IsConflict reports whether err is a conflict signal.
func IsConflict(err error) bool { return IsCode(err, CodeConflict) }

// IsResolutionInvalid reports whether err is an invalid-resolution failure.
func IsResolutionInvalid(err error) bool { return IsCode(err, CodeResolutionInvalid) }

// IsTransactionAborted reports whether err is an aborted transaction.
func IsTransactionAborted(err error) bool { return IsCode(err, CodeTransactionAborted) }
