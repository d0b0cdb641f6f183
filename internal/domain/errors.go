package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a DomainError with the same code and message,
// so a sentinel still matches after it was re-created with a cause.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithCause returns a copy of e carrying err as its cause.
func (e *DomainError) WithCause(err error) *DomainError {
	return NewDomainErrorWithCause(e.Code, e.Message, err)
}

// HasCode reports whether any DomainError in err's chain carries code.
func HasCode(err error, code string) bool {
	var de *DomainError
	if !errors.As(err, &de) {
		return false
	}
	return de.Code == code
}

// Common domain error codes
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeInvalidOperation = "INVALID_OPERATION"
	ErrCodeDisposed         = "DISPOSED"
)

// Validation errors
var (
	ErrNilEntity            = NewDomainError(ErrCodeValidation, "entity cannot be nil")
	ErrUnsupportedIsolation = NewDomainError(ErrCodeValidation, "isolation level is not supported")
	ErrMissingRequiredField = NewDomainError(ErrCodeValidation, "missing required field")
	ErrFieldTooLong         = NewDomainError(ErrCodeValidation, "field exceeds maximum length")
)

// Operation errors
var (
	ErrEntityNotTracked   = NewDomainError(ErrCodeInvalidOperation, "entity is not attached to this repository")
	ErrEntityNotPersisted = NewDomainError(ErrCodeInvalidOperation, "entity has never been persisted")
	ErrTransactionActive  = NewDomainError(ErrCodeInvalidOperation, "a transaction is already active on this connection")
)

// Disposed-resource errors
var (
	ErrTransactionDisposed = NewDomainError(ErrCodeDisposed, "transaction has been disposed")
	ErrRepositoryDisposed  = NewDomainError(ErrCodeDisposed, "repository has been disposed")
)

// Not found errors
var (
	ErrNoteNotFound            = NewDomainError(ErrCodeNotFound, "note not found")
	ErrEntityNotFound          = NewDomainError(ErrCodeNotFound, "entity no longer exists in storage")
	ErrRepositoryNotRegistered = NewDomainError(ErrCodeNotFound, "no repository registered for type")
)
