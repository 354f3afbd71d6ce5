// Package fault defines the error taxonomy shared by the store, the outbox
// scheduler and the handshake pipeline.
package fault

import (
	"errors"
	"fmt"
)

// Code classifies an error for propagation decisions.
type Code string

const (
	// CodeValidation marks input rejected before any mutation took place.
	CodeValidation Code = "VALIDATION"
	// CodeSend marks a transient network failure, recovered by retry.
	CodeSend Code = "SEND"
	// CodeStorage marks an I/O failure on the underlying persistence.
	CodeStorage Code = "STORAGE"
	// CodeDuplicate marks a deliberately suppressed duplicate event.
	// Not a true failure; surfaced only for logging and tests.
	CodeDuplicate Code = "DUPLICATE_SUPPRESSED"
)

// Error is a coded application error.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates a coded error without a cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a coded error wrapping a cause.
func Wrap(code Code, message string, cause error) error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func Validation(msg string) error { return New(CodeValidation, msg) }

func Send(msg string, cause error) error { return Wrap(CodeSend, msg, cause) }

func Storage(msg string, cause error) error { return Wrap(CodeStorage, msg, cause) }

// Domain errors.
var (
	ErrInvalidIdentity     = Validation("identity must be 64 lowercase hex characters")
	ErrEmptyRecipient      = Validation("message must target a peer or a group")
	ErrDuplicateSuppressed = New(CodeDuplicate, "duplicate peer event suppressed")
)

// CodeOf returns the code of err when it is (or wraps) a coded error.
func CodeOf(err error) (Code, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code, true
	}
	return "", false
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	c, ok := CodeOf(err)
	return ok && c == CodeValidation
}

// IsSend reports whether err is a transient send error.
func IsSend(err error) bool {
	c, ok := CodeOf(err)
	return ok && c == CodeSend
}

// IsDuplicate reports whether err signals a suppressed duplicate.
func IsDuplicate(err error) bool {
	c, ok := CodeOf(err)
	return ok && c == CodeDuplicate
}
