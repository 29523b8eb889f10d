package backend

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the transport layers.
type Kind int

const (
	// KindInternal is a store failure or any unexpected error.
	KindInternal Kind = iota
	// KindValidation is malformed input.
	KindValidation
	// KindConflict is a uniqueness violation, such as a duplicate device.
	KindConflict
	// KindNotFound is a missing entity or an empty result set.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// FieldError describes one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is a classified domain error. Message is safe to show to clients;
// Err holds the cause and is only logged.
type Error struct {
	Err     error
	Message string
	Fields  []FieldError
	Kind    Kind
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidationError reports rejected input.
func NewValidationError(message string, fields ...FieldError) *Error {
	return &Error{Kind: KindValidation, Message: message, Fields: fields}
}

// NewConflictError reports a uniqueness violation.
func NewConflictError(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

// NewNotFoundError reports a missing entity or empty result.
func NewNotFoundError(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// NewInternalError wraps err as an internal failure. Errors that are already
// classified are returned unchanged.
func NewInternalError(message string, err error) error {
	var classified *Error
	if errors.As(err, &classified) {
		return err
	}
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// KindOf returns the classification of err. Unclassified errors are internal.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return KindInternal
}

// IsNotFound reports whether err is classified as not found.
func IsNotFound(err error) bool {
	return err != nil && KindOf(err) == KindNotFound
}

// PublicMessage returns the client-facing message for err.
func PublicMessage(err error) string {
	var classified *Error
	if errors.As(err, &classified) {
		if classified.Kind == KindInternal {
			return "Internal server error"
		}
		return classified.Message
	}
	return "Internal server error"
}
