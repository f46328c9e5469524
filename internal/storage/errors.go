package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a click, offer or question does not
// exist. Callers translate it to a 404; no write happens.
var ErrNotFound = errors.New("not found")

// ValidationError rejects malformed or missing input before any write.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
