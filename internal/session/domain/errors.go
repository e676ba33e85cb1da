package domain

import (
	"fmt"

	"github.com/smallbiznis/ocpilink/internal/ocpi"
)

// ValidationError reports the first rule a value object violated.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ocpi.ErrInvalidParameters
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
