package models

import (
	"errors"
	"fmt"
)

// ErrValidation matches any *ValidationError via errors.Is
var ErrValidation = errors.New("validation failed")

// ValidationError is returned for input rejected locally before any write
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
