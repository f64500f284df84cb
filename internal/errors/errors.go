// Package errors defines the error taxonomy shared by the store, the
// provider and the HTTP layer. Callers match with errors.Is/errors.As.
package errors

import (
	"errors"
	"sort"
	"strings"
)

// Caller errors.
var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// Store errors.
var (
	ErrStore   = errors.New("store failure")
	ErrTimeout = errors.New("store timeout")
)

// ValidationError lists every field that failed validation, keyed by its
// JSON name.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError returns a ValidationError for a single field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: reason}}
}

// Add records another failing field.
func (e *ValidationError) Add(field, reason string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = reason
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}

	return ErrValidation.Error() + ": " + strings.Join(parts, ", ")
}

// Is reports ErrValidation as a match so callers need not know the
// concrete type.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
