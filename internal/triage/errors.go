package triage

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

var (
	// ErrNotFound means the row does not exist or the caller may not see it
	ErrNotFound = errors.New("not found")

	// ErrForbidden means the caller is authenticated but lacks the role
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidInput marks request validation failures
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict means the row is in a state that does not allow the change
	ErrConflict = errors.New("conflict")

	// ErrUnknownPatient means a result names a patient with no profile
	ErrUnknownPatient = fmt.Errorf("%w: patient has no profile", ErrInvalidInput)
)

// ValidationError lists every problem found in an intake.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, k := range sortedKeys(e.Fields) {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

// Unwrap lets errors.Is(err, ErrInvalidInput) match.
func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, exists := e.Fields[field]; !exists {
		e.Fields[field] = msg
	}
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

func sortedKeys(m map[string]string) []string {
	return slices.Sorted(maps.Keys(m))
}
