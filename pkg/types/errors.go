package types

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by ingestion and search
var (
	// ErrValidation marks a malformed input record. Non-fatal during ingestion.
	ErrValidation = errors.New("validation error")
	// ErrDimensionMismatch is fatal to an ingestion run.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrRetrievalTimeout is returned by search when a blocking call exceeds its deadline.
	ErrRetrievalTimeout = errors.New("retrieval timeout")
	// ErrInvalidArgument marks caller-supplied parameters outside the contract.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrIndexUnavailable means a store could not be reached or opened.
	ErrIndexUnavailable = errors.New("index unavailable")
)

// ValidationError describes which field of a record failed validation
type ValidationError struct {
	RecordID string
	Field    string
	Reason   string
}

// NewValidationError creates a ValidationError for field
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.RecordID != "" {
		return fmt.Sprintf("validation error: %s: %s: %s", e.RecordID, e.Field, e.Reason)
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrValidation) hold for every ValidationError
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// DimensionError carries the expected and actual embedding sizes
type DimensionError struct {
	Expected int
	Actual   int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *DimensionError) Is(target error) bool {
	return target == ErrDimensionMismatch
}
