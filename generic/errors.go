/*
errors.go - Centralized error types for the versioning engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context; the API layer
  maps them onto HTTP status codes.

ERROR CATEGORIES:
  1. Validation errors - Bad input, rejected before any write (400)
  2. Not found errors  - Entity, version or snapshot absent (404)
  3. Conflict errors   - Entity not editable, restore target unknown (409)
  4. Integrity errors  - Aggregation or snapshot write failed (500)

USAGE:
  Domain packages return the structured errors and callers test with
  errors.Is against the sentinels:

    if errors.Is(err, generic.ErrConflict) {
        // 409
    }

SEE ALSO:
  - recargo/lifecycle.go: Returns these errors
  - api/handlers.go: Maps them to status codes
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned when input is missing or out of range.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when an entity, version or snapshot does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when the requested mutation is not allowed in
	// the entity's current state.
	ErrConflict = errors.New("conflict")

	// ErrIntegrity is returned when a write that must succeed inside a
	// transaction (aggregation, snapshot, history) fails.
	ErrIntegrity = errors.New("integrity failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Invalid is shorthand for a field-level ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError identifies what was looked up.
type NotFoundError struct {
	Kind string // e.g. "planilla", "snapshot", "version"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// ConflictError explains why the mutation was refused.
type ConflictError struct {
	ID     string
	Reason string
}

func (e *ConflictError) Error() string {
	if e.ID == "" {
		return "conflict: " + e.Reason
	}
	return fmt.Sprintf("conflict on %s: %s", e.ID, e.Reason)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// IntegrityError wraps the storage failure that forced a rollback.
// errors.Is matches both ErrIntegrity and the underlying cause.
type IntegrityError struct {
	Op  string
	Err error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity failure during %s: %v", e.Op, e.Err)
}

func (e *IntegrityError) Unwrap() []error {
	return []error{ErrIntegrity, e.Err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if the mutation was refused because of state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
