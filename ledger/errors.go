/*
errors.go - Centralized error types for the ledger

PURPOSE:
  All error kinds in one place. Callers branch with errors.Is on the
  sentinels and errors.As on the structured types when they need detail.

ERROR CATEGORIES:
  1. Validation errors - rejected before anything is persisted
  2. Not found - unknown member/group/expense/settlement id
  3. Conflict - another writer saved since we last loaded (retryable)
  4. Storage - the key-value adapter failed (retryable)
  5. Version - stored schema has no migration path

DESERIALIZATION:
  A stored blob that cannot be decoded is NOT an error: Load falls back to
  the empty default state and logs a warning.

SEE ALSO:
  - manager.go: produces Conflict/Storage/Version errors
  - validate.go: produces ValidationError
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced entity doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned when input would violate a ledger invariant.
	ErrValidation = errors.New("validation failed")

	// ErrConflict is returned when the stored revision moved under us.
	ErrConflict = errors.New("concurrent modification detected")

	// ErrStorage is returned when the key-value adapter fails.
	ErrStorage = errors.New("storage failure")

	// ErrUnsupportedVersion is returned when no migration path exists.
	ErrUnsupportedVersion = errors.New("unsupported schema version")

	// ErrCorruptState is returned by DecodeState for a blob that is not a
	// ledger at all. Load recovers from it; nothing else should.
	ErrCorruptState = errors.New("stored state is not decodable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field and why it was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ConflictError reports the revision we expected and the one found in storage.
type ConflictError struct {
	Expected int64
	Actual   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("concurrent modification: expected revision %d, found %d", e.Expected, e.Actual)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// StorageError wraps a failure from the key-value adapter.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}

// VersionError reports a stored schema version with no migration path.
type VersionError struct {
	Found   string
	Current string
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("stored schema version %q cannot be migrated to %q", e.Found, e.Current)
}

func (e *VersionError) Unwrap() error {
	return ErrUnsupportedVersion
}

func notFound(kind string, id any) error {
	return fmt.Errorf("%s %v: %w", kind, id, ErrNotFound)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry
// (after a Reload in the case of a conflict).
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrStorage)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
