package restore

import (
	"errors"
	"fmt"
)

var (
	// ErrRestoreUnavailable is returned when RestoreOriginal is planned but
	// no backup manifest exists. It is never answered with an empty plan.
	ErrRestoreUnavailable = errors.New("original configuration restore unavailable: no backup manifest")

	// ErrProfileNotFound is returned when promoting an unknown profile.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrChecksumMismatch is reported when a restored file does not match
	// the checksum recorded for it.
	ErrChecksumMismatch = errors.New("restored content does not match checksum")
)

// PlanningError reports why a plan could not be built for an option.
type PlanningError struct {
	Option Option
	Err    error
}

// Error implements the error interface.
func (e *PlanningError) Error() string {
	return fmt.Sprintf("planning %s: %v", e.Option, e.Err)
}

// Unwrap returns the underlying error.
func (e *PlanningError) Unwrap() error {
	return e.Err
}

// FileError is a failure to restore or remove a single path.
type FileError struct {
	Path string
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *FileError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *FileError) Unwrap() error {
	return e.Err
}
