package backup

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrIntegrity indicates a file changed or was copied incorrectly while
	// a backup was being taken.
	ErrIntegrity = errors.New("backup integrity check failed")

	// ErrVerificationFailed indicates a backup did not pass verification.
	// Nothing may be removed from home or restored from such a backup.
	ErrVerificationFailed = errors.New("backup verification failed")
)

// IntegrityError names the file whose checksum did not hold during backup.
type IntegrityError struct {
	Path     string
	Expected string
	Actual   string

	// Reason describes what diverged, e.g. "source changed during copy".
	Reason string
}

// Error implements the error interface.
func (e *IntegrityError) Error() string {
	msg := fmt.Sprintf("%s: %s", ErrIntegrity, e.Path)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Expected != "" || e.Actual != "" {
		msg += fmt.Sprintf(" (expected %s, got %s)", short(e.Expected), short(e.Actual))
	}
	return msg
}

// Unwrap returns ErrIntegrity.
func (e *IntegrityError) Unwrap() error {
	return ErrIntegrity
}

// VerificationError lists the paths that failed a fatal verification check.
type VerificationError struct {
	BackupDir string
	Paths     []string
}

// Error implements the error interface.
func (e *VerificationError) Error() string {
	return fmt.Sprintf("%s in %s: %s", ErrVerificationFailed, e.BackupDir, strings.Join(e.Paths, ", "))
}

// Unwrap returns ErrVerificationFailed.
func (e *VerificationError) Unwrap() error {
	return ErrVerificationFailed
}

func short(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	if sum == "" {
		return "-"
	}
	return sum
}
