// Package homecleanup moves the user's original configuration out of the
// home directory once a backup of it has passed verification, and installs
// the generated integration file in its place.
package homecleanup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jamesainslie/shelf/pkg/shelf/backup"
	"github.com/jamesainslie/shelf/pkg/shelf/checksum"
	"github.com/jamesainslie/shelf/pkg/shelf/fsutil"
	"github.com/jamesainslie/shelf/pkg/shelf/journal"
	"github.com/jamesainslie/shelf/pkg/shelf/logging"
	"github.com/jamesainslie/shelf/pkg/shelf/manifest"
)

var logger = logging.Get("homecleanup")

// ErrChangedSinceBackup is reported for a home file whose content no longer
// matches its backup. Such a file is left in place.
var ErrChangedSinceBackup = errors.New("file changed since backup")

// Request describes one home cleanup run.
type Request struct {
	Home        string
	ManagedRoot string

	// Manifest and Verification must describe the same backup; Verification
	// must be OK.
	Manifest     *manifest.Manifest
	Verification backup.VerificationReport

	// Journal, when set, advances each removed file to committed and lets
	// an interrupted run skip files already handled.
	Journal *journal.Journal

	// SkipIntegration leaves the integration file unwritten.
	SkipIntegration bool
}

// ItemError is a failure to remove one path.
type ItemError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *ItemError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *ItemError) Unwrap() error {
	return e.Err
}

// Report is the outcome of a cleanup run.
type Report struct {
	Removed          []string `json:"removed" yaml:"removed"`
	Skipped          []string `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	FrameworkRemoved string   `json:"framework_removed,omitempty" yaml:"framework_removed,omitempty"`
	IntegrationFile  string   `json:"integration_file,omitempty" yaml:"integration_file,omitempty"`
	Errors           []error  `json:"-" yaml:"-"`
}

// OK reports whether every item was handled.
func (r *Report) OK() bool {
	return len(r.Errors) == 0
}

func (r *Report) fail(path string, err error) {
	logger.Warn("home cleanup item failed", "path", path, "error", err)
	r.Errors = append(r.Errors, &ItemError{Path: path, Err: err})
}

// Run removes every backed-up original from home. It refuses to start
// unless the verification report passed. Per-file failures are collected
// in the report; the returned error is reserved for the refusal and for
// cancellation.
func Run(ctx context.Context, req Request) (*Report, error) {
	if req.Manifest == nil {
		return nil, fmt.Errorf("%w: no manifest", backup.ErrVerificationFailed)
	}
	if !req.Verification.OK() {
		return nil, req.Verification.Err()
	}

	r := &Report{}
	if req.Journal != nil {
		if err := req.Journal.Begin("home-cleanup"); err != nil {
			logger.Warn("recording cleanup session", "session", req.Journal.SessionID(), "error", err)
		}
	}

	for _, f := range req.Manifest.Files {
		if err := ctx.Err(); err != nil {
			return r, err
		}
		removeOriginal(req, f, r)
	}

	if fb := req.Manifest.FrameworkBackup; fb != nil {
		removeFramework(req, fb, r)
	}

	if !req.SkipIntegration {
		writeIntegration(req, r)
	}

	logger.Info("home cleanup finished",
		"removed", len(r.Removed),
		"skipped", len(r.Skipped),
		"errors", len(r.Errors),
	)
	return r, nil
}

func removeOriginal(req Request, f manifest.BackedUpFile, r *Report) {
	if req.Journal != nil && req.Journal.StateOf(f.Path) == journal.StateCommitted {
		r.Skipped = append(r.Skipped, f.Path)
		return
	}

	path := filepath.Join(req.Home, filepath.FromSlash(f.Path))
	if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
		r.Skipped = append(r.Skipped, f.Path)
		commit(req.Journal, f, r)
		return
	}

	sum, _, err := checksum.File(path)
	if err != nil {
		r.fail(f.Path, fmt.Errorf("hashing before removal: %w", err))
		return
	}
	if sum != f.Checksum {
		r.fail(f.Path, ErrChangedSinceBackup)
		return
	}

	// os.Remove on a symlink removes the link, never its target.
	if err := os.Remove(path); err != nil {
		r.fail(f.Path, err)
		return
	}
	r.Removed = append(r.Removed, f.Path)
	commit(req.Journal, f, r)
}

// commit advances f to committed, filling in earlier states for backups
// taken without a journal.
func commit(j *journal.Journal, f manifest.BackedUpFile, r *Report) {
	if j == nil {
		return
	}
	var steps []journal.State
	switch j.StateOf(f.Path) {
	case "":
		steps = []journal.State{journal.StateCopied, journal.StateVerified, journal.StateCommitted}
	case journal.StateCopied:
		steps = []journal.State{journal.StateVerified, journal.StateCommitted}
	case journal.StateVerified:
		steps = []journal.State{journal.StateCommitted}
	}
	for _, s := range steps {
		if err := j.Record(f.Path, s, f.Checksum); err != nil {
			r.fail(f.Path, fmt.Errorf("journaling: %w", err))
			return
		}
	}
}

func removeFramework(req Request, fb *manifest.FrameworkBackup, r *Report) {
	dir := filepath.Clean(fb.InstallPath)
	switch {
	case dir == filepath.Clean(req.Home) || !fsutil.IsWithin(dir, req.Home):
		r.fail(fb.InstallPath, errors.New("framework directory is not below home"))
		return
	case req.ManagedRoot != "" && fsutil.IsWithin(dir, req.ManagedRoot):
		r.fail(fb.InstallPath, errors.New("framework directory is inside the managed root"))
		return
	case !fsutil.Exists(dir):
		return
	}

	if err := os.RemoveAll(dir); err != nil {
		r.fail(fb.InstallPath, err)
		return
	}
	r.FrameworkRemoved = dir
	logger.Info("framework directory removed", "framework", fb.Name, "path", dir)
}

func writeIntegration(req Request, r *Report) {
	path := filepath.Join(req.Home, IntegrationFile)
	if fsutil.Exists(path) && !IsGenerated(path) {
		r.fail(IntegrationFile, errors.New("an unmanaged file is still in place; integration file not written"))
		return
	}
	written, err := WriteIntegration(req.Home, req.ManagedRoot)
	if err != nil {
		r.fail(IntegrationFile, err)
		return
	}
	r.IntegrationFile = written
}
