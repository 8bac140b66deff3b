// Package snapshot archives the whole managed root before anything
// destructive happens to it, so an uninstall can always be undone by hand
// with tar.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jamesainslie/shelf/pkg/shelf/archive"
	"github.com/jamesainslie/shelf/pkg/shelf/diskspace"
	"github.com/jamesainslie/shelf/pkg/shelf/fsutil"
	"github.com/jamesainslie/shelf/pkg/shelf/logging"
	"github.com/jamesainslie/shelf/pkg/shelf/types"
)

var logger = logging.Get("snapshot")

// ErrSnapshotFailed is wrapped by every CreationError.
var ErrSnapshotFailed = errors.New("safety snapshot failed")

// CreationError describes why a snapshot could not be produced.
type CreationError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *CreationError) Error() string {
	return fmt.Sprintf("creating snapshot %s: %v", e.Path, e.Err)
}

// Unwrap exposes both ErrSnapshotFailed and the cause.
func (e *CreationError) Unwrap() []error {
	return []error{ErrSnapshotFailed, e.Err}
}

// Options configures Create.
type Options struct {
	// Progress receives archived content bytes against the managed root size.
	Progress types.ProgressFunc
}

const nameLayout = "20060102-150405"

// DefaultPath returns dir/shelf-snapshot-<YYYYMMDD-HHMMSS>.tar.gz for now.
func DefaultPath(dir string, now time.Time) string {
	return filepath.Join(dir, "shelf-snapshot-"+now.Format(nameLayout)+".tar.gz")
}

// Create writes a tar.gz of managedRoot to outputPath and returns its size.
// Entries are prefixed with the managed root's base name, so extracting the
// snapshot in the parent directory recreates the root. outputPath must lie
// outside managedRoot.
func Create(ctx context.Context, managedRoot, outputPath string, opts Options) (int64, error) {
	fail := func(err error) (int64, error) {
		logger.Error("snapshot failed", "path", outputPath, "error", err)
		return 0, &CreationError{Path: outputPath, Err: err}
	}

	root, err := filepath.Abs(managedRoot)
	if err != nil {
		return fail(err)
	}
	out, err := filepath.Abs(outputPath)
	if err != nil {
		return fail(err)
	}
	st, err := os.Stat(root)
	if err != nil {
		return fail(fmt.Errorf("managed root: %w", err))
	}
	if !st.IsDir() {
		return fail(fmt.Errorf("managed root %s is not a directory", root))
	}
	if fsutil.IsWithin(out, root) {
		return fail(fmt.Errorf("output %s lies inside the managed root", out))
	}

	size, err := fsutil.DirSize(root)
	if err != nil {
		return fail(fmt.Errorf("sizing managed root: %w", err))
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o700); err != nil {
		return fail(err)
	}
	if err := diskspace.Ensure(filepath.Dir(out), size); err != nil {
		return fail(err)
	}

	logger.Info("creating safety snapshot", "root", root, "path", out, "content", types.FormatSize(size))
	res, err := archive.CreateFile(ctx, root, out, archive.Options{
		Prefix:   filepath.Base(root),
		Progress: opts.Progress,
	})
	if err != nil {
		return fail(err)
	}

	// Trust the filesystem, not the writer.
	fi, err := os.Stat(out)
	if err != nil {
		return fail(fmt.Errorf("snapshot missing after write: %w", err))
	}
	if fi.Size() == 0 {
		return fail(errors.New("snapshot is empty"))
	}

	logger.Info("safety snapshot created", "path", out, "entries", res.Entries, "size", types.FormatSize(fi.Size()))
	return fi.Size(), nil
}
