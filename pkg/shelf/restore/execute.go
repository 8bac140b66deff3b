package restore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/jamesainslie/shelf/pkg/shelf/archive"
	"github.com/jamesainslie/shelf/pkg/shelf/checksum"
	"github.com/jamesainslie/shelf/pkg/shelf/fsutil"
	"github.com/jamesainslie/shelf/pkg/shelf/homecleanup"
)

// Env is where a plan is executed.
type Env struct {
	Home        string
	ManagedRoot string

	// BackupDir is left to cleanup even when it lies outside ManagedRoot.
	BackupDir string
}

// ExecReport is the outcome of executing a plan.
type ExecReport struct {
	Restored []string `json:"restored" yaml:"restored"`
	Removed  []string `json:"removed,omitempty" yaml:"removed,omitempty"`

	// MovedAside lists unmanaged files that had to leave a config path;
	// they are renamed, never deleted.
	MovedAside []string `json:"moved_aside,omitempty" yaml:"moved_aside,omitempty"`

	// Degraded lists symlinks whose target no longer held the backed-up
	// content; the content was restored as a regular file instead.
	Degraded []string `json:"degraded,omitempty" yaml:"degraded,omitempty"`

	HistoryMerged int     `json:"history_merged_lines,omitempty" yaml:"history_merged_lines,omitempty"`
	Errors        []error `json:"-" yaml:"-"`
}

// OK reports whether every operation succeeded.
func (r *ExecReport) OK() bool {
	return len(r.Errors) == 0
}

// Err joins the collected errors, or returns nil.
func (r *ExecReport) Err() error {
	return errors.Join(r.Errors...)
}

func (r *ExecReport) fail(path, op string, err error) {
	logger.Warn("restore step failed", "op", op, "path", path, "error", err)
	r.Errors = append(r.Errors, &FileError{Path: path, Op: op, Err: err})
}

// Execute carries out plan. Failures are collected per file and the
// remaining operations still run; a cancelled context stops before the next
// operation and is recorded as an error. Paths inside the managed root are
// never removed here.
func Execute(ctx context.Context, plan *Plan, env Env) *ExecReport {
	r := &ExecReport{}
	stamp := time.Now().UTC().Format("20060102-150405")

	for _, op := range plan.FilesToRestore {
		if err := ctx.Err(); err != nil {
			r.fail(op.Destination, string(op.Operation), err)
			return r
		}
		if err := apply(ctx, op, r); err != nil {
			r.fail(op.Destination, string(op.Operation), err)
			continue
		}
		r.Restored = append(r.Restored, op.Destination)
	}

	if plan.HistoryHandling == HistoryMerge && plan.HistorySource != "" {
		n, err := MergeHistory(plan.HistorySource, plan.HistoryDestination)
		if err != nil {
			r.fail(plan.HistoryDestination, "merge_history", err)
		} else {
			r.HistoryMerged = n
		}
	}

	for _, path := range plan.FilesToRemove {
		if err := ctx.Err(); err != nil {
			r.fail(path, "remove", err)
			return r
		}
		remove(path, env, stamp, r)
	}

	logger.Info("plan executed",
		"option", plan.OptionName,
		"restored", len(r.Restored),
		"removed", len(r.Removed),
		"moved_aside", len(r.MovedAside),
		"errors", len(r.Errors),
	)
	return r
}

func apply(ctx context.Context, op FileOperation, r *ExecReport) error {
	switch op.Operation {
	case OpCopy:
		return copyVerified(op.Source, op.Destination, op.Mode, op.Checksum)
	case OpMove:
		if err := copyVerified(op.Source, op.Destination, op.Mode, op.Checksum); err != nil {
			return err
		}
		return os.Remove(op.Source)
	case OpRestoreSymlink:
		return restoreSymlink(op, r)
	case OpExtract:
		if op.Checksum != "" {
			sum, _, err := checksum.File(op.Source)
			if err != nil {
				return err
			}
			if sum != op.Checksum {
				return ErrChecksumMismatch
			}
		}
		_, err := archive.Extract(ctx, op.Source, op.Destination)
		return err
	default:
		return fmt.Errorf("unknown operation %q", op.Operation)
	}
}

// copyVerified copies src next to dst, checks the copy against sum, and
// renames it over dst. dst is replaced as a whole, so a symlink at dst is
// replaced rather than written through.
func copyVerified(src, dst string, mode fs.FileMode, sum string) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".shelf-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer func() { _ = os.Remove(tmpPath) }()

	got, _, err := fsutil.CopyFile(src, tmpPath, mode, 0o755)
	if err != nil {
		return err
	}
	if sum != "" && got != sum {
		return fmt.Errorf("%w: %s", ErrChecksumMismatch, src)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return err
	}
	fsutil.SyncDir(dir)
	return nil
}

// restoreSymlink recreates a link whose target still holds the backed-up
// content. Otherwise the content is restored as a regular file.
func restoreSymlink(op FileOperation, r *ExecReport) error {
	target := op.SymlinkTarget
	resolved := target
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(filepath.Dir(op.Destination), resolved)
	}

	if sum, _, err := checksum.File(resolved); err == nil && (op.Checksum == "" || sum == op.Checksum) {
		tmp := fmt.Sprintf("%s.shelf-link-%d", op.Destination, time.Now().UnixNano())
		if err := os.Symlink(target, tmp); err != nil {
			return err
		}
		if err := os.Rename(tmp, op.Destination); err != nil {
			_ = os.Remove(tmp)
			return err
		}
		return nil
	}

	logger.Warn("symlink target changed or missing; restoring content as a file",
		"path", op.Destination, "target", target)
	r.Degraded = append(r.Degraded, op.Destination)
	return copyVerified(op.Source, op.Destination, op.Mode, op.Checksum)
}

// remove deletes path when it is the generated integration file; an
// unmanaged file is renamed aside instead. Managed artifacts (the managed
// root and the backup dir) are skipped: cleanup owns them.
func remove(path string, env Env, stamp string, r *ExecReport) {
	if env.ManagedRoot != "" && fsutil.IsWithin(path, env.ManagedRoot) {
		return
	}
	if env.BackupDir != "" && fsutil.IsWithin(path, env.BackupDir) {
		return
	}
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err != nil {
		r.fail(path, "remove", err)
		return
	}

	if info.Mode().IsRegular() && homecleanup.IsGenerated(path) {
		if err := os.Remove(path); err != nil {
			r.fail(path, "remove", err)
			return
		}
		r.Removed = append(r.Removed, path)
		return
	}

	aside := path + ".shelf-replaced-" + stamp
	if err := os.Rename(path, aside); err != nil {
		r.fail(path, "move_aside", err)
		return
	}
	r.MovedAside = append(r.MovedAside, aside)
}
