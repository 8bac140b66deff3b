// Package cleanup removes what shelf installed: the managed root and the
// generated integration file. It runs last in an uninstall, after the
// restored configuration is in place.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/jamesainslie/shelf/pkg/shelf/fsutil"
	"github.com/jamesainslie/shelf/pkg/shelf/homecleanup"
	"github.com/jamesainslie/shelf/pkg/shelf/logging"
)

var logger = logging.Get("cleanup")

// BackupsDir is the managed-root directory kept by Config.KeepBackups.
const BackupsDir = "backups"

// Config selects what is removed.
type Config struct {
	ManagedRoot string
	Home        string

	// BackupDir is removed too when it lies outside the managed root,
	// unless KeepBackups is set.
	BackupDir string

	// KeepBackups preserves <root>/backups and BackupDir.
	KeepBackups bool

	// Preserve holds doublestar globs, relative to the managed root, of
	// paths left in place.
	Preserve []string

	// UseTrash moves items to the system trash instead of deleting them.
	UseTrash bool
}

// ItemError is a failure to remove one path.
type ItemError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *ItemError) Error() string {
	return fmt.Sprintf("removing %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *ItemError) Unwrap() error {
	return e.Err
}

// Report lists what cleanup did.
type Report struct {
	Removed            []string `json:"removed" yaml:"removed"`
	Trashed            []string `json:"trashed,omitempty" yaml:"trashed,omitempty"`
	Preserved          []string `json:"preserved,omitempty" yaml:"preserved,omitempty"`
	IntegrationRemoved bool     `json:"integration_removed" yaml:"integration_removed"`
	Errors             []error  `json:"-" yaml:"-"`
}

// OK reports whether every item was removed.
func (r *Report) OK() bool {
	return len(r.Errors) == 0
}

// Err joins the collected errors, or returns nil.
func (r *Report) Err() error {
	return errors.Join(r.Errors...)
}

func (r *Report) fail(path string, err error) {
	logger.Warn("cleanup item failed", "path", path, "error", err)
	r.Errors = append(r.Errors, &ItemError{Path: path, Err: err})
}

// All removes the managed root, keeping preserved paths, and the
// integration file when it is still the generated one. It continues past
// per-item failures and collects them in the report.
func All(ctx context.Context, cfg Config) *Report {
	r := &Report{}
	rm := newRemover(cfg.UseTrash)

	rootExists := cfg.ManagedRoot != "" && fsutil.Exists(cfg.ManagedRoot)
	var keep []string
	if rootExists {
		var err error
		if keep, err = preserved(cfg); err != nil {
			r.fail(cfg.ManagedRoot, err)
			return r
		}
	}

	if cfg.Home != "" {
		removeIntegration(ctx, cfg.Home, rm, r)
	}

	if rootExists {
		for _, rel := range keep {
			r.Preserved = append(r.Preserved, filepath.Join(cfg.ManagedRoot, filepath.FromSlash(rel)))
		}
		if len(keep) == 0 {
			removeOne(ctx, cfg.ManagedRoot, rm, r)
		} else {
			prune(ctx, cfg.ManagedRoot, "", keep, rm, r)
		}
	}

	if cfg.BackupDir != "" && !cfg.KeepBackups && !fsutil.IsWithin(cfg.BackupDir, cfg.ManagedRoot) && fsutil.Exists(cfg.BackupDir) {
		removeOne(ctx, cfg.BackupDir, rm, r)
	}

	logger.Info("cleanup finished",
		"removed", len(r.Removed),
		"trashed", len(r.Trashed),
		"preserved", len(r.Preserved),
		"errors", len(r.Errors),
	)
	return r
}

func removeIntegration(ctx context.Context, home string, rm *remover, r *Report) {
	p := filepath.Join(home, homecleanup.IntegrationFile)
	if !fsutil.Exists(p) {
		return
	}
	if !homecleanup.IsGenerated(p) {
		logger.Info("integration file edited by hand, leaving it", "path", p)
		return
	}
	if removeOne(ctx, p, rm, r) {
		r.IntegrationRemoved = true
	}
}

func removeOne(ctx context.Context, p string, rm *remover, r *Report) bool {
	if err := ctx.Err(); err != nil {
		r.fail(p, err)
		return false
	}
	trashed, err := rm.remove(ctx, p)
	if err != nil {
		r.fail(p, err)
		return false
	}
	if trashed {
		r.Trashed = append(r.Trashed, p)
	} else {
		r.Removed = append(r.Removed, p)
	}
	return true
}

// preserved returns the slash-separated managed-root paths to keep.
func preserved(cfg Config) ([]string, error) {
	set := make(map[string]bool)
	if cfg.KeepBackups && fsutil.Exists(filepath.Join(cfg.ManagedRoot, BackupsDir)) {
		set[BackupsDir] = true
	}

	fsys := os.DirFS(cfg.ManagedRoot)
	for _, pattern := range cfg.Preserve {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid preserve pattern %q", pattern)
		}
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, fmt.Errorf("expanding preserve pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			if m != "." {
				set[m] = true
			}
		}
	}

	keep := make([]string, 0, len(set))
	for p := range set {
		keep = append(keep, p)
	}
	sort.Strings(keep)
	return keep, nil
}

// prune removes everything below dir except kept paths and their parents.
func prune(ctx context.Context, root, rel string, keep []string, rm *remover, r *Report) {
	dir := filepath.Join(root, filepath.FromSlash(rel))
	entries, err := os.ReadDir(dir)
	if err != nil {
		r.fail(dir, err)
		return
	}
	for _, e := range entries {
		child := path.Join(rel, e.Name())
		switch {
		case isKept(child, keep):
		case e.Type()&fs.ModeDir != 0 && holdsKept(child, keep):
			prune(ctx, root, child, keep, rm, r)
		default:
			removeOne(ctx, filepath.Join(root, filepath.FromSlash(child)), rm, r)
		}
	}
}

func isKept(rel string, keep []string) bool {
	for _, k := range keep {
		if rel == k || strings.HasPrefix(rel, k+"/") {
			return true
		}
	}
	return false
}

func holdsKept(rel string, keep []string) bool {
	for _, k := range keep {
		if strings.HasPrefix(k, rel+"/") {
			return true
		}
	}
	return false
}
