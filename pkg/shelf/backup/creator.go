// Package backup creates and verifies the backup of a user's pre-existing
// shell configuration. A backup directory holds a byte-exact copy of every
// detected file, an optional framework archive, and a manifest that is
// written only after every copy has been checksummed.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/jamesainslie/shelf/pkg/shelf/archive"
	"github.com/jamesainslie/shelf/pkg/shelf/checksum"
	"github.com/jamesainslie/shelf/pkg/shelf/diskspace"
	"github.com/jamesainslie/shelf/pkg/shelf/fsutil"
	"github.com/jamesainslie/shelf/pkg/shelf/journal"
	"github.com/jamesainslie/shelf/pkg/shelf/logging"
	"github.com/jamesainslie/shelf/pkg/shelf/manifest"
	"github.com/jamesainslie/shelf/pkg/shelf/types"
)

var logger = logging.Get("backup")

// DirMode is the permission of a backup directory and its subdirectories.
const DirMode = 0o700

// Options configures a Creator.
type Options struct {
	// Force moves an existing backup aside instead of refusing.
	Force bool

	// ArchiveFramework archives a detected framework directory.
	ArchiveFramework bool

	// ToolVersion and ShellVersion are recorded in the manifest metadata.
	ToolVersion  string
	ShellVersion string

	// Progress receives byte progress across all copies and the archive.
	Progress types.ProgressFunc

	// Journal, when set, records each file as copied and then verified.
	Journal *journal.Journal
}

// Creator takes backups.
type Creator struct {
	opts Options
	now  func() time.Time

	// afterCopy runs after each file copy and before the source is
	// re-hashed.
	afterCopy func(rel string)
}

// NewCreator returns a Creator with the given options.
func NewCreator(opts Options) *Creator {
	return &Creator{opts: opts, now: time.Now}
}

// Create backs up everything in info into backupDir and returns the written
// manifest. On any failure backupDir does not exist afterwards, and a backup
// that was moved aside by Force is moved back.
func (c *Creator) Create(ctx context.Context, info *types.ShellConfigInfo, backupDir string) (*manifest.Manifest, error) {
	backupDir = filepath.Clean(backupDir)

	if manifest.Exists(backupDir) && !c.opts.Force {
		return nil, fmt.Errorf("%w: %s (use force to replace it)", manifest.ErrManifestExists, manifest.Path(backupDir))
	}

	superseded, err := c.moveAside(backupDir)
	if err != nil {
		return nil, err
	}

	m, err := c.create(ctx, info, backupDir)
	if err != nil {
		if rmErr := os.RemoveAll(backupDir); rmErr != nil {
			logger.Error("removing partial backup", "dir", backupDir, "error", rmErr)
		}
		if superseded != "" {
			if mvErr := os.Rename(superseded, backupDir); mvErr != nil {
				logger.Error("restoring superseded backup", "from", superseded, "error", mvErr)
				return nil, fmt.Errorf("%w (previous backup left at %s)", err, superseded)
			}
		}
		return nil, err
	}

	if superseded != "" {
		logger.Info("previous backup superseded", "path", superseded)
	}
	return m, nil
}

// moveAside renames an existing backupDir out of the way and returns its new
// path, or "" when there was nothing to move.
func (c *Creator) moveAside(backupDir string) (string, error) {
	if !fsutil.Exists(backupDir) {
		return "", nil
	}
	aside := fmt.Sprintf("%s.superseded-%s", backupDir, c.now().UTC().Format("20060102-150405"))
	for i := 1; fsutil.Exists(aside); i++ {
		aside = fmt.Sprintf("%s.superseded-%s-%d", backupDir, c.now().UTC().Format("20060102-150405"), i)
	}
	if err := os.Rename(backupDir, aside); err != nil {
		return "", fmt.Errorf("moving existing backup aside: %w", err)
	}
	return aside, nil
}

func (c *Creator) create(ctx context.Context, info *types.ShellConfigInfo, backupDir string) (*manifest.Manifest, error) {
	parent := filepath.Dir(backupDir)
	if err := os.MkdirAll(parent, DirMode); err != nil {
		return nil, fmt.Errorf("creating backup parent: %w", err)
	}
	if err := diskspace.Ensure(parent, info.TotalSize); err != nil {
		return nil, err
	}

	if err := os.Mkdir(backupDir, DirMode); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}
	if err := os.Chmod(backupDir, DirMode); err != nil {
		return nil, fmt.Errorf("setting backup directory permissions: %w", err)
	}

	if j := c.opts.Journal; j != nil {
		if err := j.Reset(); err != nil {
			return nil, err
		}
		if err := j.Begin("backup"); err != nil {
			return nil, fmt.Errorf("recording backup session: %w", err)
		}
		logger.Info("backup session started", "session", j.SessionID(), "dir", backupDir)
	}

	tracked := make(map[string]string, len(info.ConfigFiles))
	for _, cf := range info.ConfigFiles {
		tracked[filepath.Join(info.Home, cf.Path)] = cf.Path
		if cf.IsSymlink {
			if target, err := filepath.EvalSymlinks(filepath.Join(info.Home, cf.Path)); err == nil {
				tracked[target] = cf.Path
			}
		}
	}
	guard, err := newSourceGuard(tracked)
	if err != nil {
		// Checksums still catch concurrent modification.
		logger.Warn("source guard unavailable", "error", err)
	} else {
		defer guard.Close()
	}

	m := &manifest.Manifest{
		Metadata: manifest.Metadata{
			FormatVersion: manifest.FormatVersion,
			CreatedAt:     c.now().UTC(),
			OS:            runtime.GOOS,
			ShellVersion:  c.opts.ShellVersion,
			ToolVersion:   c.opts.ToolVersion,
		},
	}

	progress := newProgress(c.opts.Progress, info.TotalSize)

	for _, cf := range info.ConfigFiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		entry, err := c.copyOne(info, cf, backupDir)
		if err != nil {
			return nil, err
		}
		if guard != nil && guard.Touched(cf.Path) {
			return nil, &IntegrityError{Path: cf.Path, Reason: "source modified during backup"}
		}
		m.Files = append(m.Files, entry)
		progress.add(entry.Size)
	}

	if fw := info.Framework; fw != nil && c.opts.ArchiveFramework {
		fb, err := c.archiveFramework(ctx, info, backupDir, progress)
		if err != nil {
			return nil, err
		}
		m.FrameworkBackup = fb
	}

	if guard != nil {
		if rel := guard.First(); rel != "" {
			return nil, &IntegrityError{Path: rel, Reason: "source modified during backup"}
		}
	}

	if err := manifest.Save(backupDir, m, false); err != nil {
		return nil, err
	}
	fsutil.SyncDir(backupDir)

	logger.Info("backup created",
		"dir", backupDir,
		"files", len(m.Files),
		"framework", m.FrameworkBackup != nil,
		"size", types.FormatSize(m.TotalSize()),
	)
	return m, nil
}

// copyOne copies a single file and proves the copy matches the source as
// it was before the copy began.
func (c *Creator) copyOne(info *types.ShellConfigInfo, cf types.ConfigFile, backupDir string) (manifest.BackedUpFile, error) {
	src := filepath.Join(info.Home, cf.Path)
	dst := filepath.Join(backupDir, cf.Path)

	before, _, err := checksum.File(src)
	if err != nil {
		return manifest.BackedUpFile{}, fmt.Errorf("hashing %s: %w", cf.Path, err)
	}

	copied, n, err := fsutil.CopyFile(src, dst, cf.Permissions, DirMode)
	if err != nil {
		return manifest.BackedUpFile{}, fmt.Errorf("copying %s: %w", cf.Path, err)
	}
	if c.opts.Journal != nil {
		if err := c.opts.Journal.Record(cf.Path, journal.StateCopied, copied); err != nil {
			return manifest.BackedUpFile{}, fmt.Errorf("journaling %s: %w", cf.Path, err)
		}
	}

	if c.afterCopy != nil {
		c.afterCopy(cf.Path)
	}

	after, _, err := checksum.File(src)
	if err != nil {
		return manifest.BackedUpFile{}, fmt.Errorf("re-hashing %s: %w", cf.Path, err)
	}
	if after != before {
		return manifest.BackedUpFile{}, &IntegrityError{Path: cf.Path, Expected: before, Actual: after, Reason: "source changed during copy"}
	}

	onDisk, _, err := checksum.File(dst)
	if err != nil {
		return manifest.BackedUpFile{}, fmt.Errorf("hashing copy of %s: %w", cf.Path, err)
	}
	if copied != before || onDisk != before {
		return manifest.BackedUpFile{}, &IntegrityError{Path: cf.Path, Expected: before, Actual: onDisk, Reason: "copy does not match source"}
	}

	if c.opts.Journal != nil {
		if err := c.opts.Journal.Record(cf.Path, journal.StateVerified, ""); err != nil {
			return manifest.BackedUpFile{}, fmt.Errorf("journaling %s: %w", cf.Path, err)
		}
	}

	entry := manifest.BackedUpFile{
		Path:        cf.Path,
		Size:        n,
		Permissions: manifest.Mode(cf.Permissions.Perm()),
		Checksum:    before,
	}
	if cf.IsSymlink {
		entry.SymlinkTarget = cf.Target
	}
	if info.IsHistory(cf.Path) {
		lines := info.HistoryFile.LineCount
		entry.LineCount = &lines
	}

	logger.Debug("file backed up", "path", cf.Path, "size", n)
	return entry, nil
}

func (c *Creator) archiveFramework(ctx context.Context, info *types.ShellConfigInfo, backupDir string, progress *progress) (*manifest.FrameworkBackup, error) {
	fw := info.Framework
	name := fw.Name + ".tar.gz"

	prefix := filepath.Base(fw.InstallPath)
	if fsutil.IsWithin(fw.InstallPath, info.Home) {
		if rel, err := filepath.Rel(info.Home, fw.InstallPath); err == nil {
			prefix = rel
		}
	}

	base := progress.done
	res, err := archive.CreateFile(ctx, fw.InstallPath, filepath.Join(backupDir, name), archive.Options{
		Prefix: filepath.ToSlash(prefix),
		Progress: func(done, _ int64) {
			progress.set(base + done)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("archiving framework %s: %w", fw.Name, err)
	}

	logger.Info("framework archived", "framework", fw.Name, "entries", res.Entries, "size", types.FormatSize(res.Size))
	return &manifest.FrameworkBackup{
		Name:        fw.Name,
		ArchiveFile: name,
		Size:        res.Size,
		Checksum:    res.Checksum,
		InstallPath: fw.InstallPath,
	}, nil
}

// progress aggregates byte progress over several steps.
type progress struct {
	fn    types.ProgressFunc
	total int64
	done  int64
}

func newProgress(fn types.ProgressFunc, total int64) *progress {
	return &progress{fn: fn, total: total}
}

func (p *progress) add(n int64) {
	p.set(p.done + n)
}

func (p *progress) set(done int64) {
	p.done = done
	if p.fn != nil {
		p.fn(done, p.total)
	}
}
