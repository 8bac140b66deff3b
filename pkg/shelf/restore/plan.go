// Package restore plans and executes putting a plain zsh configuration back
// into the home directory: the original one from the backup, a promoted
// profile, or nothing at all.
package restore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jamesainslie/shelf/pkg/shelf/checksum"
	"github.com/jamesainslie/shelf/pkg/shelf/detect"
	"github.com/jamesainslie/shelf/pkg/shelf/fsutil"
	"github.com/jamesainslie/shelf/pkg/shelf/homecleanup"
	"github.com/jamesainslie/shelf/pkg/shelf/logging"
	"github.com/jamesainslie/shelf/pkg/shelf/manifest"
	"github.com/jamesainslie/shelf/pkg/shelf/profile"
)

var logger = logging.Get("restore")

// OperationKind is what a FileOperation does.
type OperationKind string

// Operation kinds.
const (
	OpCopy           OperationKind = "copy"
	OpMove           OperationKind = "move"
	OpRestoreSymlink OperationKind = "restore_symlink"
	OpExtract        OperationKind = "extract"
)

// HistoryHandling is how the shell history is treated.
type HistoryHandling string

// History handling modes.
const (
	HistoryRestore HistoryHandling = "restore"
	HistoryMerge   HistoryHandling = "merge"
	HistorySkip    HistoryHandling = "skip"
)

// FileOperation is one step of a plan. Paths are absolute.
type FileOperation struct {
	Source      string        `json:"source" yaml:"source"`
	Destination string        `json:"destination" yaml:"destination"`
	Operation   OperationKind `json:"operation" yaml:"operation"`
	Mode        fs.FileMode   `json:"mode" yaml:"mode"`

	// Checksum, when set, is the content the destination must end up with.
	Checksum string `json:"checksum,omitempty" yaml:"checksum,omitempty"`

	// SymlinkTarget is the link target for OpRestoreSymlink.
	SymlinkTarget string `json:"symlink_target,omitempty" yaml:"symlink_target,omitempty"`
}

// Plan is a complete description of a restoration. Building a plan touches
// nothing on disk.
type Plan struct {
	Option          Option          `json:"-" yaml:"-"`
	OptionName      string          `json:"option" yaml:"option"`
	FilesToRestore  []FileOperation `json:"files_to_restore" yaml:"files_to_restore"`
	FilesToRemove   []string        `json:"files_to_remove" yaml:"files_to_remove"`
	BackupSource    string          `json:"backup_source,omitempty" yaml:"backup_source,omitempty"`
	HistoryHandling HistoryHandling `json:"history_handling" yaml:"history_handling"`

	// HistorySource and HistoryDestination are set for HistoryMerge.
	HistorySource      string `json:"history_source,omitempty" yaml:"history_source,omitempty"`
	HistoryDestination string `json:"history_destination,omitempty" yaml:"history_destination,omitempty"`
}

// Input is what the planner consults.
type Input struct {
	Home        string
	ManagedRoot string
	BackupDir   string

	// Manifest is nil when no backup exists.
	Manifest *manifest.Manifest

	Profiles *profile.Store
}

// LoadInput loads the manifest from backupDir fresh. A missing manifest
// leaves Input.Manifest nil; any other load failure is returned.
func LoadInput(home, managedRoot, backupDir string) (Input, error) {
	in := Input{
		Home:        home,
		ManagedRoot: managedRoot,
		BackupDir:   backupDir,
		Profiles:    profile.NewStore(managedRoot),
	}
	m, err := manifest.Load(backupDir)
	switch {
	case errors.Is(err, manifest.ErrNotFound):
	case err != nil:
		return in, err
	default:
		in.Manifest = m
	}
	return in, nil
}

// Available lists the options that can be planned for in. RestoreOriginal
// is omitted when no manifest exists.
func Available(in Input) []Option {
	var opts []Option
	if in.Manifest != nil {
		opts = append(opts, RestoreOriginal{})
	}
	if in.Profiles != nil {
		if list, err := in.Profiles.List(); err == nil {
			for _, p := range list {
				opts = append(opts, PromoteProfile{ProfileID: p.ID})
			}
		}
	}
	return append(opts, CleanRemoval{})
}

// NewPlan builds the plan for opt. It returns a *PlanningError when the
// option cannot be carried out.
func NewPlan(opt Option, in Input) (*Plan, error) {
	var (
		p   *Plan
		err error
	)
	switch o := opt.(type) {
	case RestoreOriginal:
		p, err = planOriginal(in)
	case PromoteProfile:
		p, err = planPromote(o, in)
	case CleanRemoval:
		p, err = planClean(in)
	default:
		err = fmt.Errorf("unsupported option %T", opt)
	}
	if err != nil {
		return nil, &PlanningError{Option: opt, Err: err}
	}

	p.Option = opt
	p.OptionName = opt.String()
	logger.Debug("plan built",
		"option", p.OptionName,
		"restore", len(p.FilesToRestore),
		"remove", len(p.FilesToRemove),
		"history", p.HistoryHandling,
	)
	return p, nil
}

func planOriginal(in Input) (*Plan, error) {
	m := in.Manifest
	if m == nil {
		return nil, ErrRestoreUnavailable
	}

	p := &Plan{BackupSource: in.BackupDir, HistoryHandling: HistorySkip}
	restored := make(map[string]bool, len(m.Files))

	for _, f := range m.Files {
		op := FileOperation{
			Source:      filepath.Join(in.BackupDir, filepath.FromSlash(f.Path)),
			Destination: filepath.Join(in.Home, filepath.FromSlash(f.Path)),
			Operation:   OpCopy,
			Mode:        f.Permissions.Perm(),
			Checksum:    f.Checksum,
		}
		if f.IsSymlink() {
			op.Operation = OpRestoreSymlink
			op.SymlinkTarget = f.SymlinkTarget
		}
		if f.LineCount != nil {
			p.HistoryHandling = HistoryRestore
		}
		restored[f.Path] = true
		p.FilesToRestore = append(p.FilesToRestore, op)
	}

	if fb := m.FrameworkBackup; fb != nil {
		p.FilesToRestore = append(p.FilesToRestore, FileOperation{
			Source:      filepath.Join(in.BackupDir, filepath.FromSlash(fb.ArchiveFile)),
			Destination: in.Home,
			Operation:   OpExtract,
			Checksum:    fb.Checksum,
		})
	}

	if !restored[homecleanup.IntegrationFile] {
		p.FilesToRemove = append(p.FilesToRemove, filepath.Join(in.Home, homecleanup.IntegrationFile))
	}
	return p, nil
}

func planPromote(o PromoteProfile, in Input) (*Plan, error) {
	if in.Profiles == nil {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, o.ProfileID)
	}
	prof, err := in.Profiles.Get(o.ProfileID)
	if errors.Is(err, profile.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, o.ProfileID)
	}
	if err != nil {
		return nil, err
	}

	p := &Plan{BackupSource: prof.Dir}
	inProfile := make(map[string]bool, len(prof.Files))

	for _, name := range prof.Files {
		op, err := copyFrom(filepath.Join(prof.Dir, name), filepath.Join(in.Home, name))
		if err != nil {
			return nil, err
		}
		inProfile[name] = true
		p.FilesToRestore = append(p.FilesToRestore, op)
	}

	switch {
	case prof.SharedHistory:
		p.HistoryHandling = HistoryMerge
		p.HistorySource = in.Profiles.SharedHistory()
		p.HistoryDestination = filepath.Join(in.Home, detect.HistoryCandidates[0])
	case prof.HistoryFile != "":
		p.HistoryHandling = HistoryRestore
		op, err := copyFrom(filepath.Join(prof.Dir, prof.HistoryFile), filepath.Join(in.Home, prof.HistoryFile))
		if err != nil {
			return nil, err
		}
		p.FilesToRestore = append(p.FilesToRestore, op)
	default:
		p.HistoryHandling = HistorySkip
	}

	for _, name := range detect.ConfigCandidates {
		if inProfile[name] {
			continue
		}
		path := filepath.Join(in.Home, name)
		if fsutil.Exists(path) {
			p.FilesToRemove = append(p.FilesToRemove, path)
		}
	}
	return p, nil
}

func planClean(in Input) (*Plan, error) {
	p := &Plan{HistoryHandling: HistorySkip}

	p.FilesToRemove = append(p.FilesToRemove, filepath.Join(in.Home, homecleanup.IntegrationFile))
	if in.Profiles != nil {
		if list, err := in.Profiles.List(); err == nil {
			for _, prof := range list {
				p.FilesToRemove = append(p.FilesToRemove, prof.Dir)
			}
		}
	}
	if in.BackupDir != "" && fsutil.Exists(in.BackupDir) {
		p.FilesToRemove = append(p.FilesToRemove, in.BackupDir)
	}
	if in.ManagedRoot != "" {
		p.FilesToRemove = append(p.FilesToRemove, in.ManagedRoot)
	}
	return p, nil
}

func copyFrom(src, dst string) (FileOperation, error) {
	st, err := os.Stat(src)
	if err != nil {
		return FileOperation{}, fmt.Errorf("inspecting %s: %w", src, err)
	}
	sum, _, err := checksum.File(src)
	if err != nil {
		return FileOperation{}, fmt.Errorf("hashing %s: %w", src, err)
	}
	return FileOperation{
		Source:      src,
		Destination: dst,
		Operation:   OpCopy,
		Mode:        st.Mode().Perm(),
		Checksum:    sum,
	}, nil
}
