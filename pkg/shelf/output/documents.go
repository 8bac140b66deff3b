package output

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jamesainslie/shelf/pkg/shelf/backup"
	"github.com/jamesainslie/shelf/pkg/shelf/homecleanup"
	"github.com/jamesainslie/shelf/pkg/shelf/manifest"
	"github.com/jamesainslie/shelf/pkg/shelf/profile"
	"github.com/jamesainslie/shelf/pkg/shelf/restore"
	"github.com/jamesainslie/shelf/pkg/shelf/types"
	"github.com/jamesainslie/shelf/pkg/shelf/uninstall"
)

// errorStrings renders errors for the structured formatters, which cannot
// encode error values.
func errorStrings[E error](errs []E) []string {
	if len(errs) == 0 {
		return nil
	}
	out := make([]string, len(errs))
	for i, err := range errs {
		out[i] = err.Error()
	}
	return out
}

type detectionPayload struct {
	types.ShellConfigInfo `yaml:",inline"`
	Diagnostics           []string `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
}

// Detection describes what detection found in the home directory.
func Detection(info *types.ShellConfigInfo) *Document {
	d := &Document{
		Title: "Existing zsh configuration",
		Data:  detectionPayload{ShellConfigInfo: *info, Diagnostics: errorStrings(info.Diagnostics)},
	}
	d.AddField("Home", info.Home)
	if info.Framework != nil {
		d.AddField("Framework", fmt.Sprintf("%s (%s, %s)", info.Framework.Name,
			info.Framework.InstallPath, types.FormatSize(info.Framework.Size)))
	} else {
		d.AddField("Framework", "none")
	}
	if info.HistoryFile != nil {
		d.AddField("History", fmt.Sprintf("%s (%s lines)", info.HistoryFile.Path,
			humanize.Comma(int64(info.HistoryFile.LineCount))))
	}
	d.AddField("Total", types.FormatSize(info.TotalSize))

	s := Section{Title: "Files", Columns: []string{"path", "size", "mode", "link"}, Empty: "no zsh configuration found"}
	for _, f := range info.ConfigFiles {
		s.Rows = append(s.Rows, []string{f.Path, types.FormatSize(f.Size), types.FormatMode(f.Permissions), f.Target})
	}
	d.Sections = append(d.Sections, s)

	for _, diag := range info.Diagnostics {
		d.Warnings = append(d.Warnings, diag.Error())
	}
	return d
}

type backupPayload struct {
	Dir          string                     `json:"dir" yaml:"dir"`
	Manifest     *manifest.Manifest         `json:"manifest" yaml:"manifest"`
	Verification *backup.VerificationReport `json:"verification,omitempty" yaml:"verification,omitempty"`
}

// Backup describes a backup and, when rep is non-nil, its verification.
func Backup(dir string, m *manifest.Manifest, rep *backup.VerificationReport) *Document {
	d := &Document{
		Title: "Pre-shelf backup",
		Data:  backupPayload{Dir: dir, Manifest: m, Verification: rep},
	}
	d.AddField("Location", dir)
	d.AddField("Created", m.Metadata.CreatedAt.Local().Format(time.RFC1123))
	d.AddField("Age", humanize.Time(m.Metadata.CreatedAt))
	d.AddField("OS", m.Metadata.OS)
	if m.Metadata.ShellVersion != "" {
		d.AddField("Shell", m.Metadata.ShellVersion)
	}
	if m.Metadata.ToolVersion != "" {
		d.AddField("Shelf", m.Metadata.ToolVersion)
	}
	d.AddField("Size", types.FormatSize(m.TotalSize()))

	issues := map[string]backup.IssueType{}
	if rep != nil {
		for _, is := range rep.Issues {
			issues[is.FilePath] = is.Type
		}
	}
	status := func(path string) string {
		if rep == nil {
			return ""
		}
		if t, ok := issues[path]; ok {
			return string(t)
		}
		return "ok"
	}

	s := Section{Title: "Files", Columns: []string{"path", "size", "mode", "checksum", "status"}}
	for _, f := range m.Files {
		s.Rows = append(s.Rows, []string{f.Path, types.FormatSize(f.Size), f.Permissions.Perm().String(), shortSum(f.Checksum), status(f.Path)})
	}
	if fb := m.FrameworkBackup; fb != nil {
		s.Rows = append(s.Rows, []string{fb.ArchiveFile, types.FormatSize(fb.Size), "", shortSum(fb.Checksum), status(fb.ArchiveFile)})
	}
	d.Sections = append(d.Sections, s)

	if rep != nil {
		for _, is := range rep.Issues {
			if !is.Type.Fatal() {
				d.Warnings = append(d.Warnings, is.FilePath+": "+is.Message)
			}
		}
		if rep.OK() {
			d.Status = fmt.Sprintf("Backup verified: %d files intact", rep.FilesChecked)
		} else {
			d.Status = rep.Err().Error()
			d.Failed = true
		}
	}
	return d
}

type cleanupPayload struct {
	homecleanup.Report `yaml:",inline"`
	Errors             []string `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// HomeCleanup describes the move of original files out of the home
// directory.
func HomeCleanup(r *homecleanup.Report) *Document {
	d := &Document{
		Title: "Home directory handed over to shelf",
		Data:  cleanupPayload{Report: *r, Errors: errorStrings(r.Errors)},
	}
	if r.IntegrationFile != "" {
		d.AddField("Integration", r.IntegrationFile)
	}
	if r.FrameworkRemoved != "" {
		d.AddField("Framework", r.FrameworkRemoved+" (archived)")
	}
	d.Sections = append(d.Sections, pathSection("Removed from home", r.Removed), pathSection("Skipped", r.Skipped))
	d.Warnings = errorStrings(r.Errors)
	if !r.OK() {
		d.Status = fmt.Sprintf("%d files could not be removed", len(r.Errors))
		d.Failed = true
	}
	return d
}

// Profiles lists profiles.
func Profiles(list []profile.Profile) *Document {
	d := &Document{Title: "Profiles", Data: list}
	s := Section{Columns: []string{"id", "name", "framework", "history", "files", "active"}, Empty: "no profiles"}
	for _, p := range list {
		history := "own"
		switch {
		case p.SharedHistory:
			history = "shared"
		case p.HistoryFile == "":
			history = "none"
		}
		active := ""
		if p.Active {
			active = "*"
		}
		s.Rows = append(s.Rows, []string{p.ID, p.Name, p.Framework, history, strconv.Itoa(len(p.Files)), active})
	}
	d.Sections = append(d.Sections, s)
	return d
}

// Plan describes a restoration plan before it runs.
func Plan(p *restore.Plan) *Document {
	d := &Document{Title: "Restoration plan: " + p.OptionName, Data: p}
	if p.BackupSource != "" {
		d.AddField("Source", p.BackupSource)
	}
	history := string(p.HistoryHandling)
	if p.HistoryHandling == restore.HistoryMerge {
		history = fmt.Sprintf("merge %s into %s", p.HistorySource, p.HistoryDestination)
	}
	d.AddField("History", history)

	s := Section{Title: "Restore", Columns: []string{"operation", "destination", "source"}, Empty: "nothing to restore"}
	for _, op := range p.FilesToRestore {
		s.Rows = append(s.Rows, []string{string(op.Operation), op.Destination, filepath.Base(op.Source)})
	}
	d.Sections = append(d.Sections, s, pathSection("Remove", p.FilesToRemove))
	return d
}

type uninstallPayload struct {
	uninstall.Report `yaml:",inline"`
	State            uninstall.State `json:"state" yaml:"state"`
	Error            string          `json:"error,omitempty" yaml:"error,omitempty"`
	RestoreErrors    []string        `json:"restore_errors,omitempty" yaml:"restore_errors,omitempty"`
	CleanupErrors    []string        `json:"cleanup_errors,omitempty" yaml:"cleanup_errors,omitempty"`
}

// Uninstall describes a finished or aborted uninstall run.
func Uninstall(r *uninstall.Report) *Document {
	payload := uninstallPayload{Report: *r, State: r.State()}
	d := &Document{Title: "Uninstall"}
	d.AddField("Run", r.RunID)
	d.AddField("State", string(r.State()))
	if r.Plan != nil {
		d.AddField("Option", r.Plan.OptionName)
	}
	if r.SnapshotPath != "" {
		d.AddField("Snapshot", fmt.Sprintf("%s (%s)", r.SnapshotPath, types.FormatSize(r.SnapshotSize)))
	}

	trace := Section{Title: "Trace", Columns: []string{"from", "to", "note"}}
	for _, t := range r.Trace {
		trace.Rows = append(trace.Rows, []string{string(t.From), string(t.To), t.Note})
	}
	d.Sections = append(d.Sections, trace)

	if r.Restore != nil {
		payload.RestoreErrors = errorStrings(r.Restore.Errors)
		d.Sections = append(d.Sections, pathSection("Restored", r.Restore.Restored))
		if len(r.Restore.MovedAside) > 0 {
			d.Sections = append(d.Sections, pathSection("Moved aside", r.Restore.MovedAside))
		}
		for _, p := range r.Restore.Degraded {
			d.Warnings = append(d.Warnings, p+": symlink target changed, restored as a regular file")
		}
		d.Warnings = append(d.Warnings, payload.RestoreErrors...)
	}
	if r.Cleanup != nil {
		payload.CleanupErrors = errorStrings(r.Cleanup.Errors)
		removed := append(append([]string{}, r.Cleanup.Removed...), r.Cleanup.Trashed...)
		d.Sections = append(d.Sections, pathSection("Removed", removed))
		if len(r.Cleanup.Preserved) > 0 {
			d.Sections = append(d.Sections, pathSection("Preserved", r.Cleanup.Preserved))
		}
		d.Warnings = append(d.Warnings, payload.CleanupErrors...)
	}

	if r.Err != nil {
		payload.Error = r.Err.Error()
		d.Status = "Uninstall aborted: " + r.Err.Error()
		d.Failed = true
	} else {
		d.Status = "shelf uninstalled"
	}
	d.Data = payload
	return d
}

func pathSection(title string, paths []string) Section {
	s := Section{Title: title, Columns: []string{"path"}}
	for _, p := range paths {
		s.Rows = append(s.Rows, []string{p})
	}
	return s
}

func shortSum(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
