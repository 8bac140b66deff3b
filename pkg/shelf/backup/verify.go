package backup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jamesainslie/shelf/pkg/shelf/checksum"
	"github.com/jamesainslie/shelf/pkg/shelf/manifest"
	"github.com/jamesainslie/shelf/pkg/shelf/types"
)

// IssueType classifies a verification problem.
type IssueType string

// Issue types. Missing, SizeMismatch, and ChecksumMismatch are fatal;
// PermissionMismatch is reported only.
const (
	IssueMissing            IssueType = "missing"
	IssueSizeMismatch       IssueType = "size_mismatch"
	IssueChecksumMismatch   IssueType = "checksum_mismatch"
	IssuePermissionMismatch IssueType = "permission_mismatch"
)

// Fatal reports whether the issue blocks use of the backup.
func (t IssueType) Fatal() bool {
	return t != IssuePermissionMismatch
}

// VerificationIssue is one problem found in a backup.
type VerificationIssue struct {
	FilePath string    `json:"file_path" yaml:"file_path"`
	Type     IssueType `json:"type" yaml:"type"`
	Message  string    `json:"message" yaml:"message"`
}

// VerificationReport is the result of checking a backup against its
// manifest.
type VerificationReport struct {
	BackupDir       string              `json:"backup_dir" yaml:"backup_dir"`
	AllFilesPresent bool                `json:"all_files_present" yaml:"all_files_present"`
	ChecksumsValid  bool                `json:"checksums_valid" yaml:"checksums_valid"`
	FilesChecked    int                 `json:"files_checked" yaml:"files_checked"`
	Issues          []VerificationIssue `json:"issues,omitempty" yaml:"issues,omitempty"`
}

// OK reports whether the backup may be relied on.
func (r VerificationReport) OK() bool {
	return r.AllFilesPresent && r.ChecksumsValid
}

// Err returns a *VerificationError naming every path with a fatal issue,
// or nil when the report is OK.
func (r VerificationReport) Err() error {
	if r.OK() {
		return nil
	}
	var paths []string
	seen := make(map[string]bool)
	for _, is := range r.Issues {
		if is.Type.Fatal() && !seen[is.FilePath] {
			seen[is.FilePath] = true
			paths = append(paths, is.FilePath)
		}
	}
	return &VerificationError{BackupDir: r.BackupDir, Paths: paths}
}

// Verify checks every file in m, and the framework archive if any, against
// the copies in backupDir. A size mismatch is reported instead of a checksum
// mismatch, so each damaged file yields a single fatal issue.
func Verify(m *manifest.Manifest, backupDir string) VerificationReport {
	r := VerificationReport{
		BackupDir:       backupDir,
		AllFilesPresent: true,
		ChecksumsValid:  true,
	}

	for _, f := range m.Files {
		r.check(filepath.Join(backupDir, filepath.FromSlash(f.Path)), f.Path, f.Size, f.Checksum, f.Permissions.Perm(), true)
	}
	if fb := m.FrameworkBackup; fb != nil {
		r.check(filepath.Join(backupDir, filepath.FromSlash(fb.ArchiveFile)), fb.ArchiveFile, fb.Size, fb.Checksum, 0, false)
	}

	if r.OK() {
		logger.Debug("backup verified", "dir", backupDir, "files", r.FilesChecked, "issues", len(r.Issues))
	} else {
		logger.Error("backup verification failed", "dir", backupDir, "issues", len(r.Issues))
	}
	return r
}

// VerifyDir loads the manifest from backupDir and verifies against it.
func VerifyDir(backupDir string) (*manifest.Manifest, VerificationReport, error) {
	m, err := manifest.Load(backupDir)
	if err != nil {
		return nil, VerificationReport{BackupDir: backupDir}, err
	}
	return m, Verify(m, backupDir), nil
}

func (r *VerificationReport) check(path, rel string, size int64, sum string, perm fs.FileMode, checkPerm bool) {
	r.FilesChecked++

	info, err := os.Lstat(path)
	if err != nil {
		r.AllFilesPresent = false
		msg := err.Error()
		if errors.Is(err, fs.ErrNotExist) {
			msg = "not found in backup"
		}
		r.add(rel, IssueMissing, msg)
		return
	}
	if !info.Mode().IsRegular() {
		r.AllFilesPresent = false
		r.add(rel, IssueMissing, fmt.Sprintf("not a regular file (%s)", info.Mode().Type()))
		return
	}

	if info.Size() != size {
		r.ChecksumsValid = false
		r.add(rel, IssueSizeMismatch, fmt.Sprintf("size %s, manifest records %s",
			types.FormatSize(info.Size()), types.FormatSize(size)))
		return
	}

	got, _, err := checksum.File(path)
	if err != nil {
		r.ChecksumsValid = false
		r.add(rel, IssueChecksumMismatch, fmt.Sprintf("cannot read: %v", err))
		return
	}
	if got != sum {
		r.ChecksumsValid = false
		r.add(rel, IssueChecksumMismatch, fmt.Sprintf("%s %s, manifest records %s", checksum.Algorithm, short(got), short(sum)))
		return
	}

	if checkPerm && info.Mode().Perm() != perm {
		r.add(rel, IssuePermissionMismatch, fmt.Sprintf("mode %s, manifest records %s",
			types.FormatMode(info.Mode().Perm()), types.FormatMode(perm)))
	}
}

func (r *VerificationReport) add(rel string, t IssueType, msg string) {
	r.Issues = append(r.Issues, VerificationIssue{FilePath: rel, Type: t, Message: msg})
}
