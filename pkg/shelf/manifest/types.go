package manifest

import (
	"fmt"
	"io/fs"
	"strconv"
	"time"
)

// Mode is a permission mode that serializes as an octal string ("0644").
type Mode fs.FileMode

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("%04o", fs.FileMode(m).Perm())), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	v, err := strconv.ParseUint(string(b), 8, 32)
	if err != nil {
		return fmt.Errorf("invalid permission mode %q: %w", b, err)
	}
	*m = Mode(fs.FileMode(v).Perm())
	return nil
}

// Perm returns the permission bits.
func (m Mode) Perm() fs.FileMode {
	return fs.FileMode(m).Perm()
}

// BackedUpFile is one file captured in a backup. Path is relative to both
// the home directory and the backup directory.
type BackedUpFile struct {
	Path        string `toml:"path" json:"path" yaml:"path"`
	Size        int64  `toml:"size" json:"size" yaml:"size"`
	Permissions Mode   `toml:"permissions" json:"permissions" yaml:"permissions"`
	Checksum    string `toml:"checksum" json:"checksum" yaml:"checksum"`

	// LineCount is set for history files only.
	LineCount *int `toml:"line_count,omitempty" json:"line_count,omitempty" yaml:"line_count,omitempty"`

	// SymlinkTarget is the original link target when the home entry was a
	// symlink. The backup always holds the target's content.
	SymlinkTarget string `toml:"symlink_target,omitempty" json:"symlink_target,omitempty" yaml:"symlink_target,omitempty"`
}

// IsSymlink reports whether the home entry was a symlink.
func (f BackedUpFile) IsSymlink() bool {
	return f.SymlinkTarget != ""
}

// Metadata describes when and where a backup was taken.
type Metadata struct {
	FormatVersion int       `toml:"format_version" json:"format_version" yaml:"format_version"`
	CreatedAt     time.Time `toml:"created_at" json:"created_at" yaml:"created_at"`
	OS            string    `toml:"os" json:"os" yaml:"os"`
	ShellVersion  string    `toml:"shell_version" json:"shell_version" yaml:"shell_version"`
	ToolVersion   string    `toml:"tool_version" json:"tool_version" yaml:"tool_version"`
}

// FrameworkBackup describes an archived framework directory.
type FrameworkBackup struct {
	Name string `toml:"name" json:"name" yaml:"name"`

	// ArchiveFile is relative to the backup directory.
	ArchiveFile string `toml:"archive_file" json:"archive_file" yaml:"archive_file"`
	Size        int64  `toml:"size" json:"size" yaml:"size"`
	Checksum    string `toml:"checksum" json:"checksum" yaml:"checksum"`

	// InstallPath is the absolute directory the archive was taken from.
	InstallPath string `toml:"install_path" json:"install_path" yaml:"install_path"`
}

// Manifest is the authoritative record of a completed backup. It exists on
// disk only once every file it lists has been copied and checksummed.
type Manifest struct {
	Metadata        Metadata         `toml:"metadata" json:"metadata" yaml:"metadata"`
	FrameworkBackup *FrameworkBackup `toml:"framework_backup,omitempty" json:"framework_backup,omitempty" yaml:"framework_backup,omitempty"`
	Files           []BackedUpFile   `toml:"files" json:"files" yaml:"files"`
}

// Find returns the entry for path, or nil.
func (m *Manifest) Find(path string) *BackedUpFile {
	for i := range m.Files {
		if m.Files[i].Path == path {
			return &m.Files[i]
		}
	}
	return nil
}

// TotalSize returns the bytes covered by the backup, archive included.
func (m *Manifest) TotalSize() int64 {
	var total int64
	for _, f := range m.Files {
		total += f.Size
	}
	if m.FrameworkBackup != nil {
		total += m.FrameworkBackup.Size
	}
	return total
}
