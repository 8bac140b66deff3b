// Package types provides the shared data model for shelf: what detection
// found in the home directory, how progress is reported, and helpers for
// parsing and formatting sizes.
package types

import (
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// Size constants for binary (IEC) units.
const (
	KiB int64 = 1024
	MiB int64 = 1024 * KiB
	GiB int64 = 1024 * MiB
	TiB int64 = 1024 * GiB
)

// ConfigFile describes a shell configuration file found in the home directory.
// Values are created during detection and never modified afterwards.
type ConfigFile struct {
	// Path is relative to the home directory (e.g. ".zshrc").
	Path string `json:"path" yaml:"path"`

	// Size is the size in bytes of the file content. For symlinks this is
	// the size of the link target.
	Size int64 `json:"size" yaml:"size"`

	// Permissions holds the raw permission bits of the content.
	Permissions fs.FileMode `json:"permissions" yaml:"permissions"`

	// IsSymlink reports whether the home entry is a symbolic link.
	IsSymlink bool `json:"is_symlink" yaml:"is_symlink"`

	// Target is the link target as stored in the link, set only for symlinks.
	Target string `json:"target,omitempty" yaml:"target,omitempty"`
}

// HistoryFile describes the shell history file.
type HistoryFile struct {
	Path      string `json:"path" yaml:"path"`
	Size      int64  `json:"size" yaml:"size"`
	LineCount int    `json:"line_count" yaml:"line_count"`
}

// FrameworkInfo describes an installed shell framework directory.
type FrameworkInfo struct {
	// Name is the framework's canonical name (e.g. "oh-my-zsh").
	Name string `json:"name" yaml:"name"`

	// InstallPath is the absolute path of the framework directory.
	InstallPath string `json:"install_path" yaml:"install_path"`

	// Size is the total size in bytes of all regular files in InstallPath.
	Size int64 `json:"size" yaml:"size"`
}

// Diagnostic records a non-fatal problem found while inspecting a path.
type Diagnostic struct {
	Path string `json:"path" yaml:"path"`
	Err  error  `json:"-" yaml:"-"`
}

// Error implements the error interface.
func (d Diagnostic) Error() string {
	return fmt.Sprintf("%s: %v", d.Path, d.Err)
}

// Unwrap returns the underlying error.
func (d Diagnostic) Unwrap() error {
	return d.Err
}

// ShellConfigInfo aggregates everything detection found. It is rebuilt on
// every detection call and never persisted.
type ShellConfigInfo struct {
	// Home is the absolute home directory the paths are relative to.
	Home string `json:"home" yaml:"home"`

	// ConfigFiles lists detected files, including the history file.
	ConfigFiles []ConfigFile `json:"config_files" yaml:"config_files"`

	HistoryFile *HistoryFile   `json:"history_file,omitempty" yaml:"history_file,omitempty"`
	Framework   *FrameworkInfo `json:"framework,omitempty" yaml:"framework,omitempty"`

	// TotalSize is the sum of all config file sizes plus the framework size.
	TotalSize int64 `json:"total_size" yaml:"total_size"`

	// Diagnostics holds paths that could not be inspected.
	Diagnostics []Diagnostic `json:"-" yaml:"-"`
}

// Partial reports whether detection skipped anything.
func (i *ShellConfigInfo) Partial() bool {
	return len(i.Diagnostics) > 0
}

// Empty reports whether nothing at all was detected.
func (i *ShellConfigInfo) Empty() bool {
	return len(i.ConfigFiles) == 0 && i.Framework == nil
}

// IsHistory reports whether rel is the detected history file.
func (i *ShellConfigInfo) IsHistory(rel string) bool {
	return i.HistoryFile != nil && i.HistoryFile.Path == rel
}

// ProgressFunc receives progress updates from long-running operations.
// done and total are byte counts; total may be zero when unknown.
type ProgressFunc func(done, total int64)

// sizePattern matches size strings like "100M", "2G", "500K", "1.5GB", etc.
var sizePattern = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([KMGT]?(?:i?B)?)\s*$`)

// ErrInvalidSize indicates that the size string could not be parsed.
var ErrInvalidSize = errors.New("invalid size format")

// ParseSize parses a human-readable size string such as "10MB" or "1G" and
// returns the size in bytes. Units are binary.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidSize)
	}

	matches := sizePattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}

	unit := strings.ToUpper(matches[2])
	unit = strings.TrimSuffix(unit, "IB")
	unit = strings.TrimSuffix(unit, "B")

	multipliers := map[string]int64{"": 1, "K": KiB, "M": MiB, "G": GiB, "T": TiB}
	multiplier, ok := multipliers[unit]
	if !ok {
		return 0, fmt.Errorf("%w: unknown suffix %q", ErrInvalidSize, unit)
	}

	return int64(value * float64(multiplier)), nil
}

// FormatSize converts a size in bytes to a human-readable IEC string,
// e.g. FormatSize(1536) returns "1.5 KiB".
func FormatSize(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	return humanize.IBytes(uint64(bytes))
}

// FormatMode renders permission bits the way ls does ("-rw-r--r--").
func FormatMode(mode fs.FileMode) string {
	return mode.Perm().String()
}
