// Package manifest reads and writes backup-manifest.toml, the record of a
// completed backup.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/jamesainslie/shelf/pkg/shelf/fsutil"
	"github.com/jamesainslie/shelf/pkg/shelf/logging"
	"github.com/pelletier/go-toml/v2"
)

var logger = logging.Get("manifest")

// FileName is the manifest's name inside a backup directory.
const FileName = "backup-manifest.toml"

// FormatVersion is written into every new manifest.
const FormatVersion = 1

var (
	// ErrNotFound is returned by Load when the directory holds no manifest.
	ErrNotFound = errors.New("backup manifest not found")

	// ErrManifestExists is returned by Save when a manifest is already present
	// and force was not requested.
	ErrManifestExists = errors.New("backup manifest already exists")

	// ErrInvalid is returned for a manifest whose entries cannot be trusted.
	ErrInvalid = errors.New("invalid backup manifest")
)

// Path returns the manifest path inside dir.
func Path(dir string) string {
	return filepath.Join(dir, FileName)
}

// Exists reports whether dir holds a manifest.
func Exists(dir string) bool {
	_, err := os.Stat(Path(dir))
	return err == nil
}

// Load reads the manifest in dir. Unknown fields are ignored so newer
// manifests remain readable.
func Load(dir string) (*Manifest, error) {
	data, err := os.ReadFile(Path(dir)) //nolint:gosec // G304: backup dir comes from config
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w in %s", ErrNotFound, dir)
	}
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var m Manifest
	if err := toml.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Save writes m into dir atomically. An existing manifest is never
// overwritten: without force Save fails with ErrManifestExists, with force
// the old file is first renamed to backup-manifest.toml.<timestamp>.bak.
func Save(dir string, m *Manifest, force bool) error {
	if err := m.Validate(); err != nil {
		return err
	}

	target := Path(dir)
	if fsutil.Exists(target) {
		if !force {
			return fmt.Errorf("%w: %s", ErrManifestExists, target)
		}
		aside := fmt.Sprintf("%s.%s.bak", target, time.Now().UTC().Format("20060102-150405.000000000"))
		if err := os.Rename(target, aside); err != nil {
			return fmt.Errorf("moving existing manifest aside: %w", err)
		}
		logger.Info("existing manifest moved aside", "path", aside)
	}

	if m.Metadata.FormatVersion == 0 {
		m.Metadata.FormatVersion = FormatVersion
	}

	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}

	if err := fsutil.WriteAtomic(target, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	logger.Debug("manifest written", "path", target, "files", len(m.Files))
	return nil
}

// Validate checks that every entry is a clean relative path that stays
// inside the backup directory, and that no path is listed twice.
func (m *Manifest) Validate() error {
	seen := make(map[string]bool, len(m.Files))
	for _, f := range m.Files {
		if err := checkRel(f.Path); err != nil {
			return fmt.Errorf("%w: file %q: %w", ErrInvalid, f.Path, err)
		}
		if seen[f.Path] {
			return fmt.Errorf("%w: file %q listed twice", ErrInvalid, f.Path)
		}
		seen[f.Path] = true
		if f.Checksum == "" {
			return fmt.Errorf("%w: file %q has no checksum", ErrInvalid, f.Path)
		}
	}
	if fb := m.FrameworkBackup; fb != nil {
		if err := checkRel(fb.ArchiveFile); err != nil {
			return fmt.Errorf("%w: framework archive %q: %w", ErrInvalid, fb.ArchiveFile, err)
		}
	}
	return nil
}

func checkRel(p string) error {
	switch {
	case p == "":
		return errors.New("empty path")
	case path.IsAbs(p) || filepath.IsAbs(p):
		return errors.New("absolute path")
	case path.Clean(p) != p:
		return errors.New("path is not clean")
	case p == ".." || strings.HasPrefix(p, "../"):
		return errors.New("path escapes backup directory")
	}
	return nil
}
