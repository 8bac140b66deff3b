// Package profile reads the profiles kept in the managed root. Each profile
// is a directory under <root>/profiles holding a profile.toml and the zsh
// files that make up that profile.
package profile

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jamesainslie/shelf/pkg/shelf/detect"
	"github.com/jamesainslie/shelf/pkg/shelf/logging"
	"github.com/pelletier/go-toml/v2"
)

var logger = logging.Get("profile")

// Layout names inside the managed root.
const (
	ProfilesDir       = "profiles"
	MetadataFile      = "profile.toml"
	ActiveFile        = "active"
	SharedHistoryPath = "history/shared_history"
)

// ErrNotFound is returned for an unknown profile id.
var ErrNotFound = errors.New("profile not found")

// Metadata is the content of profile.toml.
type Metadata struct {
	Name          string    `toml:"name" json:"name" yaml:"name"`
	Framework     string    `toml:"framework,omitempty" json:"framework,omitempty" yaml:"framework,omitempty"`
	SharedHistory bool      `toml:"shared_history" json:"shared_history" yaml:"shared_history"`
	CreatedAt     time.Time `toml:"created_at" json:"created_at" yaml:"created_at"`
}

// Profile is a profile as found on disk.
type Profile struct {
	Metadata `yaml:",inline"`

	ID  string `json:"id" yaml:"id"`
	Dir string `json:"dir" yaml:"dir"`

	// Files are the zsh startup files present in Dir, relative to it.
	Files []string `json:"files" yaml:"files"`

	// HistoryFile is the profile's own history file relative to Dir, or "".
	HistoryFile string `json:"history_file,omitempty" yaml:"history_file,omitempty"`

	Active bool `json:"active" yaml:"active"`
}

// Store reads profiles from a managed root. It never writes.
type Store struct {
	root string
}

// NewStore returns a Store for managedRoot.
func NewStore(managedRoot string) *Store {
	return &Store{root: managedRoot}
}

// Root returns the managed root.
func (s *Store) Root() string {
	return s.root
}

// Dir returns the directory of profile id.
func (s *Store) Dir(id string) string {
	return filepath.Join(s.root, ProfilesDir, id)
}

// SharedHistory returns the path of the shared history file.
func (s *Store) SharedHistory() string {
	return filepath.Join(s.root, filepath.FromSlash(SharedHistoryPath))
}

// Active returns the active profile id, or "" when none is set.
func (s *Store) Active() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.root, ActiveFile)) //nolint:gosec // G304: fixed name under managed root
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading active profile: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// List returns every profile sorted by id. Directories without a readable
// profile.toml are skipped with a warning.
func (s *Store) List() ([]Profile, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, ProfilesDir))
	if errors.Is(err, fs.ErrNotExist) {
		return []Profile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing profiles: %w", err)
	}

	active, err := s.Active()
	if err != nil {
		return nil, err
	}

	profiles := make([]Profile, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		p, err := s.load(e.Name(), active)
		if err != nil {
			logger.Warn("skipping unreadable profile", "id", e.Name(), "error", err)
			continue
		}
		profiles = append(profiles, *p)
	}

	sort.Slice(profiles, func(i, j int) bool { return profiles[i].ID < profiles[j].ID })
	return profiles, nil
}

// Get returns profile id.
func (s *Store) Get(id string) (*Profile, error) {
	if id == "" || id != filepath.Base(id) || id == "." || id == ".." {
		return nil, fmt.Errorf("%w: invalid id %q", ErrNotFound, id)
	}
	if st, err := os.Stat(s.Dir(id)); err != nil || !st.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	active, err := s.Active()
	if err != nil {
		return nil, err
	}
	return s.load(id, active)
}

func (s *Store) load(id, active string) (*Profile, error) {
	dir := s.Dir(id)
	data, err := os.ReadFile(filepath.Join(dir, MetadataFile)) //nolint:gosec // G304: profile dir under managed root
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", MetadataFile, err)
	}

	var meta Metadata
	if err := toml.NewDecoder(bytes.NewReader(data)).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", MetadataFile, err)
	}
	if meta.Name == "" {
		meta.Name = id
	}

	p := &Profile{Metadata: meta, ID: id, Dir: dir, Active: id == active}
	for _, name := range detect.ConfigCandidates {
		if isRegular(filepath.Join(dir, name)) {
			p.Files = append(p.Files, name)
		}
	}
	for _, name := range detect.HistoryCandidates {
		if isRegular(filepath.Join(dir, name)) {
			p.HistoryFile = name
			break
		}
	}
	return p, nil
}

func isRegular(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}
