package profile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProfile(t *testing.T, root, id string, meta Metadata, files ...string) {
	t.Helper()

	dir := filepath.Join(root, ProfilesDir, id)
	require.NoError(t, os.MkdirAll(dir, 0o700))
	data, err := toml.Marshal(meta)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, MetadataFile), data, 0o600))
	for _, f := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte("# "+id+" "+f+"\n"), 0o644))
	}
}

func TestStore_ListAndGet(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	writeProfile(t, root, "work", Metadata{Name: "Work", Framework: "oh-my-zsh", SharedHistory: true, CreatedAt: created},
		".zshrc", ".zshenv")
	writeProfile(t, root, "minimal", Metadata{Name: "Minimal", CreatedAt: created}, ".zshrc", ".zsh_history")
	require.NoError(t, os.WriteFile(filepath.Join(root, ActiveFile), []byte("work\n"), 0o600))

	// Not a profile: no profile.toml.
	require.NoError(t, os.MkdirAll(filepath.Join(root, ProfilesDir, "broken"), 0o700))

	s := NewStore(root)
	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "minimal", list[0].ID)
	assert.Equal(t, "work", list[1].ID)
	assert.True(t, list[1].Active)
	assert.False(t, list[0].Active)

	work, err := s.Get("work")
	require.NoError(t, err)
	assert.Equal(t, "Work", work.Name)
	assert.True(t, work.SharedHistory)
	assert.True(t, work.CreatedAt.Equal(created))
	assert.Equal(t, []string{".zshenv", ".zshrc"}, work.Files)
	assert.Empty(t, work.HistoryFile)

	minimal, err := s.Get("minimal")
	require.NoError(t, err)
	assert.Equal(t, []string{".zshrc"}, minimal.Files)
	assert.Equal(t, ".zsh_history", minimal.HistoryFile)

	active, err := s.Active()
	require.NoError(t, err)
	assert.Equal(t, "work", active)
}

func TestStore_GetUnknown(t *testing.T) {
	t.Parallel()

	s := NewStore(t.TempDir())
	for _, id := range []string{"nope", "", "..", "a/b"} {
		_, err := s.Get(id)
		assert.ErrorIs(t, err, ErrNotFound, id)
	}
}

func TestStore_EmptyRoot(t *testing.T) {
	t.Parallel()

	s := NewStore(filepath.Join(t.TempDir(), "missing"))
	list, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, list)

	active, err := s.Active()
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestStore_NameDefaultsToID(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeProfile(t, root, "bare", Metadata{}, ".zshrc")

	p, err := NewStore(root).Get("bare")
	require.NoError(t, err)
	assert.Equal(t, "bare", p.Name)
	assert.Equal(t, filepath.Join(root, "history", "shared_history"), NewStore(root).SharedHistory())
}
