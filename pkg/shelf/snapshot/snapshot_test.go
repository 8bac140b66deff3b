package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jamesainslie/shelf/pkg/shelf/archive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func managedRoot(t *testing.T) string {
	t.Helper()

	root := filepath.Join(t.TempDir(), ".shelf")
	files := map[string]string{
		"active":                                 "work\n",
		"profiles/work/profile.toml":             "name = 'Work'\n",
		"profiles/work/.zshrc":                   "# work\n",
		"backups/pre-shelf/.zshrc":               "# original\n",
		"backups/pre-shelf/backup-manifest.toml": "[metadata]\n",
	}
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o700))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	}
	return root
}

func TestDefaultPath(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	assert.Equal(t, filepath.Join("/tmp", "shelf-snapshot-20260304-050607.tar.gz"), DefaultPath("/tmp", now))
}

func TestCreate_ArchivesWholeRoot(t *testing.T) {
	t.Parallel()

	root := managedRoot(t)
	out := DefaultPath(t.TempDir(), time.Now())

	var calls int
	size, err := Create(context.Background(), root, out, Options{Progress: func(_, _ int64) { calls++ }})
	require.NoError(t, err)
	assert.Positive(t, size)
	assert.Positive(t, calls)

	st, err := os.Stat(out)
	require.NoError(t, err)
	assert.Equal(t, st.Size(), size)

	names, err := archive.List(out)
	require.NoError(t, err)
	assert.Contains(t, names, ".shelf/active")
	assert.Contains(t, names, ".shelf/profiles/work/.zshrc")
	assert.Contains(t, names, ".shelf/backups/pre-shelf/backup-manifest.toml")

	dest := t.TempDir()
	_, err = archive.Extract(context.Background(), out, dest)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dest, ".shelf", "backups", "pre-shelf", ".zshrc"))
	require.NoError(t, err)
	assert.Equal(t, "# original\n", string(data))
}

func TestCreate_Failures(t *testing.T) {
	t.Parallel()

	root := managedRoot(t)

	tests := []struct {
		name string
		root string
		out  string
	}{
		{name: "output inside root", root: root, out: filepath.Join(root, "snap.tar.gz")},
		{name: "missing root", root: filepath.Join(t.TempDir(), "absent"), out: filepath.Join(t.TempDir(), "snap.tar.gz")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			size, err := Create(context.Background(), tt.root, tt.out, Options{})
			assert.Zero(t, size)
			require.ErrorIs(t, err, ErrSnapshotFailed)

			var ce *CreationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.out, ce.Path)
			assert.NoFileExists(t, tt.out)
		})
	}
}

func TestCreate_Cancelled(t *testing.T) {
	t.Parallel()

	root := managedRoot(t)
	out := filepath.Join(t.TempDir(), "snap.tar.gz")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Create(ctx, root, out, Options{})
	require.ErrorIs(t, err, ErrSnapshotFailed)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, out)
}
