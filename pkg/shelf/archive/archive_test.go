package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jamesainslie/shelf/pkg/shelf/checksum"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTree(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "plugins", "git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "oh-my-zsh.sh"), []byte("# loader\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "plugins", "git", "git.plugin.zsh"), []byte("alias g=git\n"), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(root, "tools.sh"), []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, os.Symlink("oh-my-zsh.sh", filepath.Join(root, "link.sh")))
	return root
}

func TestCreateFile_RoundTrip(t *testing.T) {
	t.Parallel()

	root := buildTree(t)
	out := filepath.Join(t.TempDir(), "fw.tar.gz")

	res, err := CreateFile(context.Background(), root, out, Options{Prefix: ".oh-my-zsh"})
	require.NoError(t, err)

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), res.Size)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	sum, _, err := checksum.File(out)
	require.NoError(t, err)
	assert.Equal(t, sum, res.Checksum)

	names, err := List(out)
	require.NoError(t, err)
	assert.Contains(t, names, ".oh-my-zsh/plugins/")
	assert.Contains(t, names, ".oh-my-zsh/plugins/git/git.plugin.zsh")
	assert.Contains(t, names, ".oh-my-zsh/link.sh")
	assert.Equal(t, len(names), res.Entries)

	dest := t.TempDir()
	n, err := Extract(context.Background(), out, dest)
	require.NoError(t, err)
	assert.Equal(t, res.Entries, n)

	data, err := os.ReadFile(filepath.Join(dest, ".oh-my-zsh", "plugins", "git", "git.plugin.zsh"))
	require.NoError(t, err)
	assert.Equal(t, "alias g=git\n", string(data))

	st, err := os.Stat(filepath.Join(dest, ".oh-my-zsh", "tools.sh"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), st.Mode().Perm())

	st, err = os.Stat(filepath.Join(dest, ".oh-my-zsh", "plugins", "git", "git.plugin.zsh"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), st.Mode().Perm())

	target, err := os.Readlink(filepath.Join(dest, ".oh-my-zsh", "link.sh"))
	require.NoError(t, err)
	assert.Equal(t, "oh-my-zsh.sh", target)
}

func TestCreateFile_NoPartialOnFailure(t *testing.T) {
	t.Parallel()

	outDir := t.TempDir()
	out := filepath.Join(outDir, "missing.tar.gz")

	_, err := CreateFile(context.Background(), filepath.Join(t.TempDir(), "absent"), out, Options{})
	require.Error(t, err)

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "failed archive must leave nothing behind")
}

func TestWrite_Exclude(t *testing.T) {
	t.Parallel()

	root := buildTree(t)
	var buf bytes.Buffer

	_, _, err := Write(context.Background(), &buf, root, Options{
		Exclude: func(rel string) bool { return rel == "plugins" },
	})
	require.NoError(t, err)

	gz, err := gzip.NewReader(&buf)
	require.NoError(t, err)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err != nil {
			break
		}
		assert.False(t, strings.HasPrefix(hdr.Name, "plugins"), "excluded entry %s archived", hdr.Name)
	}
}

func TestWrite_ProgressIsBounded(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	for i := 0; i < 8; i++ {
		name := filepath.Join(root, "blob"+string(rune('a'+i)))
		require.NoError(t, os.WriteFile(name, bytes.Repeat([]byte{byte(i)}, 64*1024), 0o644))
	}

	var calls int
	var lastDone, lastTotal int64
	_, content, err := Write(context.Background(), &bytes.Buffer{}, root, Options{
		ProgressStep: 128 * 1024,
		Progress: func(done, total int64) {
			calls++
			lastDone, lastTotal = done, total
		},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(8*64*1024), content)
	assert.Equal(t, content, lastDone)
	assert.Equal(t, content, lastTotal)
	assert.LessOrEqual(t, calls, 5, "progress must be reported at bounded intervals")
	assert.GreaterOrEqual(t, calls, 1)
}

func TestWrite_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := Write(ctx, &bytes.Buffer{}, buildTree(t), Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExtract_RejectsEscapingEntries(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "../evil", Mode: 0o644, Size: 4, Typeflag: tar.TypeReg}))
	_, err := tw.Write([]byte("evil"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	path := filepath.Join(t.TempDir(), "evil.tar.gz")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	dest := t.TempDir()
	_, err = Extract(context.Background(), path, dest)
	assert.ErrorIs(t, err, ErrUnsafePath)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(dest), "evil"))
}
