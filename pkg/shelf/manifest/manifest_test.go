package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() *Manifest {
	lines := 500
	return &Manifest{
		Metadata: Metadata{
			CreatedAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			OS:           "linux",
			ShellVersion: "zsh 5.9 (x86_64-pc-linux-gnu)",
			ToolVersion:  "0.3.0",
		},
		FrameworkBackup: &FrameworkBackup{
			Name:        "oh-my-zsh",
			ArchiveFile: "oh-my-zsh.tar.gz",
			Size:        4096,
			Checksum:    "abc",
			InstallPath: "/home/u/.oh-my-zsh",
		},
		Files: []BackedUpFile{
			{Path: ".zshrc", Size: 120, Permissions: 0o644, Checksum: "aa"},
			{Path: ".zshenv", Size: 40, Permissions: 0o600, Checksum: "bb", SymlinkTarget: "dotfiles/zshenv"},
			{Path: ".history", Size: 1500, Permissions: 0o600, Checksum: "cc", LineCount: &lines},
		},
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := sample()
	require.NoError(t, Save(dir, m, false))

	got, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, FormatVersion, got.Metadata.FormatVersion)
	assert.True(t, m.Metadata.CreatedAt.Equal(got.Metadata.CreatedAt))
	assert.Equal(t, m.Metadata.ToolVersion, got.Metadata.ToolVersion)
	assert.Equal(t, m.FrameworkBackup, got.FrameworkBackup)
	require.Len(t, got.Files, 3)
	assert.Equal(t, os.FileMode(0o600), got.Files[1].Permissions.Perm())
	assert.True(t, got.Files[1].IsSymlink())
	require.NotNil(t, got.Files[2].LineCount)
	assert.Equal(t, 500, *got.Files[2].LineCount)
	assert.Nil(t, got.Files[0].LineCount)
	assert.Equal(t, int64(120+40+1500+4096), got.TotalSize())

	info, err := os.Stat(Path(dir))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestSave_PermissionsAreOctalStrings(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, Save(dir, sample(), false))

	data, err := os.ReadFile(Path(dir))
	require.NoError(t, err)
	assert.Contains(t, string(data), `permissions = '0644'`)
	assert.Contains(t, string(data), "tool_version = '0.3.0'")
}

func TestSave_NeverOverwrites(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, Save(dir, sample(), false))

	err := Save(dir, sample(), false)
	assert.ErrorIs(t, err, ErrManifestExists)

	require.NoError(t, Save(dir, sample(), true))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var backups int
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), FileName+".") && strings.HasSuffix(e.Name(), ".bak") {
			backups++
		}
	}
	assert.Equal(t, 1, backups, "forced save must move the old manifest aside")
	assert.True(t, Exists(dir))
}

func TestLoad_NotFound(t *testing.T) {
	t.Parallel()

	_, err := Load(t.TempDir())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoad_ToleratesUnknownFields(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	content := `
future_field = "ignored"

[metadata]
format_version = 2
created_at = 2026-03-01T12:00:00Z
os = "darwin"
shell_version = "zsh 5.9"
tool_version = "9.9.9"
signature = "also ignored"

[[files]]
path = ".zshrc"
size = 3
permissions = "0644"
checksum = "dd"
xattrs = ["com.apple.quarantine"]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o600))

	m, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "9.9.9", m.Metadata.ToolVersion)
	require.Len(t, m.Files, 1)
	assert.Equal(t, os.FileMode(0o644), m.Files[0].Permissions.Perm())
	assert.Nil(t, m.FrameworkBackup)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		path string
	}{
		{"absolute", "/etc/passwd"},
		{"escaping", "../outside"},
		{"unclean", "./.zshrc"},
		{"empty", ""},
	}
	for _, tt := range tests {
		m := &Manifest{Files: []BackedUpFile{{Path: tt.path, Checksum: "x"}}}
		assert.ErrorIs(t, m.Validate(), ErrInvalid, tt.name)
	}

	dup := &Manifest{Files: []BackedUpFile{{Path: ".zshrc", Checksum: "x"}, {Path: ".zshrc", Checksum: "y"}}}
	assert.ErrorIs(t, dup.Validate(), ErrInvalid)

	noSum := &Manifest{Files: []BackedUpFile{{Path: ".zshrc"}}}
	assert.ErrorIs(t, noSum.Validate(), ErrInvalid)
}

func TestSave_RejectsInvalid(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	err := Save(dir, &Manifest{Files: []BackedUpFile{{Path: "../x", Checksum: "x"}}}, false)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.False(t, Exists(dir))
}

func TestModeText(t *testing.T) {
	t.Parallel()

	var m Mode
	require.NoError(t, m.UnmarshalText([]byte("0755")))
	assert.Equal(t, os.FileMode(0o755), m.Perm())

	b, err := Mode(0o640).MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "0640", string(b))

	assert.Error(t, m.UnmarshalText([]byte("rwx")))
}
