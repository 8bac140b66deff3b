package backup

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jamesainslie/shelf/pkg/shelf/archive"
	"github.com/jamesainslie/shelf/pkg/shelf/detect"
	"github.com/jamesainslie/shelf/pkg/shelf/journal"
	"github.com/jamesainslie/shelf/pkg/shelf/manifest"
	"github.com/jamesainslie/shelf/pkg/shelf/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scenarioHome builds a home with .zshrc (120 bytes), .zshenv (40 bytes),
// .history (500 lines) and a 10 MiB oh-my-zsh directory.
func scenarioHome(t *testing.T) string {
	t.Helper()

	home := t.TempDir()
	write := func(rel string, data []byte, perm os.FileMode) {
		p := filepath.Join(home, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, data, 0o600))
		require.NoError(t, os.Chmod(p, perm))
	}
	write(".zshrc", bytes.Repeat([]byte("r"), 120), 0o644)
	write(".zshenv", bytes.Repeat([]byte("e"), 40), 0o600)
	write(".history", []byte(strings.Repeat(": 1700000000:0;ls\n", 500)), 0o600)
	write(".oh-my-zsh/oh-my-zsh.sh", []byte("# loader\n"), 0o644)
	write(".oh-my-zsh/cache/blob", bytes.Repeat([]byte{0xAB}, int(10*types.MiB)), 0o644)
	return home
}

func create(t *testing.T, c *Creator, home, dir string) (*manifest.Manifest, error) {
	t.Helper()
	return c.Create(context.Background(), detect.Detect(home), dir)
}

func TestScenarioA_CreateThenVerify(t *testing.T) {
	t.Parallel()

	home := scenarioHome(t)
	dir := filepath.Join(t.TempDir(), "backups", "pre-shelf")

	m, err := create(t, NewCreator(Options{ArchiveFramework: true, ToolVersion: "test"}), home, dir)
	require.NoError(t, err)

	assert.Len(t, m.Files, 3)
	require.NotNil(t, m.FrameworkBackup)
	assert.Equal(t, "oh-my-zsh", m.FrameworkBackup.Name)
	assert.Equal(t, "test", m.Metadata.ToolVersion)

	hist := m.Find(".history")
	require.NotNil(t, hist)
	require.NotNil(t, hist.LineCount)
	assert.Equal(t, 500, *hist.LineCount)

	report := Verify(m, dir)
	assert.True(t, report.AllFilesPresent)
	assert.True(t, report.ChecksumsValid)
	assert.Empty(t, report.Issues)
	assert.NoError(t, report.Err())
	assert.Equal(t, 4, report.FilesChecked)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(DirMode), info.Mode().Perm())

	st, err := os.Stat(filepath.Join(dir, ".zshenv"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	names, err := archive.List(filepath.Join(dir, m.FrameworkBackup.ArchiveFile))
	require.NoError(t, err)
	assert.Contains(t, names, ".oh-my-zsh/oh-my-zsh.sh")
}

func TestScenarioB_CorruptionYieldsOneIssue(t *testing.T) {
	t.Parallel()

	home := scenarioHome(t)
	dir := filepath.Join(t.TempDir(), "backup")
	m, err := create(t, NewCreator(Options{}), home, dir)
	require.NoError(t, err)

	// Same length, different bytes.
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".zshrc"), bytes.Repeat([]byte("X"), 120), 0o644))

	report := Verify(m, dir)
	assert.True(t, report.AllFilesPresent)
	assert.False(t, report.ChecksumsValid)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, ".zshrc", report.Issues[0].FilePath)
	assert.Equal(t, IssueChecksumMismatch, report.Issues[0].Type)

	var verr *VerificationError
	require.ErrorAs(t, report.Err(), &verr)
	assert.Equal(t, []string{".zshrc"}, verr.Paths)
	assert.ErrorIs(t, report.Err(), ErrVerificationFailed)
}

func TestVerify_TruncatedFileIsSingleSizeIssue(t *testing.T) {
	t.Parallel()

	home := scenarioHome(t)
	dir := filepath.Join(t.TempDir(), "backup")
	m, err := create(t, NewCreator(Options{}), home, dir)
	require.NoError(t, err)

	require.NoError(t, os.Truncate(filepath.Join(dir, ".history"), 10))

	report := Verify(m, dir)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, IssueSizeMismatch, report.Issues[0].Type)
	assert.False(t, report.OK())
}

func TestVerify_MissingAndPermission(t *testing.T) {
	t.Parallel()

	home := scenarioHome(t)
	dir := filepath.Join(t.TempDir(), "backup")
	m, err := create(t, NewCreator(Options{}), home, dir)
	require.NoError(t, err)

	require.NoError(t, os.Chmod(filepath.Join(dir, ".zshrc"), 0o600))
	report := Verify(m, dir)
	assert.True(t, report.OK(), "permission drift is not fatal")
	require.Len(t, report.Issues, 1)
	assert.Equal(t, IssuePermissionMismatch, report.Issues[0].Type)

	require.NoError(t, os.Remove(filepath.Join(dir, ".zshenv")))
	report = Verify(m, dir)
	assert.False(t, report.AllFilesPresent)
	assert.False(t, report.OK())
}

func TestVerifyDir(t *testing.T) {
	t.Parallel()

	home := scenarioHome(t)
	dir := filepath.Join(t.TempDir(), "backup")
	_, err := create(t, NewCreator(Options{ArchiveFramework: true}), home, dir)
	require.NoError(t, err)

	m, report, err := VerifyDir(dir)
	require.NoError(t, err)
	assert.Len(t, m.Files, 3)
	assert.True(t, report.OK())

	_, _, err = VerifyDir(t.TempDir())
	assert.ErrorIs(t, err, manifest.ErrNotFound)
}

func TestCreate_RoundTripEveryFile(t *testing.T) {
	t.Parallel()

	home := scenarioHome(t)
	dir := filepath.Join(t.TempDir(), "backup")
	m, err := create(t, NewCreator(Options{}), home, dir)
	require.NoError(t, err)

	for _, f := range m.Files {
		orig, err := os.ReadFile(filepath.Join(home, f.Path))
		require.NoError(t, err)
		copied, err := os.ReadFile(filepath.Join(dir, f.Path))
		require.NoError(t, err)
		assert.Equal(t, orig, copied, f.Path)
	}
	assert.Nil(t, m.FrameworkBackup, "framework not archived unless requested")
}

func TestCreate_ConcurrentModificationAborts(t *testing.T) {
	t.Parallel()

	home := scenarioHome(t)
	dir := filepath.Join(t.TempDir(), "backup")

	c := NewCreator(Options{ArchiveFramework: true})
	c.afterCopy = func(rel string) {
		if rel == ".zshenv" {
			require.NoError(t, os.WriteFile(filepath.Join(home, ".zshenv"), []byte("changed underneath"), 0o600))
		}
	}

	_, err := create(t, c, home, dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIntegrity)

	var ierr *IntegrityError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, ".zshenv", ierr.Path)

	assert.NoDirExists(t, dir, "partial backup must be removed")
	for _, rel := range []string{".zshrc", ".zshenv", ".history", ".oh-my-zsh/oh-my-zsh.sh"} {
		assert.FileExists(t, filepath.Join(home, rel), "originals stay in home")
	}
}

func TestCreate_IdempotentWithoutForce(t *testing.T) {
	t.Parallel()

	home := scenarioHome(t)
	dir := filepath.Join(t.TempDir(), "backup")
	_, err := create(t, NewCreator(Options{}), home, dir)
	require.NoError(t, err)

	first, err := os.ReadFile(manifest.Path(dir))
	require.NoError(t, err)

	_, err = create(t, NewCreator(Options{}), home, dir)
	assert.ErrorIs(t, err, manifest.ErrManifestExists)

	second, err := os.ReadFile(manifest.Path(dir))
	require.NoError(t, err)
	assert.Equal(t, first, second, "manifest must be byte-identical")
}

func TestCreate_ForceSupersedes(t *testing.T) {
	t.Parallel()

	home := scenarioHome(t)
	parent := t.TempDir()
	dir := filepath.Join(parent, "backup")
	_, err := create(t, NewCreator(Options{}), home, dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(home, ".zlogin"), []byte("echo hi\n"), 0o644))
	m, err := create(t, NewCreator(Options{Force: true}), home, dir)
	require.NoError(t, err)
	assert.NotNil(t, m.Find(".zlogin"))

	entries, err := os.ReadDir(parent)
	require.NoError(t, err)
	var superseded []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "backup.superseded-") {
			superseded = append(superseded, e.Name())
		}
	}
	require.Len(t, superseded, 1)
	assert.True(t, manifest.Exists(filepath.Join(parent, superseded[0])), "old manifest kept with its backup")
}

func TestCreate_FailedForceRestoresPrevious(t *testing.T) {
	t.Parallel()

	home := scenarioHome(t)
	dir := filepath.Join(t.TempDir(), "backup")
	_, err := create(t, NewCreator(Options{}), home, dir)
	require.NoError(t, err)
	before, err := os.ReadFile(manifest.Path(dir))
	require.NoError(t, err)

	c := NewCreator(Options{Force: true})
	c.afterCopy = func(rel string) {
		if rel == ".zshrc" {
			require.NoError(t, os.WriteFile(filepath.Join(home, ".zshrc"), []byte("edited"), 0o644))
		}
	}
	_, err = create(t, c, home, dir)
	require.ErrorIs(t, err, ErrIntegrity)

	after, err := os.ReadFile(manifest.Path(dir))
	require.NoError(t, err)
	assert.Equal(t, before, after, "previous backup moved back into place")
}

func TestCreate_JournalStates(t *testing.T) {
	t.Parallel()

	j, err := journal.OpenInMemory()
	require.NoError(t, err)
	defer func() { _ = j.Close() }()

	home := scenarioHome(t)
	dir := filepath.Join(t.TempDir(), "backup")
	m, err := create(t, NewCreator(Options{Journal: j}), home, dir)
	require.NoError(t, err)

	for _, f := range m.Files {
		e, err := j.Get(f.Path)
		require.NoError(t, err)
		assert.Equal(t, journal.StateVerified, e.State)
		assert.Equal(t, f.Checksum, e.Checksum)
	}
}

func TestCreate_ProgressReachesTotal(t *testing.T) {
	t.Parallel()

	home := scenarioHome(t)
	info := detect.Detect(home)

	var last, total int64
	c := NewCreator(Options{ArchiveFramework: true, Progress: func(d, tot int64) { last, total = d, tot }})
	_, err := c.Create(context.Background(), info, filepath.Join(t.TempDir(), "backup"))
	require.NoError(t, err)

	assert.Equal(t, info.TotalSize, total)
	assert.Equal(t, info.TotalSize, last)
}

func TestCreate_SymlinkRecordsTarget(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	target := filepath.Join(home, "dotfiles", "zshrc")
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))
	require.NoError(t, os.WriteFile(target, []byte("alias ll='ls -l'\n"), 0o644))
	require.NoError(t, os.Symlink(target, filepath.Join(home, ".zshrc")))

	dir := filepath.Join(t.TempDir(), "backup")
	m, err := create(t, NewCreator(Options{}), home, dir)
	require.NoError(t, err)

	f := m.Find(".zshrc")
	require.NotNil(t, f)
	assert.Equal(t, target, f.SymlinkTarget)

	info, err := os.Lstat(filepath.Join(dir, ".zshrc"))
	require.NoError(t, err)
	assert.True(t, info.Mode().IsRegular(), "backup holds target content")
}

func TestCreate_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	home := scenarioHome(t)
	dir := filepath.Join(t.TempDir(), "backup")
	_, err := NewCreator(Options{}).Create(ctx, detect.Detect(home), dir)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoDirExists(t, dir)
}
