package uninstall

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jamesainslie/shelf/pkg/shelf/archive"
	"github.com/jamesainslie/shelf/pkg/shelf/backup"
	"github.com/jamesainslie/shelf/pkg/shelf/detect"
	"github.com/jamesainslie/shelf/pkg/shelf/homecleanup"
	"github.com/jamesainslie/shelf/pkg/shelf/restore"
	"github.com/jamesainslie/shelf/pkg/shelf/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var originals = map[string]string{
	".zshrc":                  "source $ZSH/oh-my-zsh.sh\n",
	".zprofile":               "export PATH=/opt/bin:$PATH\n",
	".zsh_history":            "ls\ncd /tmp\n",
	".oh-my-zsh/oh-my-zsh.sh": "# loader\n",
}

// installed returns options for a home that went through backup and home
// cleanup.
func installed(t *testing.T) Options {
	t.Helper()

	home := t.TempDir()
	for rel, content := range originals {
		p := filepath.Join(home, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	root := filepath.Join(home, ".shelf")
	dir := filepath.Join(root, "backups", "pre-shelf")

	m, err := backup.NewCreator(backup.Options{ArchiveFramework: true}).
		Create(context.Background(), detect.Detect(home), dir)
	require.NoError(t, err)
	rep := backup.Verify(m, dir)
	require.True(t, rep.OK())
	r, err := homecleanup.Run(context.Background(), homecleanup.Request{
		Home: home, ManagedRoot: root, Manifest: m, Verification: rep,
	})
	require.NoError(t, err)
	require.True(t, r.OK())

	return Options{
		Home:           home,
		ManagedRoot:    root,
		BackupDir:      dir,
		Option:         restore.RestoreOriginal{},
		NonInteractive: true,
		SnapshotDir:    t.TempDir(),
	}
}

func states(r *Report) []State {
	out := make([]State, 0, len(r.Trace))
	for _, tr := range r.Trace {
		out = append(out, tr.To)
	}
	return out
}

func snapshots(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "shelf-snapshot-*.tar.gz"))
	require.NoError(t, err)
	return matches
}

func TestRun_RestoreOriginal(t *testing.T) {
	t.Parallel()

	opts := installed(t)
	var confirmed *restore.Plan
	opts.NonInteractive = false
	opts.Confirm = func(p *restore.Plan) bool {
		confirmed = p
		return true
	}

	r := New().Run(context.Background(), opts)
	require.NoError(t, r.Err)
	assert.NotEmpty(t, r.RunID)
	assert.Equal(t, []State{
		StatePlanningRestoration,
		StateAwaitingConfirmation,
		StateSnapshotCreated,
		StateRestoring,
		StateCleaningUp,
		StateDone,
	}, states(r))
	assert.Equal(t, StateDone, r.State())
	_, ok := CheckTrace(r.Trace, false)
	assert.True(t, ok)
	assert.Same(t, confirmed, r.Plan)

	for rel, content := range originals {
		data, err := os.ReadFile(filepath.Join(opts.Home, rel))
		require.NoError(t, err, rel)
		assert.Equal(t, content, string(data), rel)
	}
	assert.NoFileExists(t, filepath.Join(opts.Home, homecleanup.IntegrationFile))
	assert.NoDirExists(t, opts.ManagedRoot)

	require.NotEmpty(t, r.SnapshotPath)
	assert.Equal(t, []string{r.SnapshotPath}, snapshots(t, opts.SnapshotDir))
	names, err := archive.List(r.SnapshotPath)
	require.NoError(t, err)
	assert.Contains(t, names, ".shelf/backups/pre-shelf/backup-manifest.toml")
	assert.True(t, r.Cleanup.OK())
}

func TestRun_SnapshotFailureMutatesNothing(t *testing.T) {
	t.Parallel()

	opts := installed(t)
	opts.SnapshotDir = opts.ManagedRoot

	r := New().Run(context.Background(), opts)
	require.ErrorIs(t, r.Err, snapshot.ErrSnapshotFailed)
	assert.Equal(t, StateAborted, r.State())
	assert.NotContains(t, states(r), StateRestoring)
	assert.Nil(t, r.Restore)
	assert.Nil(t, r.Cleanup)

	assert.True(t, homecleanup.IsGenerated(filepath.Join(opts.Home, homecleanup.IntegrationFile)))
	assert.NoFileExists(t, filepath.Join(opts.Home, ".zshrc"))
	assert.FileExists(t, filepath.Join(opts.BackupDir, "backup-manifest.toml"))
	assert.Empty(t, snapshots(t, opts.ManagedRoot))
}

func TestRun_Declined(t *testing.T) {
	t.Parallel()

	opts := installed(t)
	opts.NonInteractive = false
	opts.Confirm = func(*restore.Plan) bool { return false }

	r := New().Run(context.Background(), opts)
	require.ErrorIs(t, r.Err, ErrDeclined)
	assert.Equal(t, []State{StatePlanningRestoration, StateAwaitingConfirmation, StateAborted}, states(r))
	assert.Empty(t, snapshots(t, opts.SnapshotDir))
	assert.DirExists(t, opts.ManagedRoot)

	opts.Confirm = nil
	r = New().Run(context.Background(), opts)
	assert.ErrorIs(t, r.Err, ErrNoConfirmation)
}

func TestRun_CorruptBackupAbortsBeforeSnapshot(t *testing.T) {
	t.Parallel()

	opts := installed(t)
	require.NoError(t, os.WriteFile(filepath.Join(opts.BackupDir, ".zprofile"), []byte("corrupted\n"), 0o644))

	r := New().Run(context.Background(), opts)
	require.ErrorIs(t, r.Err, backup.ErrVerificationFailed)
	var ve *backup.VerificationError
	require.ErrorAs(t, r.Err, &ve)
	assert.Contains(t, ve.Paths, ".zprofile")

	assert.Equal(t, []State{StatePlanningRestoration, StateAborted}, states(r))
	assert.Nil(t, r.Plan)
	assert.Nil(t, r.Restore)
	assert.Empty(t, r.SnapshotPath)
	assert.Empty(t, snapshots(t, opts.SnapshotDir))

	assert.True(t, homecleanup.IsGenerated(filepath.Join(opts.Home, homecleanup.IntegrationFile)))
	assert.NoFileExists(t, filepath.Join(opts.Home, ".zshrc"))
	assert.NoFileExists(t, filepath.Join(opts.Home, ".zprofile"))
	assert.NoDirExists(t, filepath.Join(opts.Home, ".oh-my-zsh"))
	assert.DirExists(t, opts.ManagedRoot)
}

func TestRun_CorruptBackupFallsBack(t *testing.T) {
	t.Parallel()

	opts := installed(t)
	require.NoError(t, os.Remove(filepath.Join(opts.BackupDir, ".zshrc")))

	var failed error
	opts.Fallback = func(_ restore.Option, err error) restore.Option {
		failed = err
		return restore.CleanRemoval{}
	}
	opts.KeepBackups = true

	r := New().Run(context.Background(), opts)
	require.NoError(t, r.Err)
	require.ErrorIs(t, failed, backup.ErrVerificationFailed)
	assert.Equal(t, "clean", r.Plan.OptionName)
	assert.NoFileExists(t, filepath.Join(opts.Home, ".zshrc"))
	assert.FileExists(t, filepath.Join(opts.BackupDir, "backup-manifest.toml"))
}

func TestRun_RestoreFailureSurfacesSnapshot(t *testing.T) {
	t.Parallel()

	opts := installed(t)
	opts.NonInteractive = false
	opts.Confirm = func(*restore.Plan) bool {
		// The backup changes after it was verified.
		require.NoError(t, os.WriteFile(filepath.Join(opts.BackupDir, ".zprofile"), []byte("corrupted\n"), 0o644))
		return true
	}

	r := New().Run(context.Background(), opts)
	var rf *RestoreFailedError
	require.ErrorAs(t, r.Err, &rf)
	assert.ErrorIs(t, r.Err, restore.ErrChecksumMismatch)
	assert.Equal(t, r.SnapshotPath, rf.SnapshotPath)
	assert.FileExists(t, rf.SnapshotPath)
	assert.Contains(t, r.Err.Error(), rf.SnapshotPath)

	assert.Equal(t, []State{
		StatePlanningRestoration,
		StateAwaitingConfirmation,
		StateSnapshotCreated,
		StateRestoring,
		StateAborted,
	}, states(r))
	assert.Nil(t, r.Cleanup)
	assert.DirExists(t, opts.ManagedRoot)
}

func TestRun_FallbackWhenNoManifest(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	root := filepath.Join(home, ".shelf")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "profiles"), 0o700))
	_, err := homecleanup.WriteIntegration(home, root)
	require.NoError(t, err)

	var failed error
	opts := Options{
		Home:           home,
		ManagedRoot:    root,
		BackupDir:      filepath.Join(root, "backups", "pre-shelf"),
		Option:         restore.RestoreOriginal{},
		NonInteractive: true,
		SnapshotDir:    t.TempDir(),
		Fallback: func(_ restore.Option, err error) restore.Option {
			failed = err
			return restore.CleanRemoval{}
		},
	}

	r := New().Run(context.Background(), opts)
	require.NoError(t, r.Err)
	require.ErrorIs(t, failed, restore.ErrRestoreUnavailable)
	assert.Equal(t, []State{
		StatePlanningRestoration,
		StatePlanningRestoration,
		StateAwaitingConfirmation,
		StateSnapshotCreated,
		StateRestoring,
		StateCleaningUp,
		StateDone,
	}, states(r))
	assert.Equal(t, "clean", r.Plan.OptionName)
	assert.NoDirExists(t, root)
	assert.NoFileExists(t, filepath.Join(home, homecleanup.IntegrationFile))

	opts.Fallback = nil
	require.NoError(t, os.MkdirAll(root, 0o700))
	r = New().Run(context.Background(), opts)
	require.ErrorIs(t, r.Err, restore.ErrRestoreUnavailable)
	assert.Equal(t, []State{StatePlanningRestoration, StateAborted}, states(r))
}

func TestRun_SkipSnapshot(t *testing.T) {
	t.Parallel()

	opts := installed(t)
	opts.SkipSnapshot = true
	opts.Option = restore.CleanRemoval{}
	opts.KeepBackups = true

	r := New().Run(context.Background(), opts)
	require.NoError(t, r.Err)
	assert.Equal(t, []State{
		StatePlanningRestoration,
		StateAwaitingConfirmation,
		StateRestoring,
		StateCleaningUp,
		StateDone,
	}, states(r))
	assert.Empty(t, r.SnapshotPath)
	assert.Empty(t, snapshots(t, opts.SnapshotDir))

	_, ok := CheckTrace(r.Trace, true)
	assert.True(t, ok)
	bad, ok := CheckTrace(r.Trace, false)
	assert.False(t, ok)
	assert.Equal(t, StateRestoring, bad.To)

	assert.FileExists(t, filepath.Join(opts.BackupDir, "backup-manifest.toml"))
}

func TestRun_CleanRemovalExternalBackupDir(t *testing.T) {
	t.Parallel()

	for _, keep := range []bool{false, true} {
		opts := installed(t)
		external := filepath.Join(t.TempDir(), "pre-shelf")
		require.NoError(t, os.Rename(opts.BackupDir, external))
		require.NoError(t, os.Remove(filepath.Dir(opts.BackupDir)))
		opts.BackupDir = external
		opts.Option = restore.CleanRemoval{}
		opts.KeepBackups = keep

		r := New().Run(context.Background(), opts)
		require.NoError(t, r.Err, "keep=%v", keep)
		assert.Empty(t, r.Restore.MovedAside, "keep=%v", keep)
		assert.NoDirExists(t, opts.ManagedRoot, "keep=%v", keep)
		if keep {
			assert.FileExists(t, filepath.Join(external, "backup-manifest.toml"))
		} else {
			assert.NoDirExists(t, external)
			assert.Contains(t, r.Cleanup.Removed, external)
		}

		matches, err := filepath.Glob(filepath.Join(filepath.Dir(external), "*.shelf-replaced-*"))
		require.NoError(t, err)
		assert.Empty(t, matches, "keep=%v", keep)
	}
}

func TestRun_MissingManagedRoot(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	r := New().Run(context.Background(), Options{
		Home:           home,
		ManagedRoot:    filepath.Join(home, ".shelf"),
		Option:         restore.CleanRemoval{},
		NonInteractive: true,
	})
	require.ErrorIs(t, r.Err, ErrManagedRootMissing)
	require.Len(t, r.Trace, 1)
	assert.Equal(t, Transition{From: StateValidating, To: StateAborted, At: r.Trace[0].At, Note: r.Err.Error()}, r.Trace[0])
}

func TestValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to State
		want     bool
	}{
		{StateValidating, StatePlanningRestoration, true},
		{StatePlanningRestoration, StatePlanningRestoration, true},
		{StateAwaitingConfirmation, StateRestoring, true},
		{StatePlanningRestoration, StateRestoring, false},
		{StateSnapshotCreated, StateCleaningUp, false},
		{StateRestoring, StateAborted, true},
		{StateDone, StateAborted, false},
		{StateAborted, StateValidating, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Valid(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}
