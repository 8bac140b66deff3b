package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jamesainslie/shelf/pkg/shelf/archive"
	"github.com/jamesainslie/shelf/pkg/shelf/backup"
	"github.com/jamesainslie/shelf/pkg/shelf/fsutil"
	"github.com/jamesainslie/shelf/pkg/shelf/journal"
	"github.com/jamesainslie/shelf/pkg/shelf/manifest"
	"github.com/jamesainslie/shelf/pkg/shelf/output"
	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Inspect the pre-shelf backup",
	Long: `Inspect the backup of the configuration that existed before shelf.

The backup lives in <managed_root>/backups/pre-shelf unless backup.dir is
configured. Its backup-manifest.toml records the size, permissions, and
SHA-256 checksum of every file.`,
}

var backupVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the backup against its manifest",
	Long: `Check that every file in the manifest is present with the recorded size
and checksum. Permission differences are reported as warnings. Exits
non-zero when a file is missing or corrupt.`,
	Args: cobra.NoArgs,
	RunE: runBackupVerify,
}

var backupShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the backup manifest",
	Long:  `Display the backup manifest without checking the files.`,
	Args:  cobra.NoArgs,
	RunE:  runBackupShow,
}

var backupStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-file journal states",
	Long: `Show how far each backed-up file got: copied into the backup, verified
against its checksum, or committed (removed from the home directory).`,
	Args: cobra.NoArgs,
	RunE: runBackupStatus,
}

var backupShowArchive bool

func init() {
	backupShowCmd.Flags().BoolVar(&backupShowArchive, "archive", false, "also list the entries of the framework archive")
	backupCmd.AddCommand(backupVerifyCmd)
	backupCmd.AddCommand(backupShowCmd)
	backupCmd.AddCommand(backupStatusCmd)
	rootCmd.AddCommand(backupCmd)
}

// runBackupVerify verifies the configured backup directory.
func runBackupVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	m, rep, err := backup.VerifyDir(cfg.Backup.Dir)
	if err != nil {
		return noBackup(cfg.Backup.Dir, err)
	}
	return render(output.Backup(cfg.Backup.Dir, m, &rep))
}

// runBackupShow prints the manifest.
func runBackupShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	m, err := manifest.Load(cfg.Backup.Dir)
	if err != nil {
		return noBackup(cfg.Backup.Dir, err)
	}
	d := output.Backup(cfg.Backup.Dir, m, nil)
	if backupShowArchive {
		sec, err := archiveSection(cfg.Backup.Dir, m)
		if err != nil {
			return err
		}
		d.Sections = append(d.Sections, sec)
	}
	return render(d)
}

// archiveSection lists the entries of the framework archive.
func archiveSection(dir string, m *manifest.Manifest) (output.Section, error) {
	sec := output.Section{Title: "Framework archive", Columns: []string{"entry"}, Empty: "no framework archived"}
	if m.FrameworkBackup == nil {
		return sec, nil
	}
	names, err := archive.List(filepath.Join(dir, filepath.FromSlash(m.FrameworkBackup.ArchiveFile)))
	if err != nil {
		return sec, fmt.Errorf("listing framework archive: %w", err)
	}
	for _, n := range names {
		sec.Rows = append(sec.Rows, []string{n})
	}
	return sec, nil
}

// runBackupStatus summarizes the journal.
func runBackupStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	dir := cfg.JournalDir()
	if !fsutil.Exists(dir) {
		return fmt.Errorf("no journal at %s; run 'shelf init' first", dir)
	}
	j, err := journal.Open(dir)
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	defer j.Close()

	d, err := journalDocument(j)
	if err != nil {
		return err
	}
	return render(d)
}

// journalDocument describes the journal's sessions and file states.
func journalDocument(j *journal.Journal) (*output.Document, error) {
	entries, err := j.Entries()
	if err != nil {
		return nil, fmt.Errorf("reading journal: %w", err)
	}
	sessions, err := j.Sessions()
	if err != nil {
		return nil, fmt.Errorf("reading journal sessions: %w", err)
	}

	counts, err := j.Counts()
	if err != nil {
		return nil, fmt.Errorf("reading journal: %w", err)
	}
	files := output.Section{Title: "Files", Columns: []string{"path", "state", "updated"}, Empty: "no files recorded"}
	for _, e := range entries {
		files.Rows = append(files.Rows, []string{e.Path, string(e.State), humanize.Time(e.UpdatedAt)})
	}
	runs := output.Section{Title: "Sessions", Columns: []string{"kind", "started", "id"}}
	for _, s := range sessions {
		runs.Rows = append(runs.Rows, []string{s.Kind, s.StartedAt.Local().Format(time.DateTime), s.ID})
	}

	d := &output.Document{
		Title: "Journal",
		Data: map[string]any{
			"sessions": sessions,
			"files":    entries,
		},
	}
	for _, st := range []journal.State{journal.StateCopied, journal.StateVerified, journal.StateCommitted} {
		d.AddField(string(st), strconv.Itoa(counts[st]))
	}
	d.Sections = append(d.Sections, files, runs)
	return d, nil
}

// noBackup turns a missing manifest into a hint.
func noBackup(dir string, err error) error {
	if errors.Is(err, manifest.ErrNotFound) {
		return fmt.Errorf("no backup in %s; run 'shelf init' to create one", dir)
	}
	return err
}
