package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/jamesainslie/shelf/cmd/shelf/tui"
	"github.com/jamesainslie/shelf/pkg/shelf/backup"
	"github.com/jamesainslie/shelf/pkg/shelf/config"
	"github.com/jamesainslie/shelf/pkg/shelf/detect"
	"github.com/jamesainslie/shelf/pkg/shelf/homecleanup"
	"github.com/jamesainslie/shelf/pkg/shelf/journal"
	"github.com/jamesainslie/shelf/pkg/shelf/manifest"
	"github.com/jamesainslie/shelf/pkg/shelf/output"
	"github.com/jamesainslie/shelf/pkg/shelf/types"
	"github.com/spf13/cobra"
)

var (
	initForce           bool
	initNoCleanup       bool
	initSkipIntegration bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Back up the existing configuration and hand the home directory over to shelf",
	Long: `Initialize shelf in four steps:

  1. detect the existing zsh configuration
  2. copy it into the backup directory and write backup-manifest.toml
  3. verify every backed-up file against the manifest
  4. remove the originals from the home directory and write .zshenv

Step 4 only runs when step 3 passes. An existing backup is never
overwritten unless --force is given, in which case it is renamed aside
first.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "replace an existing backup (the old one is kept aside)")
	initCmd.Flags().BoolVar(&initNoCleanup, "backup-only", false, "stop after the verified backup; leave the home directory untouched")
	initCmd.Flags().BoolVar(&initSkipIntegration, "no-integration", false, "do not write the .zshenv integration file")
	rootCmd.AddCommand(initCmd)
}

// signalContext returns a context cancelled on interrupt.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// runInit runs detect, backup, verify, and home cleanup.
func runInit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	info := detect.Detect(cfg.Home)
	if len(info.ConfigFiles) == 0 && info.Framework == nil {
		printInfo("No zsh configuration found in %s; backing up an empty configuration.", cfg.Home)
	}
	for _, diag := range info.Diagnostics {
		printVerbose("detect: %v", diag)
	}

	j, err := journal.Open(cfg.JournalDir())
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	defer j.Close()

	m, err := createBackup(ctx, cfg, info, j)
	if err != nil {
		return err
	}

	rep := backup.Verify(m, cfg.Backup.Dir)
	if err := render(output.Backup(cfg.Backup.Dir, m, &rep)); err != nil {
		printError("backup did not verify; the home directory was not modified")
		return err
	}
	if initNoCleanup {
		printInfo("Backup complete; the home directory was left untouched.")
		return nil
	}

	hc, err := homecleanup.Run(ctx, homecleanup.Request{
		Home:            cfg.Home,
		ManagedRoot:     cfg.ManagedRoot,
		Manifest:        m,
		Verification:    rep,
		Journal:         j,
		SkipIntegration: initSkipIntegration,
	})
	if err != nil {
		return err
	}
	return render(output.HomeCleanup(hc))
}

// createBackup runs the backup creator, showing progress on a terminal.
func createBackup(ctx context.Context, cfg *config.Config, info *types.ShellConfigInfo, j *journal.Journal) (m *manifest.Manifest, err error) {
	opts := backup.Options{
		Force:            initForce,
		ArchiveFramework: cfg.Backup.ArchiveFramework,
		ToolVersion:      version,
		ShellVersion:     detect.ShellVersion(ctx),
		Journal:          j,
	}

	var reporter *tui.Reporter
	if isInteractive() {
		reporter = tui.NewReporter("Backing up " + types.FormatSize(info.TotalSize))
		opts.Progress = reporter.Update
	}

	m, err = backup.NewCreator(opts).Create(ctx, info, cfg.Backup.Dir)
	if reporter != nil {
		reporter.Finish(err)
	}
	if err != nil {
		return nil, fmt.Errorf("creating backup: %w", err)
	}
	return m, nil
}
