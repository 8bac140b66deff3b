package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/jamesainslie/shelf/cmd/shelf/tui"
	"github.com/jamesainslie/shelf/pkg/shelf/config"
	"github.com/jamesainslie/shelf/pkg/shelf/output"
	"github.com/jamesainslie/shelf/pkg/shelf/restore"
	"github.com/jamesainslie/shelf/pkg/shelf/snapshot"
	"github.com/jamesainslie/shelf/pkg/shelf/uninstall"
	"github.com/spf13/cobra"
)

var (
	uninstallRestore     string
	uninstallFallback    string
	uninstallYes         bool
	uninstallNoSnapshot  bool
	uninstallSnapshotDir string
	uninstallKeepBackups bool
	uninstallTrash       bool
	uninstallPreserve    []string
	uninstallDryRun      bool
)

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove shelf and restore a plain zsh configuration",
	Long: `Uninstall shelf. What ends up in the home directory depends on --restore:

  original       put back the configuration that existed before shelf (default)
  promote=<id>   make profile <id> the plain configuration
  clean          restore nothing

The plan is shown and must be confirmed (or pass --yes). Before anything is
changed, the whole managed root is archived into a safety snapshot
(shelf-snapshot-<timestamp>.tar.gz in the home directory) so the uninstall
can be undone by hand with 'tar xzf'.

Examples:
  shelf uninstall --dry-run                  # Show the plan only
  shelf uninstall -r promote=work            # Keep the 'work' profile as plain config
  shelf uninstall -r clean -y --keep-backups # Remove everything but the backup`,
	Args: cobra.NoArgs,
	RunE: runUninstall,
}

func init() {
	uninstallCmd.Flags().StringVarP(&uninstallRestore, "restore", "r", "original", "restore option: original, promote=<id>, or clean")
	uninstallCmd.Flags().StringVar(&uninstallFallback, "fallback", "", "option to use when --restore cannot be planned (non-interactive)")
	uninstallCmd.Flags().BoolVarP(&uninstallYes, "yes", "y", false, "do not ask for confirmation")
	uninstallCmd.Flags().BoolVar(&uninstallNoSnapshot, "no-snapshot", false, "skip the safety snapshot")
	uninstallCmd.Flags().StringVar(&uninstallSnapshotDir, "snapshot-dir", "", "where to write the safety snapshot (default: snapshot.dir)")
	uninstallCmd.Flags().BoolVar(&uninstallKeepBackups, "keep-backups", false, "keep the backups directory")
	uninstallCmd.Flags().BoolVar(&uninstallTrash, "trash", false, "move removed items to the trash")
	uninstallCmd.Flags().StringSliceVar(&uninstallPreserve, "preserve", nil, "managed-root globs to keep (can be specified multiple times)")
	uninstallCmd.Flags().BoolVarP(&uninstallDryRun, "dry-run", "d", false, "show the plan without changing anything")
	rootCmd.AddCommand(uninstallCmd)
}

// runUninstall plans, confirms, and runs the uninstall.
func runUninstall(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	opt, err := restore.ParseOption(uninstallRestore)
	if err != nil {
		return err
	}
	var fallback restore.Option
	if uninstallFallback != "" {
		if fallback, err = restore.ParseOption(uninstallFallback); err != nil {
			return fmt.Errorf("--fallback: %w", err)
		}
	}

	if uninstallDryRun {
		return showPlan(cfg, opt)
	}

	ctx, cancel := signalContext()
	defer cancel()

	interactive := isInteractive()
	opts := uninstallOptions(cfg, opt)
	opts.NonInteractive = uninstallYes
	opts.Fallback = fallbackPolicy(fallback, interactive)
	if interactive {
		opts.Confirm = confirmPlan(opts.SkipSnapshot)
	}

	var reporter *tui.Reporter
	if interactive && !opts.SkipSnapshot {
		reporter = tui.NewReporter("Creating safety snapshot")
		opts.SnapshotProgress = reporter.Update
	}

	r := uninstall.New().Run(ctx, opts)

	if reporter != nil {
		var snapErr error
		if errors.Is(r.Err, snapshot.ErrSnapshotFailed) {
			snapErr = r.Err
		}
		reporter.Finish(snapErr)
	}

	err = render(output.Uninstall(r))

	var restoreErr *uninstall.RestoreFailedError
	switch {
	case errors.As(r.Err, &restoreErr) && restoreErr.SnapshotPath != "":
		printInfo("The managed root is intact. To recover it by hand:\n  tar xzf %s -C %s",
			restoreErr.SnapshotPath, filepath.Dir(cfg.ManagedRoot))
	case errors.Is(r.Err, uninstall.ErrNoConfirmation):
		printInfo("Re-run with --yes to uninstall without a prompt.")
	}
	return err
}

// uninstallOptions merges configuration and flags into orchestrator options.
func uninstallOptions(cfg *config.Config, opt restore.Option) uninstall.Options {
	opts := uninstall.Options{
		Home:         cfg.Home,
		ManagedRoot:  cfg.ManagedRoot,
		BackupDir:    cfg.Backup.Dir,
		Option:       opt,
		SkipSnapshot: uninstallNoSnapshot || !cfg.Snapshot.Enabled,
		SnapshotDir:  cfg.Snapshot.Dir,
		KeepBackups:  uninstallKeepBackups || cfg.Cleanup.KeepBackups,
		UseTrash:     uninstallTrash || cfg.Cleanup.UseTrash,
		Preserve:     append(append([]string{}, cfg.Cleanup.Preserve...), uninstallPreserve...),
	}
	if uninstallSnapshotDir != "" {
		opts.SnapshotDir = uninstallSnapshotDir
		if dir, err := config.ExpandPath(uninstallSnapshotDir); err == nil {
			opts.SnapshotDir = dir
		}
	}
	return opts
}

// fallbackPolicy decides what to do when the requested option cannot be
// planned: use the --fallback option if one was given, otherwise offer a
// clean removal on a terminal.
func fallbackPolicy(choice restore.Option, interactive bool) func(restore.Option, error) restore.Option {
	return func(failed restore.Option, err error) restore.Option {
		if choice != nil {
			printInfo("Cannot restore %s (%v); falling back to %s.", failed, err, choice)
			return choice
		}
		if !interactive {
			return nil
		}
		if _, isClean := failed.(restore.CleanRemoval); isClean {
			return nil
		}
		ok, perr := tui.Confirm(
			fmt.Sprintf("Cannot restore %s", failed),
			[]string{err.Error()},
			"Fall back to a clean removal? Nothing will be restored to the home directory.",
		)
		if perr != nil || !ok {
			return nil
		}
		return restore.CleanRemoval{}
	}
}

// confirmPlan shows the plan and asks before anything is changed.
func confirmPlan(skipSnapshot bool) func(*restore.Plan) bool {
	return func(p *restore.Plan) bool {
		if err := render(output.Plan(p)); err != nil {
			return false
		}
		warning := ""
		if skipSnapshot {
			warning = "No safety snapshot will be taken."
		}
		ok, err := tui.Confirm("Uninstall shelf?", planSummary(p), warning)
		if err != nil {
			printError("%v", err)
			return false
		}
		return ok
	}
}

// planSummary condenses a plan for the confirmation prompt.
func planSummary(p *restore.Plan) []string {
	lines := []string{
		fmt.Sprintf("restore: %s", p.OptionName),
		fmt.Sprintf("%d files to restore", len(p.FilesToRestore)),
		fmt.Sprintf("%d paths to remove", len(p.FilesToRemove)),
	}
	switch p.HistoryHandling {
	case restore.HistoryMerge:
		lines = append(lines, "shared history merged into "+p.HistoryDestination)
	case restore.HistorySkip:
		lines = append(lines, "history left as is")
	}
	return lines
}

// showPlan prints the plan for opt without running anything.
func showPlan(cfg *config.Config, opt restore.Option) error {
	in, err := restore.LoadInput(cfg.Home, cfg.ManagedRoot, cfg.Backup.Dir)
	if err != nil {
		return err
	}
	p, err := restore.NewPlan(opt, in)
	if err != nil {
		avail := make([]string, 0, 3)
		for _, o := range restore.Available(in) {
			avail = append(avail, o.String())
		}
		return fmt.Errorf("%w (available: %v)", err, avail)
	}
	return render(output.Plan(p))
}
