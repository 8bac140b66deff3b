package main

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/jamesainslie/shelf/pkg/shelf/config"
	"github.com/jamesainslie/shelf/pkg/shelf/output"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage shelf configuration settings.

Configuration is loaded from:
  1. $XDG_CONFIG_HOME/shelf/config.yaml (if set)
  2. ~/.config/shelf/config.yaml

Environment variables can override config file settings using the SHELF_ prefix:
  SHELF_MANAGED_ROOT=~/.shelf
  SHELF_BACKUP_DIR=/mnt/backups/shelf
  SHELF_CLEANUP_KEEP_BACKUPS=true`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the effective configuration with every path resolved.`,
	RunE:  runConfigShow,
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit configuration file",
	Long: `Open the configuration file in your default editor.

The editor is determined by:
  1. $VISUAL environment variable
  2. $EDITOR environment variable
  3. Falls back to 'vi'

If the config file doesn't exist, a default one will be created first.`,
	RunE: runConfigEdit,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create default configuration file",
	Long:  `Create a default configuration file if one doesn't exist.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	Long:  `Display the path to the configuration file.`,
	RunE:  runConfigPath,
}

// configEnvVars lists the environment overrides config show reports.
var configEnvVars = []string{
	"SHELF_HOME",
	"SHELF_MANAGED_ROOT",
	"SHELF_BACKUP_DIR",
	"SHELF_BACKUP_ARCHIVE_FRAMEWORK",
	"SHELF_SNAPSHOT_ENABLED",
	"SHELF_SNAPSHOT_DIR",
	"SHELF_CLEANUP_KEEP_BACKUPS",
	"SHELF_CLEANUP_USE_TRASH",
	"SHELF_CLEANUP_PRESERVE",
	"SHELF_LOGGING_LEVEL",
	"SHELF_LOGGING_PATH",
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

// runConfigShow displays the current configuration.
func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return render(configDocument(cfg, os.Getenv))
}

// configDocument describes cfg and the environment overrides in effect.
func configDocument(cfg *config.Config, getenv func(string) string) *output.Document {
	d := &output.Document{Title: "Current configuration", Data: cfg}

	source := cfgFile
	if source == "" {
		if path, err := config.ConfigPath(); err == nil {
			if _, err := os.Stat(path); err == nil {
				source = path
			}
		}
	}
	if source == "" {
		source = "(using defaults, no file found)"
	}
	d.AddField("config file", source)

	d.AddField("home", cfg.Home)
	d.AddField("managed_root", cfg.ManagedRoot)
	d.AddField("backup.dir", cfg.Backup.Dir)
	d.AddField("backup.archive_framework", strconv.FormatBool(cfg.Backup.ArchiveFramework))
	d.AddField("snapshot.enabled", strconv.FormatBool(cfg.Snapshot.Enabled))
	d.AddField("snapshot.dir", cfg.Snapshot.Dir)
	d.AddField("cleanup.keep_backups", strconv.FormatBool(cfg.Cleanup.KeepBackups))
	d.AddField("cleanup.use_trash", strconv.FormatBool(cfg.Cleanup.UseTrash))
	d.AddField("cleanup.preserve", strings.Join(cfg.Cleanup.Preserve, ", "))
	d.AddField("logging.level", cfg.Logging.Level)
	d.AddField("journal", cfg.JournalDir())

	env := output.Section{Title: "Environment overrides", Columns: []string{"variable", "value"}, Empty: "(none)"}
	for _, name := range configEnvVars {
		if val := getenv(name); val != "" {
			env.Rows = append(env.Rows, []string{name, val})
		}
	}
	d.Sections = append(d.Sections, env)
	return d
}

// runConfigEdit opens the config file in an editor.
func runConfigEdit(cmd *cobra.Command, args []string) error {
	// Ensure config file exists
	configPath, err := config.WriteDefault()
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}

	// Determine editor
	editor := os.Getenv("VISUAL")
	if editor == "" {
		editor = os.Getenv("EDITOR")
	}
	if editor == "" {
		editor = "vi"
	}

	printVerbose("Opening %s with %s", configPath, editor)

	editorCmd := exec.Command(editor, configPath)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr

	if err := editorCmd.Run(); err != nil {
		return fmt.Errorf("editor command failed: %w", err)
	}
	return nil
}

// runConfigInit creates a default config file.
func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath, err := config.ConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		printInfo("Config file already exists: %s", configPath)
		printInfo("Use 'shelf config edit' to modify it.")
		return nil
	}

	if _, err := config.WriteDefault(); err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}

	printInfo("Created default config file: %s", configPath)
	return nil
}

// runConfigPath shows the config file path.
func runConfigPath(cmd *cobra.Command, args []string) error {
	configPath, err := config.ConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}

	fmt.Println(configPath)

	if _, err := os.Stat(configPath); err == nil {
		printVerbose("File exists")
	} else if os.IsNotExist(err) {
		printVerbose("File does not exist (will use defaults)")
	}
	return nil
}
