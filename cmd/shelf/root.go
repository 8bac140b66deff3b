package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jamesainslie/shelf/pkg/shelf/config"
	"github.com/jamesainslie/shelf/pkg/shelf/logging"
	"github.com/jamesainslie/shelf/pkg/shelf/output"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// errReported marks a failure whose details were already rendered.
var errReported = errors.New("failed")

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "shelf",
		Short: "Isolated zsh profiles with a lossless way back",
		Long: `Shelf keeps zsh configurations in isolated profiles under ~/.shelf.

Before taking over, shelf backs up the existing configuration, verifies the
backup, and only then clears the originals from your home directory. At any
time you can uninstall and restore the original setup, promote one of your
profiles to be the plain configuration, or remove everything.

Examples:
  shelf detect                       # Show the zsh configuration shelf would manage
  shelf init                         # Back up, verify, and hand over the home directory
  shelf backup verify                # Check the backup against its manifest
  shelf profile list                 # List profiles
  shelf uninstall                    # Restore the original configuration
  shelf uninstall --restore promote=work
  shelf uninstall --restore clean -y # Remove everything without prompting`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) { _ = logging.Close() },
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/shelf/config.yaml)")
	rootCmd.PersistentFlags().StringP("output", "o", "pretty", "output format: "+strings.Join(output.Available(), ", "))
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "minimal output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug output")

	// Bind flags to viper
	_ = viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig enables SHELF_ environment overrides for the CLI flags.
// The configuration file itself is read by loadConfig.
func initConfig() {
	viper.SetEnvPrefix("SHELF")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

// loadConfig loads the configuration and starts logging.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(cfgFile)
	if err != nil {
		return nil, err
	}

	logCfg, err := loggingConfig(cfg, getVerbose(), getQuiet())
	if err != nil {
		return nil, err
	}
	if err := logging.Init(logCfg); err != nil {
		// Logging is best effort; the command still runs.
		printVerbose("logging disabled: %v", err)
	}

	printVerbose("home: %s", cfg.Home)
	printVerbose("managed root: %s", cfg.ManagedRoot)
	return cfg, nil
}

// loggingConfig derives the logging setup from the configuration and the
// verbosity flags. --verbose mirrors debug records to stderr; --quiet
// silences the console entirely.
func loggingConfig(cfg *config.Config, verbose, quiet bool) (logging.Config, error) {
	logCfg, err := cfg.LoggingConfig()
	if err != nil {
		return logCfg, err
	}
	switch {
	case quiet:
		logCfg.ConsoleLevel = ""
	case verbose:
		logCfg.Level = "debug"
		logCfg.ConsoleLevel = "debug"
	}
	return logCfg, nil
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil && !errors.Is(err, errReported) {
		printError("%v", err)
	}
	return err
}

// getVerbose returns true if verbose mode is enabled.
func getVerbose() bool {
	return viper.GetBool("verbose")
}

// getQuiet returns true if quiet mode is enabled.
func getQuiet() bool {
	return viper.GetBool("quiet")
}

// getOutputFormat returns the selected output format.
func getOutputFormat() string {
	return viper.GetString("output")
}

// isInteractive reports whether prompts and progress displays can be shown.
func isInteractive() bool {
	if getOutputFormat() != "pretty" || getQuiet() {
		return false
	}
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// render writes d to stdout in the selected format. A failed document
// yields errReported so the command exits non-zero without repeating
// the failure.
func render(d *output.Document) error {
	formatter, err := output.Get(getOutputFormat())
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := formatter.Format(&buf, d); err != nil {
		return fmt.Errorf("formatting output: %w", err)
	}
	if !getQuiet() || d.Failed || getOutputFormat() != "pretty" {
		if _, err := os.Stdout.Write(buf.Bytes()); err != nil {
			return err
		}
	}

	if d.Failed {
		return errReported
	}
	return nil
}

// printVerbose prints a message if verbose mode is enabled.
func printVerbose(format string, args ...interface{}) {
	if getVerbose() && !getQuiet() {
		fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", args...)
	}
}

// printInfo prints a message if quiet mode is not enabled.
func printInfo(format string, args ...interface{}) {
	if !getQuiet() {
		fmt.Printf(format+"\n", args...)
	}
}

// printError prints an error message to stderr.
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}
