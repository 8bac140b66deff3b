package main

import (
	"github.com/jamesainslie/shelf/pkg/shelf/detect"
	"github.com/jamesainslie/shelf/pkg/shelf/output"
	"github.com/spf13/cobra"
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Show the existing zsh configuration",
	Long: `Inventory the zsh configuration in the home directory: startup files,
the history file, and any framework installation (oh-my-zsh, prezto, ...).

Nothing is modified. Unreadable files are reported as warnings.`,
	Args: cobra.NoArgs,
	RunE: runDetect,
}

func init() {
	rootCmd.AddCommand(detectCmd)
}

// runDetect prints what detection finds in the configured home directory.
func runDetect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return render(output.Detection(detect.Detect(cfg.Home)))
}
