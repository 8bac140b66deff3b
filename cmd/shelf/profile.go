package main

import (
	"github.com/jamesainslie/shelf/pkg/shelf/output"
	"github.com/jamesainslie/shelf/pkg/shelf/profile"
	"github.com/spf13/cobra"
)

var profileCmd = &cobra.Command{
	Use:     "profile",
	Aliases: []string{"profiles"},
	Short:   "Inspect shelf profiles",
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List profiles",
	Long: `List the profiles under <managed_root>/profiles. The active profile is
marked with *. Any profile can be promoted with
'shelf uninstall --restore promote=<id>'.`,
	Args: cobra.NoArgs,
	RunE: runProfileList,
}

func init() {
	profileCmd.AddCommand(profileListCmd)
	rootCmd.AddCommand(profileCmd)
}

// runProfileList lists profiles in the managed root.
func runProfileList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	list, err := profile.NewStore(cfg.ManagedRoot).List()
	if err != nil {
		return err
	}
	return render(output.Profiles(list))
}
