package commands

import (
	"github.com/spf13/cobra"
)

var (
	harvestLimit     int
	harvestForceFull bool
)

func init() {
	harvestCmd.Flags().IntVar(&harvestLimit, "limit", 0, "Stop once this many connections are stored, overrides limit.")
	harvestCmd.Flags().BoolVar(&harvestForceFull, "force-full", false, "Scan the whole list even when the records would do.")
	rootCmd.AddCommand(harvestCmd)
}

var harvestCmd = &cobra.Command{
	Use:   "harvest [target] [--limit <n>] [--force-full]",
	Short: "Saves the connections of an account to the records without commenting.",
	Long: "Saves the connections of target (or of the owner of the configured post when no target " +
		"is given) to the records without commenting, the same as running with save_only.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.SaveOnly = true
		cfg.SpecificFile = ""
		if len(args) > 0 {
			cfg.Target = args[0]
		}
		if cmd.Flags().Changed("limit") {
			cfg.Limit = harvestLimit
		}
		if cmd.Flags().Changed("force-full") {
			cfg.ForceFull = harvestForceFull
		}

		return execute(cmd.Context(), cfg)
	},
}
