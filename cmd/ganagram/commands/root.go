package commands

import (
	"context"
	"log/slog"

	"ganagram/internal/components/telemetry"
	"ganagram/internal/config"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "ganagram",
	Short: "ganagram comments on a giveaway post, mentioning the followers of an account a few at a time.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(verbose)
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "The json5 config file, <name>.local.json5 next to it overrides it.")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug messages.")
}

// ExecuteContext runs the command line, errors are logged and returned so the caller can flush
// telemetry before exiting.
func ExecuteContext(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		slog.Error("command failed", "err", err)
	}
	return err
}
