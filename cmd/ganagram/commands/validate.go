package commands

import (
	"fmt"
	"log/slog"

	"ganagram/internal/template"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(validateCmd)
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Checks the config without opening a browser.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		err = cfg.Validate()
		if err != nil {
			return fmt.Errorf("config is invalid: %w", err)
		}

		attrs := []any{"relation", cfg.Relation, "limit", cfg.Limit, "save_only", cfg.SaveOnly}
		if !cfg.SaveOnly {
			tmpl, err := template.Parse(cfg.Template)
			if err != nil {
				return fmt.Errorf("config is invalid: %w", err)
			}
			attrs = append(attrs, "mentions_per_comment", tmpl.Slots())
		}
		slog.Info("config is valid", attrs...)
		return nil
	},
}
