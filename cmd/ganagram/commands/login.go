package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"ganagram/internal/components/chrono"
	"ganagram/internal/components/telemetry"
	"ganagram/internal/session"

	"github.com/spf13/cobra"
)

var loginForget bool

func init() {
	loginCmd.Flags().BoolVar(&loginForget, "forget", false, "Drop the stored session first and log in from scratch.")
	rootCmd.AddCommand(loginCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login [--forget]",
	Short: "Logs the configured account in and stores its session for later runs.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Account.Username == "" || cfg.Account.Password == "" {
			return errors.New("config is invalid: 'account.username' and 'account.password' are required")
		}
		base, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return fmt.Errorf("config is invalid: %w", err)
		}
		state, err := stateDir(cfg)
		if err != nil {
			return err
		}

		store := session.NewTokenStore(state)
		if loginForget {
			err = store.Forget(cfg.Account.Username)
			if err != nil {
				return fmt.Errorf("forget stored session: %w", err)
			}
		}

		browser, page, err := launchBrowser(cfg)
		if err != nil {
			return err
		}
		defer browser.Close()

		provider := session.NewProvider(page, chrono.NewStandardImpl(), telemetry.SlogAPI{}, store, base, cfg.TimeoutDuration())
		s, err := provider.LogIn(cmd.Context(), cfg.Account.Username, cfg.Account.Password)
		if err != nil {
			return fmt.Errorf("log in: %w", err)
		}
		slog.Info("logged in", "username", s.Username)

		active := provider.IsActive(cmd.Context(), s)
		slog.Info("checked stored session", "active", active)
		return nil
	},
}
