package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"ganagram/internal/bot"
	"ganagram/internal/components/chrono"
	"ganagram/internal/components/telemetry"
	"ganagram/internal/config"
	"ganagram/internal/session"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var runHeadless bool

func init() {
	runCmd.Flags().BoolVar(&runHeadless, "headless", false, "Hide the browser window, overrides browser.headless.")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run [--headless]",
	Short: "Logs in, gathers the connections to mention and comments on the configured post.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("headless") {
			cfg.Browser.Headless = runHeadless
		}
		return execute(cmd.Context(), cfg)
	},
}

// execute runs the bot on its own goroutine and prints its progress until it is done. A run
// stopped by the user is not an error, its summary says how far it got.
func execute(ctx context.Context, cfg config.Config) error {
	err := cfg.Validate()
	if err != nil {
		return fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	state, err := stateDir(cfg)
	if err != nil {
		return err
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return err
	}

	j, err := openJournal(state)
	if err != nil {
		return err
	}
	defer j.Close()

	browser, page, err := launchBrowser(cfg)
	if err != nil {
		return err
	}
	defer browser.Close()

	telemetry.InstrumentPerfStats(ctx)

	tel := telemetry.SlogAPI{}
	clock := chrono.NewStandardImpl()
	provider := session.NewProvider(page, clock, tel, session.NewTokenStore(state), base, cfg.TimeoutDuration())

	b, err := bot.New(cfg, page, clock, tel, provider, j, state)
	if err != nil {
		return err
	}

	progress := make(chan bot.Progress)
	go b.Run(ctx, progress)

	var summary bot.Summary
	for p := range progress {
		if p.Done {
			summary = p.Summary
			continue
		}
		slog.Info(p.Message)
	}

	printSummary(summary)
	if summary.Cancelled {
		slog.Warn("stopped early, everything found and sent so far was saved")
		return nil
	}
	return summary.Err
}

func printSummary(s bot.Summary) {
	t := newTable()
	t.SetTitle(s.String())
	t.AppendHeader(table.Row{"Target", "In records", "New", "Not mentioned yet", "Comments", "Sent", "Failed attempts"})
	t.AppendRow(table.Row{s.Target, s.Known, s.Discovered, s.Available, s.Planned, s.Confirmed, s.Failed})
	t.Render()
}
