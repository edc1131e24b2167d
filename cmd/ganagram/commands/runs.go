package commands

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var runsLimit int

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "How many runs to list.")
	runsCmd.AddCommand(attemptsCmd)
	rootCmd.AddCommand(runsCmd)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

var runsCmd = &cobra.Command{
	Use:   "runs [-n <count>]",
	Short: "Lists the most recent runs from the journal.",
	RunE: func(cmd *cobra.Command, args []string) error {
		j, err := openStoredJournal()
		if err != nil {
			return err
		}
		defer j.Close()

		runs, err := j.RecentRuns(cmd.Context(), runsLimit)
		if err != nil {
			return fmt.Errorf("list runs: %w", err)
		}

		t := newTable()
		t.AppendHeader(table.Row{"ID", "Started", "Finished", "Status", "Mode", "Target", "Post", "New", "Sent", "Failed", "Error"})
		for _, r := range runs {
			t.AppendRow(table.Row{
				r.ID,
				formatTime(r.StartedAt),
				formatTime(r.FinishedAt),
				r.Status,
				r.Mode,
				r.Target,
				r.Post,
				r.Discovered,
				r.Confirmed,
				r.Failed,
				r.Error,
			})
		}
		t.Render()
		return nil
	},
}

var attemptsCmd = &cobra.Command{
	Use:   "attempts <run id>",
	Short: "Lists every comment submission attempt of a run.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid run id %q: %w", args[0], err)
		}

		j, err := openStoredJournal()
		if err != nil {
			return err
		}
		defer j.Close()

		attempts, err := j.Attempts(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("list attempts: %w", err)
		}

		t := newTable()
		t.AppendHeader(table.Row{"#", "At", "Outcome", "Duration", "Mentions", "Injected", "Error"})
		for _, a := range attempts {
			t.AppendRow(table.Row{
				a.Number,
				formatTime(a.At),
				a.Outcome,
				a.Duration,
				strings.Join(a.Mentions, ", "),
				a.Injected,
				a.Error,
			})
		}
		t.Render()
		return nil
	},
}
