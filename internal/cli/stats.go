package cli

import (
	"fmt"
	"io"

	"github.com/ashureev/focusforge/internal/domain"
	"github.com/ashureev/focusforge/internal/shared"
	"github.com/ashureev/focusforge/internal/stats"
	"github.com/spf13/cobra"
)

func newStatsCmd(a *app) *cobra.Command {
	var recompute bool

	cmd := &cobra.Command{
		Use:   "stats <user-id>",
		Short: "Show a user's cumulative statistics",
		Long: `Show total focus time, sleep incidents and sleep time for a user.

Examples:
  focusctl stats anon_0123...             # Stored totals
  focusctl stats anon_0123... --recompute # Compare with totals rebuilt from sessions`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			userID := args[0]

			repo, err := a.openStore()
			if err != nil {
				return err
			}
			defer repo.Close()

			agg := stats.NewAggregator(repo, shared.RetryPolicy{
				MaxRetries: a.cfg.Retry.DatabaseMaxRetries,
				BaseDelay:  a.cfg.Retry.DatabaseRetryBaseDelay,
			}, nil)
			totals, err := agg.Totals(ctx, userID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printTotals(out, "Stored", totals)
			if !recompute {
				return nil
			}

			sessions, err := repo.ListSessions(ctx, userID, 0)
			if err != nil {
				return fmt.Errorf("failed to list sessions: %w", err)
			}
			rebuilt := stats.FoldSessions(sessions, a.cfg.Engine.SleepTimePerIncident)
			fmt.Fprintln(out)
			printTotals(out, "From sessions", rebuilt)
			if rebuilt != totals {
				fmt.Fprintln(out)
				fmt.Fprintln(out, "Totals differ from session history")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&recompute, "recompute", false, "Rebuild totals from finished sessions and compare")
	return cmd
}

func printTotals(w io.Writer, title string, t domain.Totals) {
	fmt.Fprintf(w, "%s\n", title)
	fmt.Fprintf(w, "  Focus time:      %s (%.1fs)\n", domain.FormatClock(t.TotalFocusTime), t.TotalFocusTime)
	fmt.Fprintf(w, "  Sleep incidents: %d\n", t.SleepIncidents)
	fmt.Fprintf(w, "  Sleep time:      %.1fs\n", t.TotalSleepTime)
}
