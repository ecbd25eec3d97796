package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/ashureev/focusforge/internal/domain"
	"github.com/spf13/cobra"
)

func newSessionsCmd(a *app) *cobra.Command {
	var last int

	cmd := &cobra.Command{
		Use:   "sessions <user-id>",
		Short: "List a user's focus sessions",
		Long: `List focus sessions, newest first.

Examples:
  focusctl sessions anon_0123...           # Last 10 sessions
  focusctl sessions anon_0123... --last 50 # Last 50 sessions`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := a.openStore()
			if err != nil {
				return err
			}
			defer repo.Close()

			sessions, err := repo.ListSessions(cmd.Context(), args[0], last)
			if err != nil {
				return fmt.Errorf("failed to list sessions: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions found")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTARTED\tDURATION\tDETECTIONS\tSTATUS")
			fmt.Fprintln(w, "--\t-------\t--------\t----------\t------")
			for _, s := range sessions {
				status := "done"
				if s.IsActive {
					status = "active"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
					s.ID,
					s.StartTime.Local().Format(time.DateTime),
					domain.FormatClock(s.Duration),
					s.SleepDetections,
					status,
				)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&last, "last", "n", 10, "Number of sessions to show")
	return cmd
}
