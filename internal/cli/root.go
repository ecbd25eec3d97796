// Package cli implements the focusctl operator commands.
package cli

import (
	"fmt"
	"os"

	"github.com/ashureev/focusforge/internal/config"
	"github.com/ashureev/focusforge/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// app carries state shared by every subcommand.
type app struct {
	dbPath string
	cfg    *config.Config
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCmd builds the focusctl command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "focusctl",
		Short: "Inspect focus sessions and drowsiness statistics",
		Long: `focusctl reads the FocusForge database and runs the eye-state analyzer
against still images or replayed frame sequences.

Configuration is read from the environment (and .env) exactly like the server.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			_ = godotenv.Load()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a.cfg = cfg
			if a.dbPath == "" {
				a.dbPath = cfg.DBPath
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "SQLite database path (default: DB_PATH)")

	root.AddCommand(newStatsCmd(a))
	root.AddCommand(newSessionsCmd(a))
	root.AddCommand(newAnalyzeCmd(a))
	return root
}

func (a *app) openStore() (store.Repository, error) {
	repo, err := store.NewSQLite(a.dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return repo, nil
}
