package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/banshee-data/coincidence/internal/db"
	"github.com/banshee-data/coincidence/internal/monitoring"
	"github.com/banshee-data/coincidence/internal/version"
)

// globals are the flags shared by every subcommand.
type globals struct {
	dbPath string
	quiet  bool
}

func (g *globals) openDB() (*db.DB, error) {
	return db.NewDB(g.dbPath)
}

// NewRootCommand builds the command tree. Each call returns fresh commands
// and flag state.
func NewRootCommand() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "coincidences",
		Short:         "Find coincident events across detector stations",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if g.quiet {
				monitoring.SetLogger(nil)
			}
		},
	}
	root.PersistentFlags().StringVar(&g.dbPath, "db", "coincidences.db", "path to the SQLite database")
	root.PersistentFlags().BoolVarP(&g.quiet, "quiet", "q", false, "suppress progress logging")

	root.AddCommand(
		newSearchCommand(g),
		newImportCommand(g),
		newSimulateCommand(g),
		newReportCommand(g),
		newRunsCommand(g),
		newLookupCommand(g),
		newStationsCommand(g),
		newServeCommand(g),
		newMigrateCommand(g),
		newBackupCommand(g),
		newVersionCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
