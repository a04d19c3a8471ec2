package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/banshee-data/coincidence/internal/db"
	"github.com/banshee-data/coincidence/internal/monitoring"
)

func newMigrateCommand(g *globals) *cobra.Command {
	open := func() (*db.DB, error) { return db.OpenDB(g.dbPath) }

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := open()
			if err != nil {
				return err
			}
			defer d.Close()
			monitoring.Logf("Running migrations...")
			if err := d.MigrateUp(db.MigrationsFS()); err != nil {
				return err
			}
			return printVersion(cmd, d)
		},
	}

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := open()
			if err != nil {
				return err
			}
			defer d.Close()
			monitoring.Logf("Rolling back one migration...")
			if err := d.MigrateDown(db.MigrationsFS()); err != nil {
				return err
			}
			return printVersion(cmd, d)
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := open()
			if err != nil {
				return err
			}
			defer d.Close()
			st, err := d.GetMigrationStatus(db.MigrationsFS())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "=== Migration Status ===")
			fmt.Fprintf(out, "Current version: %d\n", st.CurrentVersion)
			fmt.Fprintf(out, "Latest version: %d\n", st.LatestVersion)
			fmt.Fprintf(out, "Pending: %d\n", st.Pending())
			fmt.Fprintf(out, "Dirty: %v\n", st.Dirty)
			if st.Dirty {
				fmt.Fprintln(out, "\nWARNING: Database is in a dirty state!")
				fmt.Fprintln(out, "A migration failed mid-execution. Inspect the database, then run:")
				fmt.Fprintln(out, "  coincidences migrate force <version>")
			}
			return nil
		},
	}

	force := &cobra.Command{
		Use:   "force <version>",
		Short: "Set the schema version without running migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q", args[0])
			}
			d, err := open()
			if err != nil {
				return err
			}
			defer d.Close()
			if err := d.MigrateForce(db.MigrationsFS(), v); err != nil {
				return err
			}
			return printVersion(cmd, d)
		},
	}

	cmd.AddCommand(up, down, status, force)
	return cmd
}

func printVersion(cmd *cobra.Command, d *db.DB) error {
	v, dirty, err := d.MigrateVersion(db.MigrationsFS())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Current version: %d (dirty: %v)\n", v, dirty)
	return nil
}
