package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/banshee-data/coincidence/internal/units"
)

func newRunsCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored search runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := g.openDB()
			if err != nil {
				return err
			}
			defer d.Close()

			runs, err := d.Runs(cmd.Context())
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs stored.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tSOURCE\tWINDOW\tEVENTS\tCOINCIDENCES\tSTARTED")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
					r.ID, r.Source, r.WindowNs, r.EventCount, r.CoincidenceCount, units.FormatExt(r.StartedAt))
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <run>",
		Short: "Delete a run and its coincidences",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := g.openDB()
			if err != nil {
				return err
			}
			defer d.Close()
			if _, err := d.GetRun(cmd.Context(), args[0]); err != nil {
				return err
			}
			if err := d.DeleteRun(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("delete run: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Run %s deleted.\n", args[0])
			return nil
		},
	})
	return cmd
}

func newLookupCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <station> <event>",
		Short: "List the stored coincidences containing an event",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			station, err := parseStation(args[0])
			if err != nil {
				return err
			}
			index, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid event index %q", args[1])
			}

			d, err := g.openDB()
			if err != nil {
				return err
			}
			defer d.Close()

			hits, err := d.CoincidencesForEvent(cmd.Context(), station, index)
			if err != nil {
				return err
			}
			if len(hits) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Event %d of station %d is in no stored coincidence.\n", index, station)
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tCOINCIDENCE\tPOSITION")
			for _, h := range hits {
				fmt.Fprintf(w, "%s\t%d\t%d\n", h.RunID, h.CoincidenceID, h.Ordinal)
			}
			return w.Flush()
		},
	}
}
