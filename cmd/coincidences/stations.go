package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/banshee-data/coincidence/internal/db"
)

func newStationsCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stations",
		Short: "List stations and their clock shifts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := g.openDB()
			if err != nil {
				return err
			}
			defer d.Close()

			ctx := cmd.Context()
			stations, err := d.Stations(ctx)
			if err != nil {
				return fmt.Errorf("list stations: %w", err)
			}
			if len(stations) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No stations.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSHIFT NS\tEVENTS")
			for _, s := range stations {
				n, err := d.StationEventCount(ctx, s.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%d\t%s\t%d\t%d\n", s.ID, s.Name, s.ShiftNs, n)
			}
			return w.Flush()
		},
	}

	var name string
	var shift int64
	add := &cobra.Command{
		Use:   "add <id>",
		Short: "Create or update a station",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseStation(args[0])
			if err != nil {
				return err
			}
			d, err := g.openDB()
			if err != nil {
				return err
			}
			defer d.Close()
			if err := d.UpsertStation(cmd.Context(), db.Station{ID: id, Name: name, ShiftNs: shift}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Station %d saved.\n", id)
			return nil
		},
	}
	add.Flags().StringVar(&name, "name", "", "station name")
	add.Flags().Int64Var(&shift, "shift", 0, "clock shift in ns")

	setShift := &cobra.Command{
		Use:   "shift <id> <ns>",
		Short: "Set a station's clock shift",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseStation(args[0])
			if err != nil {
				return err
			}
			ns, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid shift %q", args[1])
			}
			d, err := g.openDB()
			if err != nil {
				return err
			}
			defer d.Close()
			if err := d.SetStationShift(cmd.Context(), id, ns); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Station %d shift set to %d ns.\n", id, ns)
			return nil
		},
	}

	cmd.AddCommand(add, setShift)
	return cmd
}
