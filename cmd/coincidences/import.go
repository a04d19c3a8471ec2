package main

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/banshee-data/coincidence/internal/db"
	"github.com/banshee-data/coincidence/internal/esd"
	"github.com/banshee-data/coincidence/internal/monitoring"
)

const importBatch = 10000

func newImportCommand(g *globals) *cobra.Command {
	var (
		station int64
		name    string
		shift   int64
		dir     string
	)
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Load ESD event files into the database",
		Long: `Import one station's event file (with --station) or every station file
found in a directory (with --dir). Stations are created as needed; existing
events with the same index are replaced.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files := map[uint32]string{}
			switch {
			case dir != "" && len(args) == 0:
				var err error
				if files, err = esd.Discover(dir); err != nil {
					return err
				}
			case dir == "" && len(args) == 1 && station >= 0:
				files[uint32(station)] = args[0]
			default:
				return errors.New("give either --dir, or --station and a file")
			}

			d, err := g.openDB()
			if err != nil {
				return err
			}
			defer d.Close()

			ctx := cmd.Context()
			for _, id := range slices.Sorted(maps.Keys(files)) {
				st := db.Station{ID: id, Name: name}
				if existing, err := d.Station(ctx, id); err == nil {
					st = existing
					if name != "" {
						st.Name = name
					}
				}
				if cmd.Flags().Changed("shift") {
					st.ShiftNs = shift
				}
				if err := d.UpsertStation(ctx, st); err != nil {
					return err
				}
				n, err := importFile(ctx, d, id, files[id])
				if err != nil {
					return fmt.Errorf("import %s: %w", files[id], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "station %d: %d events from %s\n", id, n, files[id])
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&station, "station", -1, "station id of the file")
	cmd.Flags().StringVar(&name, "name", "", "station name")
	cmd.Flags().Int64Var(&shift, "shift", 0, "station clock shift in ns")
	cmd.Flags().StringVar(&dir, "dir", "", "import every <station>.tsv file in this directory")
	return cmd
}

func importFile(ctx context.Context, d *db.DB, station uint32, path string) (int, error) {
	s, err := esd.OpenStream(station, path)
	if err != nil {
		return 0, err
	}
	defer s.Close()

	total := 0
	batch := make([]db.StoredEvent, 0, importBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := d.InsertEvents(ctx, station, batch); err != nil {
			return err
		}
		total += len(batch)
		batch = batch[:0]
		monitoring.Logf("station %d: %d events imported", station, total)
		return nil
	}
	for e, ok := s.Next(); ok; e, ok = s.Next() {
		batch = append(batch, db.StoredEvent{Index: e.LocalIndex, ExtTimestamp: e.Timestamp})
		if len(batch) == importBatch {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := s.Err(); err != nil {
		return total, err
	}
	return total, flush()
}
