package main

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/coincidence/internal/db"
	"github.com/banshee-data/coincidence/internal/esd"
	"github.com/banshee-data/coincidence/internal/simulate"
	"github.com/banshee-data/coincidence/internal/units"
)

func newSimulateCommand(g *globals) *cobra.Command {
	var (
		stations   []uint
		start      string
		duration   time.Duration
		background float64
		showers    float64
		size       int
		jitter     float64
		seed       uint64
		outDir     string
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Generate synthetic station events",
		Long: `Simulate draws Poisson background events for each station and injects
showers that hit --shower-size stations with Gaussian arrival jitter. The
events are written to the database, or as ESD files to --out-dir.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := simulate.Config{
				Duration:       duration.Nanoseconds(),
				BackgroundRate: background,
				ShowerRate:     showers,
				ShowerSize:     size,
				Jitter:         jitter,
				Seed:           seed,
			}
			for _, s := range stations {
				cfg.Stations = append(cfg.Stations, uint32(s))
			}
			if start != "" {
				var err error
				if cfg.Start, err = units.ParseExt(start); err != nil {
					return err
				}
			}
			res, err := simulate.Generate(cfg)
			if err != nil {
				return err
			}

			ids := slices.Sorted(maps.Keys(res.Events))
			if outDir != "" {
				if err := os.MkdirAll(outDir, 0o755); err != nil {
					return err
				}
				for _, id := range ids {
					if err := writeEventFile(filepath.Join(outDir, fmt.Sprintf("%d.tsv", id)), id, res); err != nil {
						return err
					}
				}
			} else {
				d, err := g.openDB()
				if err != nil {
					return err
				}
				defer d.Close()
				ctx := cmd.Context()
				for _, id := range ids {
					if err := d.UpsertStation(ctx, db.Station{ID: id, Name: fmt.Sprintf("sim-%d", id)}); err != nil {
						return err
					}
					rows := make([]db.StoredEvent, len(res.Events[id]))
					for i, e := range res.Events[id] {
						rows[i] = db.StoredEvent{Index: e.LocalIndex, ExtTimestamp: e.Timestamp}
					}
					if err := d.InsertEvents(ctx, id, rows); err != nil {
						return err
					}
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d events on %d stations, %d showers injected\n",
				res.Count(), len(ids), len(res.Showers))
			return nil
		},
	}
	fl := cmd.Flags()
	fl.UintSliceVar(&stations, "stations", []uint{501, 502, 503, 504}, "station ids")
	fl.StringVar(&start, "start", "", "start time, ns or RFC3339 (default the epoch)")
	fl.DurationVar(&duration, "duration", time.Hour, "simulated time span")
	fl.Float64Var(&background, "background", 1, "background events per second per station")
	fl.Float64Var(&showers, "shower-rate", 0.01, "showers per second")
	fl.IntVar(&size, "shower-size", 3, "stations hit by each shower")
	fl.Float64Var(&jitter, "jitter", 50, "arrival time spread within a shower, ns")
	fl.Uint64Var(&seed, "seed", 1, "random seed")
	fl.StringVar(&outDir, "out-dir", "", "write ESD event files here instead of the database")
	return cmd
}

func writeEventFile(path string, id uint32, res simulate.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := esd.WriteEvents(f, id, res.Events[id]); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
