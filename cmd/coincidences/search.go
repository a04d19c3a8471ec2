package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/coincidence/internal/coincidence"
	"github.com/banshee-data/coincidence/internal/config"
	"github.com/banshee-data/coincidence/internal/db"
	"github.com/banshee-data/coincidence/internal/esd"
	"github.com/banshee-data/coincidence/internal/monitoring"
	"github.com/banshee-data/coincidence/internal/units"
)

type searchFlags struct {
	configPath  string
	window      string
	stations    []uint
	shifts      map[string]int64
	start, end  string
	limit       int
	max         int
	partition   time.Duration
	parallel    int
	esdDir      string
	out         string
	noStore     bool
	metricsFile string
	every       int
}

func newSearchCommand(g *globals) *cobra.Command {
	f := &searchFlags{}
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search station events for coincidences",
		Long: `Search merges every selected station's events in time order and groups
events closer than the window into coincidences. Events come from the
database, or from a directory of ESD event files with --esd-dir. Results are
stored as a run in the database unless --no-store is given, and can also be
written as TSV with --out.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, g, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.configPath, "config", "", "JSON search config; flags override its values")
	fl.StringVarP(&f.window, "window", "w", "", "coincidence window, ns or duration (default 2000)")
	fl.UintSliceVar(&f.stations, "stations", nil, "station ids to include (default all)")
	fl.StringToInt64Var(&f.shifts, "shift", nil, "clock shift per station in ns, e.g. 502=-40")
	fl.StringVar(&f.start, "start", "", "first timestamp, ns or RFC3339")
	fl.StringVar(&f.end, "end", "", "end timestamp (exclusive), ns or RFC3339")
	fl.IntVar(&f.limit, "limit", 0, "maximum events read per station")
	fl.IntVar(&f.max, "max", 0, "stop after this many coincidences")
	fl.DurationVar(&f.partition, "partition", 0, "search partitions of this length independently")
	fl.IntVar(&f.parallel, "parallel", 1, "partitions searched at once")
	fl.StringVar(&f.esdDir, "esd-dir", "", "read events from ESD files in this directory")
	fl.StringVarP(&f.out, "out", "o", "", "also write coincidences as TSV to this file ('-' for stdout)")
	fl.BoolVar(&f.noStore, "no-store", false, "do not store the run in the database")
	fl.StringVar(&f.metricsFile, "metrics-file", "", "write Prometheus metrics to this file when done")
	fl.IntVar(&f.every, "progress-every", 0, "merged events between progress lines")
	return cmd
}

// resolve merges the config file with the flags that were set explicitly.
func (f *searchFlags) resolve(cmd *cobra.Command) (*config.SearchConfig, error) {
	cfg := &config.SearchConfig{}
	if f.configPath != "" {
		var err error
		if cfg, err = config.LoadSearchConfig(f.configPath); err != nil {
			return nil, err
		}
	}
	fl := cmd.Flags()
	if fl.Changed("window") {
		w, err := units.ParseWindow(f.window)
		if err != nil {
			return nil, err
		}
		cfg.WindowNs = &w
	}
	if fl.Changed("stations") {
		cfg.Stations = make([]uint32, len(f.stations))
		for i, s := range f.stations {
			cfg.Stations[i] = uint32(s)
		}
	}
	if fl.Changed("shift") {
		if cfg.ShiftsNs == nil {
			cfg.ShiftsNs = map[string]int64{}
		}
		for k, v := range f.shifts {
			cfg.ShiftsNs[k] = v
		}
	}
	if fl.Changed("start") {
		cfg.Start = &f.start
	}
	if fl.Changed("end") {
		cfg.End = &f.end
	}
	if fl.Changed("limit") {
		cfg.EventLimit = &f.limit
	}
	if fl.Changed("max") {
		cfg.MaxCoincidences = &f.max
	}
	if fl.Changed("partition") {
		p := f.partition.String()
		cfg.Partition = &p
	}
	if fl.Changed("parallel") {
		cfg.Parallel = &f.parallel
	}
	if fl.Changed("progress-every") {
		cfg.ProgressEvery = &f.every
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runSearch(cmd *cobra.Command, g *globals, f *searchFlags) error {
	ctx := cmd.Context()
	cfg, err := f.resolve(cmd)
	if err != nil {
		return err
	}
	opts, err := cfg.Options()
	if err != nil {
		return err
	}
	shifts, _ := cfg.GetShifts()

	var d *db.DB
	if f.esdDir == "" || !f.noStore {
		if d, err = g.openDB(); err != nil {
			return err
		}
		defer d.Close()
	}

	var provider coincidence.Provider
	source := "raw"
	if f.esdDir != "" {
		files, err := esd.Discover(f.esdDir)
		if err != nil {
			return fmt.Errorf("read esd dir: %w", err)
		}
		if len(files) == 0 {
			return fmt.Errorf("no station event files in %s", f.esdDir)
		}
		provider = &esd.Provider{Files: files, Shifts: shifts}
		source = "esd"
	} else {
		provider = db.NewEventProvider(d, shifts)
	}

	metrics := monitoring.NewMetrics()
	opts.Progress = func(p coincidence.Progress) {
		metrics.ObserveProgress(p)
		if !p.Done {
			monitoring.Logf("merged %d events, %d coincidences, at %s",
				p.Events, p.Coincidences, units.FormatExt(p.Timestamp))
		}
	}
	opts.Diagnostics = func(dg coincidence.Diagnostic) {
		metrics.ObserveDiagnostic(dg)
		monitoring.Logf("warning: %s", dg)
	}

	var sinks coincidence.MultiSink
	var store *db.CoincidenceSink
	if !f.noStore {
		store, err = d.NewCoincidenceSink(ctx, db.RunOptions{WindowNs: opts.Window, Source: source, Params: cfg})
		if err != nil {
			return err
		}
		defer store.Abort()
		sinks = append(sinks, store)
	}
	if f.out != "" {
		out := cmd.OutOrStdout()
		if f.out != "-" {
			file, err := os.Create(f.out)
			if err != nil {
				return err
			}
			defer file.Close()
			out = file
		}
		sinks = append(sinks, esd.NewWriter(out))
	}
	if len(sinks) == 0 {
		return errors.New("nothing to do: --no-store without --out")
	}
	sink := metrics.Sink(sinks)

	started := time.Now()
	var sum coincidence.Summary
	if part := cfg.GetPartition(); part > 0 {
		rangeDB := d
		if source == "esd" {
			rangeDB = nil
		}
		var parts []coincidence.Partition
		if parts, err = partitions(ctx, rangeDB, opts, part); err != nil {
			return err
		}
		sum, err = coincidence.SearchPartitions(ctx, provider, sink, parts, opts, cfg.GetParallel())
	} else {
		sum, err = coincidence.Search(ctx, provider, sink, opts)
	}
	metrics.ObserveRun(sum, time.Since(started), err)
	if f.metricsFile != "" {
		if werr := metrics.WriteTextfile(f.metricsFile); werr != nil {
			monitoring.Logf("warning: failed to write metrics: %v", werr)
		}
	}
	if err != nil {
		return err
	}

	msg := fmt.Sprintf("%d coincidences in %d events from %d stations (window %d ns)",
		sum.Coincidences, sum.Events, sum.Sources, opts.Window)
	if sum.Truncated {
		msg += ", stopped at --max"
	}
	if store != nil {
		msg += ", run " + store.RunID()
	}
	monitoring.Logf("%s", msg)
	if f.out != "-" {
		fmt.Fprintln(cmd.OutOrStdout(), msg)
	}
	return nil
}

// partitions splits the search range. An open range over the database is
// closed with the extent of the stored events.
func partitions(ctx context.Context, d *db.DB, opts coincidence.Options, size time.Duration) ([]coincidence.Partition, error) {
	start, end := opts.Start, opts.End
	if end == 0 {
		if d == nil {
			return nil, errors.New("--partition with --esd-dir needs --end")
		}
		first, last, ok, err := d.EventRange(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return []coincidence.Partition{{Start: start}}, nil
		}
		if start == 0 {
			start = first
		}
		end = last + 1
	}
	return coincidence.Partitions(start, end, size.Nanoseconds()), nil
}

func parseStation(s string) (uint32, error) {
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid station id %q", s)
	}
	return uint32(id), nil
}
