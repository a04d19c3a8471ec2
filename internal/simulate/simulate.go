// Package simulate generates synthetic station event data: uncorrelated
// background hits per station plus air showers that hit several stations
// within a few hundred nanoseconds of each other.
package simulate

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/coincidence/internal/coincidence"
)

const nsPerSecond = 1e9

// Config describes one synthetic data set.
type Config struct {
	Stations       []uint32
	Start          int64   // ext ns of the first possible event
	Duration       int64   // ns
	BackgroundRate float64 // background events per second per station
	ShowerRate     float64 // showers per second over the whole network
	ShowerSize     int     // stations hit by each shower, at least 2
	Jitter         float64 // standard deviation of arrival times within a shower, ns
	Seed           uint64
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if len(c.Stations) == 0 {
		return errors.New("no stations")
	}
	if c.Duration <= 0 {
		return fmt.Errorf("duration must be positive, got %d", c.Duration)
	}
	if c.BackgroundRate < 0 || c.ShowerRate < 0 {
		return errors.New("rates must be non-negative")
	}
	if c.ShowerRate > 0 && (c.ShowerSize < 2 || c.ShowerSize > len(c.Stations)) {
		return fmt.Errorf("shower size must be between 2 and %d, got %d", len(c.Stations), c.ShowerSize)
	}
	if c.Jitter < 0 {
		return fmt.Errorf("jitter must be non-negative, got %g", c.Jitter)
	}
	return nil
}

// Shower is one injected coincident event.
type Shower struct {
	Time     int64
	Stations []uint32 // ascending
}

// Result holds the generated events, sorted per station with local indices
// assigned, and the showers that were injected.
type Result struct {
	Events  map[uint32][]coincidence.Event
	Showers []Shower
}

// Provider serves the generated events to a search.
func (r Result) Provider() coincidence.StaticProvider {
	return coincidence.StaticProvider(r.Events)
}

// Count returns the total number of generated events.
func (r Result) Count() int {
	n := 0
	for _, ev := range r.Events {
		n += len(ev)
	}
	return n
}

// Generate builds a data set. The same Config always yields the same Result.
func Generate(cfg Config) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	end := cfg.Start + cfg.Duration

	times := make(map[uint32][]int64, len(cfg.Stations))
	if cfg.BackgroundRate > 0 {
		for _, id := range cfg.Stations {
			times[id] = arrivals(rng, cfg.BackgroundRate, cfg.Start, end)
		}
	}

	var showers []Shower
	if cfg.ShowerRate > 0 {
		jitter := distuv.Normal{Mu: 0, Sigma: cfg.Jitter, Src: rng}
		for _, t := range arrivals(rng, cfg.ShowerRate, cfg.Start, end) {
			sh := Shower{Time: t}
			for _, i := range rng.Perm(len(cfg.Stations))[:cfg.ShowerSize] {
				id := cfg.Stations[i]
				sh.Stations = append(sh.Stations, id)
				hit := t
				if cfg.Jitter > 0 {
					hit += int64(math.Round(math.Abs(jitter.Rand())))
				}
				times[id] = append(times[id], hit)
			}
			slices.Sort(sh.Stations)
			showers = append(showers, sh)
		}
	}

	res := Result{Events: make(map[uint32][]coincidence.Event, len(cfg.Stations)), Showers: showers}
	for _, id := range cfg.Stations {
		ts := times[id]
		slices.Sort(ts)
		events := make([]coincidence.Event, len(ts))
		for i, t := range ts {
			events[i] = coincidence.Event{Timestamp: t, SourceID: id, LocalIndex: uint64(i)}
		}
		res.Events[id] = events
	}
	return res, nil
}

// arrivals draws a Poisson process with the given rate (per second) on
// [start, end).
func arrivals(rng *rand.Rand, rate float64, start, end int64) []int64 {
	gap := distuv.Exponential{Rate: rate / nsPerSecond, Src: rng}
	var out []int64
	t := float64(start)
	for {
		t += gap.Rand()
		if t >= float64(end) {
			return out
		}
		out = append(out, int64(t))
	}
}

// Recall returns the fraction of showers for which some record contains a
// member from at least two of the shower's stations and is anchored within
// tolerance ns of the shower time.
func Recall(showers []Shower, records []coincidence.Record, tolerance int64) float64 {
	if len(showers) == 0 {
		return 1
	}
	found := 0
	j := 0
	for _, sh := range showers {
		for j < len(records) && records[j].Timestamp < sh.Time-tolerance {
			j++
		}
		for k := j; k < len(records) && records[k].Timestamp <= sh.Time+tolerance; k++ {
			if overlap(sh.Stations, records[k].Sources) >= 2 {
				found++
				break
			}
		}
	}
	return float64(found) / float64(len(showers))
}

func overlap(a, b []uint32) int {
	n := 0
	for _, id := range a {
		if _, ok := slices.BinarySearch(b, id); ok {
			n++
		}
	}
	return n
}
