// Package config loads search parameters from JSON files.
//
// Every field is optional. Omitted fields fall back to the defaults returned by
// the Get* accessors, so a partial file is always safe to load.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/banshee-data/coincidence/internal/coincidence"
	"github.com/banshee-data/coincidence/internal/units"
)

const (
	// DefaultProgressEvery is the number of merged events between progress
	// reports when progress_every is not set.
	DefaultProgressEvery = 100000

	maxFileSize = 1 * 1024 * 1024 // 1MB
)

// SearchConfig is the JSON form of a search request.
type SearchConfig struct {
	WindowNs        *int64           `json:"window_ns,omitempty"`
	Stations        []uint32         `json:"stations,omitempty"`
	ShiftsNs        map[string]int64 `json:"shifts_ns,omitempty"` // station id -> shift
	Start           *string          `json:"start,omitempty"`     // ext ns or RFC3339
	End             *string          `json:"end,omitempty"`
	EventLimit      *int             `json:"event_limit,omitempty"`
	MaxCoincidences *int             `json:"max_coincidences,omitempty"`
	Partition       *string          `json:"partition,omitempty"` // duration string like "24h"
	Parallel        *int             `json:"parallel,omitempty"`
	ProgressEvery   *int             `json:"progress_every,omitempty"`
}

// LoadSearchConfig reads and validates a SearchConfig from a .json file no
// larger than 1MB.
func LoadSearchConfig(path string) (*SearchConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &SearchConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *SearchConfig) Validate() error {
	if c.WindowNs != nil && *c.WindowNs <= 0 {
		return fmt.Errorf("window_ns must be positive, got %d", *c.WindowNs)
	}
	if c.EventLimit != nil && *c.EventLimit < 0 {
		return fmt.Errorf("event_limit must be non-negative, got %d", *c.EventLimit)
	}
	if c.MaxCoincidences != nil && *c.MaxCoincidences < 0 {
		return fmt.Errorf("max_coincidences must be non-negative, got %d", *c.MaxCoincidences)
	}
	if c.Parallel != nil && *c.Parallel < 1 {
		return fmt.Errorf("parallel must be at least 1, got %d", *c.Parallel)
	}
	if c.ProgressEvery != nil && *c.ProgressEvery < 0 {
		return fmt.Errorf("progress_every must be non-negative, got %d", *c.ProgressEvery)
	}
	if c.Partition != nil && *c.Partition != "" {
		d, err := time.ParseDuration(*c.Partition)
		if err != nil {
			return fmt.Errorf("invalid partition '%s': %w", *c.Partition, err)
		}
		if d <= 0 {
			return fmt.Errorf("partition must be positive, got %s", d)
		}
	}
	if _, err := c.GetShifts(); err != nil {
		return err
	}
	start, end, err := c.GetRange()
	if err != nil {
		return err
	}
	if end != 0 && end <= start {
		return fmt.Errorf("end must be after start")
	}
	return nil
}

// GetRange returns the [start, end) bounds in ext nanoseconds. An unset end
// is returned as 0, meaning open.
func (c *SearchConfig) GetRange() (start, end int64, err error) {
	if c.Start != nil && *c.Start != "" {
		if start, err = units.ParseExt(*c.Start); err != nil {
			return 0, 0, fmt.Errorf("invalid start: %w", err)
		}
	}
	if c.End != nil && *c.End != "" {
		if end, err = units.ParseExt(*c.End); err != nil {
			return 0, 0, fmt.Errorf("invalid end: %w", err)
		}
	}
	return start, end, nil
}

// GetWindow returns window_ns or the default coincidence window.
func (c *SearchConfig) GetWindow() int64 {
	if c.WindowNs == nil {
		return coincidence.DefaultWindow
	}
	return *c.WindowNs
}

// GetShifts returns shifts_ns keyed by numeric station id.
func (c *SearchConfig) GetShifts() (map[uint32]int64, error) {
	if len(c.ShiftsNs) == 0 {
		return nil, nil
	}
	out := make(map[uint32]int64, len(c.ShiftsNs))
	for k, v := range c.ShiftsNs {
		id, err := strconv.ParseUint(k, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("shifts_ns key %q is not a station id", k)
		}
		out[uint32(id)] = v
	}
	return out, nil
}

// GetEventLimit returns event_limit or 0 (no limit).
func (c *SearchConfig) GetEventLimit() int {
	if c.EventLimit == nil {
		return 0
	}
	return *c.EventLimit
}

// GetMaxCoincidences returns max_coincidences or 0 (no limit).
func (c *SearchConfig) GetMaxCoincidences() int {
	if c.MaxCoincidences == nil {
		return 0
	}
	return *c.MaxCoincidences
}

// GetPartition returns the partition length, or 0 for a single search.
func (c *SearchConfig) GetPartition() time.Duration {
	if c.Partition == nil || *c.Partition == "" {
		return 0
	}
	d, err := time.ParseDuration(*c.Partition)
	if err != nil {
		return 0
	}
	return d
}

// GetParallel returns parallel or 1.
func (c *SearchConfig) GetParallel() int {
	if c.Parallel == nil {
		return 1
	}
	return *c.Parallel
}

// GetProgressEvery returns progress_every or DefaultProgressEvery.
func (c *SearchConfig) GetProgressEvery() int {
	if c.ProgressEvery == nil || *c.ProgressEvery == 0 {
		return DefaultProgressEvery
	}
	return *c.ProgressEvery
}

// Options converts the configuration into search options.
func (c *SearchConfig) Options() (coincidence.Options, error) {
	if err := c.Validate(); err != nil {
		return coincidence.Options{}, err
	}
	start, end, _ := c.GetRange()
	return coincidence.Options{
		Window:          c.GetWindow(),
		Sources:         c.Stations,
		Start:           start,
		End:             end,
		EventLimit:      c.GetEventLimit(),
		MaxCoincidences: c.GetMaxCoincidences(),
		ProgressEvery:   c.GetProgressEvery(),
	}, nil
}
