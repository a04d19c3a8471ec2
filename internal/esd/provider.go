package esd

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/banshee-data/coincidence/internal/coincidence"
)

// Provider streams one event file per station. Shifts holds per-station clock
// corrections in nanoseconds; the query range applies to corrected time.
type Provider struct {
	Files  map[uint32]string
	Shifts map[uint32]int64
}

// Streams opens the selected stations' files. A file that cannot be opened is
// reported through q.Report and left out of the search.
func (p *Provider) Streams(ctx context.Context, q coincidence.Query) ([]coincidence.EventStream, error) {
	for _, id := range q.Sources {
		if _, ok := p.Files[id]; !ok {
			q.Skip(id, fmt.Errorf("no event file for station %d", id))
		}
	}

	var out []coincidence.EventStream
	for _, id := range slices.Sorted(maps.Keys(p.Files)) {
		if err := ctx.Err(); err != nil {
			closeAll(out)
			return nil, err
		}
		if !q.Wants(id) {
			continue
		}
		st, err := OpenStream(id, p.Files[id])
		if err != nil {
			q.Skip(id, err)
			continue
		}
		var s coincidence.EventStream = coincidence.ShiftStream(st, p.Shifts[id])
		s = coincidence.RangeStream(s, q.Start, q.End)
		out = append(out, coincidence.LimitStream(s, q.Limit))
	}
	return out, nil
}

// Discover maps station ids to the event files in dir. A file belongs to the
// station whose number leads its name, as in "501.tsv" or "501_events.tsv".
// Files without a leading number are ignored.
func Discover(dir string) (map[uint32]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	files := make(map[uint32]string)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".tsv") {
			continue
		}
		id, ok := stationFromName(e.Name())
		if !ok {
			continue
		}
		if prev, dup := files[id]; dup {
			return nil, fmt.Errorf("station %d has two event files: %s and %s", id, prev, e.Name())
		}
		files[id] = filepath.Join(dir, e.Name())
	}
	return files, nil
}

func stationFromName(name string) (uint32, bool) {
	end := 0
	for end < len(name) && name[end] >= '0' && name[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	id, err := strconv.ParseUint(name[:end], 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(id), true
}

func closeAll(streams []coincidence.EventStream) {
	for _, s := range streams {
		if c, ok := s.(io.Closer); ok {
			c.Close()
		}
	}
}
