package coincidence

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Partition is a half-open timestamp range [Start, End) searched on its own.
type Partition struct {
	Start int64
	End   int64
}

// Partitions splits [start, end) into consecutive ranges of at most size.
func Partitions(start, end, size int64) []Partition {
	if size <= 0 || end <= start {
		return []Partition{{Start: start, End: end}}
	}
	var out []Partition
	for s := start; s < end; s += size {
		e := s + size
		if e > end {
			e = end
		}
		out = append(out, Partition{Start: s, End: e})
	}
	return out
}

// SearchPartitions runs an independent search per partition, up to parallel
// at a time, and writes the concatenated results to sink in partition order
// with ids renumbered from zero. Each partition is written once it and all
// earlier partitions are done. Coincidences that straddle a partition
// boundary are split; choose boundaries in quiet periods or accept the loss.
//
// The provider must be safe for concurrent use. Progress and Diagnostics
// callbacks are serialised.
func SearchPartitions(ctx context.Context, p Provider, sink Sink, parts []Partition, opts Options, parallel int) (Summary, error) {
	if parallel <= 0 {
		parallel = 1
	}

	var mu sync.Mutex
	local := opts
	local.MaxCoincidences = 0
	if opts.Progress != nil {
		local.Progress = func(pr Progress) {
			mu.Lock()
			defer mu.Unlock()
			pr.Done = false
			opts.Progress(pr)
		}
	}
	if opts.Diagnostics != nil {
		local.Diagnostics = func(d Diagnostic) {
			mu.Lock()
			defer mu.Unlock()
			opts.Diagnostics(d)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	results := make([]MemorySink, len(parts))
	errs := make([]error, len(parts))
	done := make([]chan struct{}, len(parts))
	launched := 0
	launch := func() {
		i, part := launched, parts[launched]
		done[i] = make(chan struct{})
		launched++
		g.Go(func() error {
			defer close(done[i])
			o := local
			o.Start, o.End = part.Start, part.End
			if _, err := Search(gctx, p, &results[i], o); err != nil {
				errs[i] = fmt.Errorf("partition [%d, %d): %w", part.Start, part.End, err)
				return errs[i]
			}
			return nil
		})
	}

	// Partition i is written as soon as 0..i are done, so at most parallel
	// partitions are searched or held in memory at once.
	var total Summary
	var id int64
	var writeErr, searchErr error
	for next := range parts {
		for launched < len(parts) && launched-next < parallel {
			launch()
		}
		<-done[next]
		if errs[next] != nil {
			searchErr = errs[next]
			break
		}
		s := results[next].Summary
		total.Events += s.Events
		if s.Sources > total.Sources {
			total.Sources = s.Sources
		}
		if s.Events > 0 {
			if total.Events == s.Events {
				total.FirstTimestamp = s.FirstTimestamp
			}
			total.LastTimestamp = s.LastTimestamp
		}
		for _, r := range results[next].Records {
			if opts.MaxCoincidences > 0 && total.Coincidences >= opts.MaxCoincidences {
				total.Truncated = true
				break
			}
			r.ID = id
			id++
			if err := sink.WriteCoincidence(ctx, r); err != nil {
				writeErr = fmt.Errorf("write coincidence %d: %w", r.ID, err)
				break
			}
			total.Coincidences++
		}
		results[next] = MemorySink{}
		if total.Truncated || writeErr != nil {
			break
		}
	}
	cancel()
	waitErr := g.Wait()
	switch {
	case writeErr != nil:
		return total, writeErr
	case searchErr != nil:
		// the first failure may belong to a later partition
		if waitErr != nil {
			return Summary{}, waitErr
		}
		return Summary{}, searchErr
	}

	if opts.Progress != nil {
		opts.Progress(Progress{Events: total.Events, Coincidences: total.Coincidences, Timestamp: total.LastTimestamp, Done: true})
	}
	if f, ok := sink.(Finisher); ok {
		if err := f.Finish(ctx, total); err != nil {
			return total, fmt.Errorf("finish sink: %w", err)
		}
	}
	return total, nil
}
