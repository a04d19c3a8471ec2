package coincidence

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoStreams is returned by providers that found no source matching a query.
var ErrNoStreams = errors.New("no event streams")

// Query selects the events a Provider should stream.
type Query struct {
	// Sources restricts the search to these source ids; empty means all.
	Sources []uint32
	// Start and End bound timestamps to [Start, End). Zero End means open.
	Start int64
	End   int64
	// Limit caps the number of events read per source; 0 means no cap.
	Limit int
	// Report receives notices about sources the provider skipped. May be nil.
	Report func(Diagnostic)
}

// Contains reports whether ts falls inside the query range.
func (q Query) Contains(ts int64) bool {
	return ts >= q.Start && (q.End == 0 || ts < q.End)
}

// Wants reports whether the query selects source id.
func (q Query) Wants(id uint32) bool {
	if len(q.Sources) == 0 {
		return true
	}
	for _, s := range q.Sources {
		if s == id {
			return true
		}
	}
	return false
}

// Skip hands a skipped-source notice to the query's Report callback.
func (q Query) Skip(source uint32, err error) {
	if q.Report != nil {
		q.Report(Diagnostic{SourceID: source, Err: err})
	}
}

// Provider materialises one clock-corrected EventStream per source.
type Provider interface {
	Streams(ctx context.Context, q Query) ([]EventStream, error)
}

// Sink receives coincidence records in emission order.
type Sink interface {
	WriteCoincidence(ctx context.Context, r Record) error
}

// Finisher is implemented by sinks that need to flush or commit once a search
// completes successfully.
type Finisher interface {
	Finish(ctx context.Context, s Summary) error
}

// Diagnostic describes a source that was skipped while building streams.
type Diagnostic struct {
	SourceID uint32
	Err      error
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("source %d skipped: %v", d.SourceID, d.Err)
}

// Progress is a snapshot of a running search.
type Progress struct {
	Events       int
	Coincidences int
	Timestamp    int64 // most recent merged timestamp
	Done         bool
}

// Options control one search call.
type Options struct {
	Window          int64 // 0 selects DefaultWindow
	Sources         []uint32
	Start, End      int64
	EventLimit      int // per source
	MaxCoincidences int // stop after this many; 0 means no limit
	ProgressEvery   int // merged events between Progress calls; 0 selects 100000
	Progress        func(Progress)
	Diagnostics     func(Diagnostic)
}

func (o Options) window() int64 {
	if o.Window == 0 {
		return DefaultWindow
	}
	return o.Window
}

// Summary reports what a search produced.
type Summary struct {
	Sources        int
	Events         int
	Coincidences   int
	FirstTimestamp int64
	LastTimestamp  int64
	Truncated      bool // stopped by MaxCoincidences
}

// Search merges the provider's streams, groups them into coincidences and
// writes each record to sink. Cancelling ctx stops the search at the next
// group boundary; a group that was being assembled is discarded.
func Search(ctx context.Context, p Provider, sink Sink, opts Options) (Summary, error) {
	window := opts.window()
	streams, err := p.Streams(ctx, Query{
		Sources: opts.Sources,
		Start:   opts.Start,
		End:     opts.End,
		Limit:   opts.EventLimit,
		Report:  opts.Diagnostics,
	})
	if err != nil {
		return Summary{}, fmt.Errorf("open streams: %w", err)
	}
	defer closeStreams(streams)

	merger := NewMerger(streams...)
	seq := &progressSeq{src: merger, every: opts.ProgressEvery, fn: opts.Progress}
	if seq.every <= 0 {
		seq.every = 100000
	}
	clusterer := NewClusterer(seq, window)
	builder := NewIndexBuilder(false)

	sum := Summary{Sources: merger.Active()}
	for {
		g, ok := clusterer.Next()
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if !ok {
			break
		}
		r := builder.Build(g)
		if err := sink.WriteCoincidence(ctx, r); err != nil {
			return sum, fmt.Errorf("write coincidence %d: %w", r.ID, err)
		}
		sum.Coincidences++
		seq.coincidences = sum.Coincidences
		if opts.MaxCoincidences > 0 && sum.Coincidences >= opts.MaxCoincidences {
			sum.Truncated = true
			break
		}
	}

	sum.Events = seq.events
	sum.FirstTimestamp = seq.first
	sum.LastTimestamp = seq.last
	if err := streamErr(streams); err != nil {
		return sum, err
	}
	seq.finish()

	if f, ok := sink.(Finisher); ok {
		if err := f.Finish(ctx, sum); err != nil {
			return sum, fmt.Errorf("finish sink: %w", err)
		}
	}
	return sum, nil
}

// streamErr returns the first read error recorded by a stream. Streams backed
// by storage end early on a read failure and report it through Err.
func streamErr(streams []EventStream) error {
	for _, s := range streams {
		if err := errOf(s); err != nil {
			return fmt.Errorf("read source %d: %w", s.SourceID(), err)
		}
	}
	return nil
}

func closeStreams(streams []EventStream) {
	for _, s := range streams {
		_ = closeOf(s)
	}
}

// progressSeq counts merged events and feeds the optional progress callback.
type progressSeq struct {
	src          Sequence
	every        int
	fn           func(Progress)
	events       int
	coincidences int
	first, last  int64
}

func (s *progressSeq) Next() (Event, bool) {
	e, ok := s.src.Next()
	if !ok {
		return e, false
	}
	if s.events == 0 {
		s.first = e.Timestamp
	}
	s.last = e.Timestamp
	s.events++
	if s.fn != nil && s.events%s.every == 0 {
		s.fn(Progress{Events: s.events, Coincidences: s.coincidences, Timestamp: e.Timestamp})
	}
	return e, true
}

func (s *progressSeq) finish() {
	if s.fn != nil {
		s.fn(Progress{Events: s.events, Coincidences: s.coincidences, Timestamp: s.last, Done: true})
	}
}
