package esd

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/banshee-data/coincidence/internal/coincidence"
	"github.com/banshee-data/coincidence/internal/units"
)

var coincidenceHeader = []string{
	"id", "ext_timestamp", "timestamp", "nanoseconds", "N", "span_ns", "stations", "members",
}

// Writer is a coincidence sink that writes one TSV row per record. Stations
// are comma separated; members are station:event pairs in merge order.
type Writer struct {
	w      *csv.Writer
	header bool
}

// NewWriter returns a Writer on w. The header line is written with the first
// record, or by Finish for an empty result.
func NewWriter(w io.Writer) *Writer {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	return &Writer{w: cw}
}

func (w *Writer) writeHeader() error {
	if w.header {
		return nil
	}
	w.header = true
	return w.w.Write(append([]string{"# " + coincidenceHeader[0]}, coincidenceHeader[1:]...))
}

// WriteCoincidence writes one row.
func (w *Writer) WriteCoincidence(_ context.Context, r coincidence.Record) error {
	if err := w.writeHeader(); err != nil {
		return err
	}
	sec, ns := units.SplitExt(r.Timestamp)

	stations := make([]string, len(r.Sources))
	for i, s := range r.Sources {
		stations[i] = strconv.FormatUint(uint64(s), 10)
	}
	members := make([]string, len(r.Members))
	for i, m := range r.Members {
		members[i] = fmt.Sprintf("%d:%d", m.SourceID, m.LocalIndex)
	}

	return w.w.Write([]string{
		strconv.FormatInt(r.ID, 10),
		strconv.FormatInt(r.Timestamp, 10),
		strconv.FormatInt(sec, 10),
		strconv.FormatInt(ns, 10),
		strconv.Itoa(r.Size),
		strconv.FormatInt(r.Span, 10),
		strings.Join(stations, ","),
		strings.Join(members, ","),
	})
}

// Finish flushes buffered rows.
func (w *Writer) Finish(_ context.Context, _ coincidence.Summary) error {
	return w.Flush()
}

// Flush writes any buffered rows to the underlying writer.
func (w *Writer) Flush() error {
	if err := w.writeHeader(); err != nil {
		return err
	}
	w.w.Flush()
	return w.w.Error()
}

// ReadCoincidences parses a table written by Writer.
func ReadCoincidences(r io.Reader) ([]coincidence.Record, error) {
	cr := newTSVReader(r)
	var out []coincidence.Record
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		c, err := parseCoincidence(rec)
		if err != nil {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, c)
	}
}

func parseCoincidence(rec []string) (coincidence.Record, error) {
	var r coincidence.Record
	if len(rec) != len(coincidenceHeader) {
		return r, fmt.Errorf("expected %d columns, got %d", len(coincidenceHeader), len(rec))
	}
	var err error
	if r.ID, err = strconv.ParseInt(rec[0], 10, 64); err != nil {
		return r, fmt.Errorf("bad id: %w", err)
	}
	if r.Timestamp, err = strconv.ParseInt(rec[1], 10, 64); err != nil {
		return r, fmt.Errorf("bad ext_timestamp: %w", err)
	}
	if r.Size, err = strconv.Atoi(rec[4]); err != nil {
		return r, fmt.Errorf("bad N: %w", err)
	}
	if r.Span, err = strconv.ParseInt(rec[5], 10, 64); err != nil {
		return r, fmt.Errorf("bad span_ns: %w", err)
	}
	for _, f := range strings.Split(rec[6], ",") {
		id, err := strconv.ParseUint(f, 10, 32)
		if err != nil {
			return r, fmt.Errorf("bad station %q: %w", f, err)
		}
		r.Sources = append(r.Sources, uint32(id))
	}
	for _, f := range strings.Split(rec[7], ",") {
		station, event, ok := strings.Cut(f, ":")
		if !ok {
			return r, fmt.Errorf("bad member %q", f)
		}
		sid, err := strconv.ParseUint(station, 10, 32)
		if err != nil {
			return r, fmt.Errorf("bad member %q: %w", f, err)
		}
		idx, err := strconv.ParseUint(event, 10, 64)
		if err != nil {
			return r, fmt.Errorf("bad member %q: %w", f, err)
		}
		r.Members = append(r.Members, coincidence.MemberRef{SourceID: uint32(sid), LocalIndex: idx})
	}
	if len(r.Members) != r.Size {
		return r, fmt.Errorf("N is %d but %d members listed", r.Size, len(r.Members))
	}
	return r, nil
}

// WriteEvents writes one station's events in the event file layout read by
// Stream. Events must already be sorted.
func WriteEvents(w io.Writer, station uint32, events []coincidence.Event) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if _, err := fmt.Fprintf(w, "# station %d\n# date\ttime\ttimestamp\tnanoseconds\n", station); err != nil {
		return err
	}
	for _, e := range events {
		sec, ns := units.SplitExt(e.Timestamp)
		t := units.ExtToTime(e.Timestamp)
		if err := cw.Write([]string{
			t.Format("2006-01-02"),
			t.Format("15:04:05"),
			strconv.FormatInt(sec, 10),
			strconv.FormatInt(ns, 10),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
