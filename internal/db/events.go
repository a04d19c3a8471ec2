package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/banshee-data/coincidence/internal/coincidence"
)

// StoredEvent is one row of station_events.
type StoredEvent struct {
	Index        uint64
	ExtTimestamp int64
}

// InsertEvents stores events for a station in one transaction. Rows that
// already exist for the same (station, index) are replaced.
func (db *DB) InsertEvents(ctx context.Context, station uint32, events []StoredEvent) error {
	return retryOnBusy(func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() {
			if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
				logf("warning: failed to rollback transaction: %v", err)
			}
		}()

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO station_events (station_id, event_index, ext_timestamp)
			VALUES (?, ?, ?)
			ON CONFLICT(station_id, event_index) DO UPDATE SET
				ext_timestamp = excluded.ext_timestamp
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range events {
			if _, err := stmt.ExecContext(ctx, station, e.Index, e.ExtTimestamp); err != nil {
				return fmt.Errorf("insert event %d of station %d: %w", e.Index, station, err)
			}
		}
		return tx.Commit()
	})
}

// EventProvider streams station_events as coincidence event streams. Each
// station's stored ext_timestamp is corrected by the station's shift_ns, or by
// the entry in Shifts when one is present.
type EventProvider struct {
	DB     *DB
	Shifts map[uint32]int64
}

// NewEventProvider returns a provider over db. shifts may be nil.
func NewEventProvider(db *DB, shifts map[uint32]int64) *EventProvider {
	return &EventProvider{DB: db, Shifts: shifts}
}

// Streams opens one ordered cursor per selected station. A station whose
// query fails is reported through q.Report and left out of the search.
func (p *EventProvider) Streams(ctx context.Context, q coincidence.Query) ([]coincidence.EventStream, error) {
	stations, err := p.DB.Stations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stations: %w", err)
	}

	known := make(map[uint32]bool, len(stations))
	var out []coincidence.EventStream
	for _, st := range stations {
		known[st.ID] = true
		if !q.Wants(st.ID) {
			continue
		}
		shift := st.ShiftNs
		if s, ok := p.Shifts[st.ID]; ok {
			shift = s
		}
		s, err := p.openStream(ctx, st.ID, shift, q)
		if err != nil {
			q.Skip(st.ID, err)
			continue
		}
		out = append(out, s)
	}
	for _, id := range q.Sources {
		if !known[id] {
			q.Skip(id, ErrUnknownStation)
		}
	}
	return out, nil
}

func (p *EventProvider) openStream(ctx context.Context, station uint32, shift int64, q coincidence.Query) (*rowStream, error) {
	// The range applies to corrected timestamps.
	query := `
		SELECT event_index, ext_timestamp
		FROM station_events
		WHERE station_id = ? AND ext_timestamp >= ?`
	args := []any{station, q.Start - shift}
	if q.End != 0 {
		query += ` AND ext_timestamp < ?`
		args = append(args, q.End-shift)
	}
	query += ` ORDER BY ext_timestamp, event_index LIMIT ?`
	limit := -1
	if q.Limit > 0 {
		limit = q.Limit
	}
	args = append(args, limit)

	rows, err := p.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &rowStream{source: station, shift: shift, rows: rows}, nil
}

// rowStream is an EventStream over an open station_events cursor.
type rowStream struct {
	source uint32
	shift  int64
	rows   *sql.Rows
	err    error
	done   bool
}

func (s *rowStream) SourceID() uint32 { return s.source }

func (s *rowStream) Next() (coincidence.Event, bool) {
	if s.done {
		return coincidence.Event{}, false
	}
	if !s.rows.Next() {
		s.done = true
		s.err = s.rows.Err()
		return coincidence.Event{}, false
	}
	e := coincidence.Event{SourceID: s.source}
	if err := s.rows.Scan(&e.LocalIndex, &e.Timestamp); err != nil {
		s.done = true
		s.err = err
		return coincidence.Event{}, false
	}
	e.Timestamp += s.shift
	return e, true
}

func (s *rowStream) Err() error { return s.err }

func (s *rowStream) Close() error {
	s.done = true
	return s.rows.Close()
}

// EventRange returns the smallest and largest shift-corrected timestamps in
// station_events. ok is false when there are no events.
func (db *DB) EventRange(ctx context.Context) (first, last int64, ok bool, err error) {
	var lo, hi sql.NullInt64
	err = db.QueryRowContext(ctx, `
		SELECT MIN(e.ext_timestamp + s.shift_ns), MAX(e.ext_timestamp + s.shift_ns)
		FROM station_events e
		JOIN stations s ON s.station_id = e.station_id`).Scan(&lo, &hi)
	if err != nil {
		return 0, 0, false, err
	}
	if !lo.Valid {
		return 0, 0, false, nil
	}
	return lo.Int64, hi.Int64, true, nil
}
