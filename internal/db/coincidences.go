package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/banshee-data/coincidence/internal/coincidence"
	"github.com/banshee-data/coincidence/internal/timeutil"
	"github.com/banshee-data/coincidence/internal/units"
)

// ErrRunNotFound is returned for a run id with no coincidence_runs row.
var ErrRunNotFound = errors.New("run not found")

// Run is one persisted coincidence search.
type Run struct {
	ID               string          `json:"run_id"`
	WindowNs         int64           `json:"window_ns"`
	Source           string          `json:"source"`
	ParamsJSON       json.RawMessage `json:"params_json,omitempty"`
	StartedAt        int64           `json:"started_at"`
	FinishedAt       *int64          `json:"finished_at,omitempty"`
	EventCount       int64           `json:"event_count"`
	CoincidenceCount int64           `json:"coincidence_count"`
}

// RunOptions describe a search about to be stored.
type RunOptions struct {
	WindowNs int64
	Source   string // "raw" or "esd"
	Params   any    // stored as JSON, may be nil
	Clock    timeutil.Clock
}

// CoincidenceSink persists one run in a single transaction. Records must be
// written in emission order; the run is committed by Finish and discarded by
// Abort or by an error.
type CoincidenceSink struct {
	run   Run
	clock timeutil.Clock
	tx    *sql.Tx
	insC  *sql.Stmt
	insM  *sql.Stmt
}

// NewCoincidenceSink starts a transaction and inserts the run row.
func (db *DB) NewCoincidenceSink(ctx context.Context, opts RunOptions) (*CoincidenceSink, error) {
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	run := Run{
		ID:        uuid.New().String(),
		WindowNs:  opts.WindowNs,
		Source:    opts.Source,
		StartedAt: clock.Now().UnixNano(),
	}
	if run.Source == "" {
		run.Source = "raw"
	}
	var params any
	if opts.Params != nil {
		b, err := json.Marshal(opts.Params)
		if err != nil {
			return nil, fmt.Errorf("encode run params: %w", err)
		}
		run.ParamsJSON = b
		params = string(b)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	s := &CoincidenceSink{run: run, clock: clock, tx: tx}

	err = retryOnBusy(func() error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO coincidence_runs (run_id, window_ns, source, params_json, started_at)
			VALUES (?, ?, ?, ?, ?)`,
			run.ID, run.WindowNs, run.Source, params, run.StartedAt)
		return err
	})
	if err != nil {
		s.Abort()
		return nil, fmt.Errorf("insert run: %w", err)
	}

	if s.insC, err = tx.PrepareContext(ctx, `
		INSERT INTO coincidences (
			run_id, coincidence_id, ext_timestamp, timestamp, nanoseconds, size, span_ns, station_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`); err != nil {
		s.Abort()
		return nil, err
	}
	if s.insM, err = tx.PrepareContext(ctx, `
		INSERT INTO coincidence_members (run_id, coincidence_id, ordinal, station_id, event_index)
		VALUES (?, ?, ?, ?, ?)`); err != nil {
		s.Abort()
		return nil, err
	}
	return s, nil
}

// RunID returns the id of the run being written.
func (s *CoincidenceSink) RunID() string { return s.run.ID }

// WriteCoincidence stores one record and its members.
func (s *CoincidenceSink) WriteCoincidence(ctx context.Context, r coincidence.Record) error {
	sec, ns := units.SplitExt(r.Timestamp)
	if _, err := s.insC.ExecContext(ctx, s.run.ID, r.ID, r.Timestamp, sec, ns, r.Size, r.Span, r.StationCount()); err != nil {
		return err
	}
	for _, row := range r.MemberRows() {
		if _, err := s.insM.ExecContext(ctx, s.run.ID, row.CoincidenceID, row.Ordinal, row.SourceID, row.LocalIndex); err != nil {
			return err
		}
	}
	return nil
}

// Finish records the run totals and commits.
func (s *CoincidenceSink) Finish(ctx context.Context, sum coincidence.Summary) error {
	defer s.closeStmts()
	finished := s.clock.Now().UnixNano()
	if _, err := s.tx.ExecContext(ctx, `
		UPDATE coincidence_runs
		SET finished_at = ?, event_count = ?, coincidence_count = ?
		WHERE run_id = ?`,
		finished, sum.Events, sum.Coincidences, s.run.ID); err != nil {
		s.Abort()
		return fmt.Errorf("update run: %w", err)
	}
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	s.run.FinishedAt = &finished
	s.run.EventCount = int64(sum.Events)
	s.run.CoincidenceCount = int64(sum.Coincidences)
	return nil
}

// Abort discards everything written so far. It is safe to call after Finish.
func (s *CoincidenceSink) Abort() {
	s.closeStmts()
	if err := s.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		logf("warning: failed to rollback run %s: %v", s.run.ID, err)
	}
}

func (s *CoincidenceSink) closeStmts() {
	if s.insC != nil {
		s.insC.Close()
		s.insC = nil
	}
	if s.insM != nil {
		s.insM.Close()
		s.insM = nil
	}
}

// Runs lists stored runs, most recent first.
func (db *DB) Runs(ctx context.Context) ([]Run, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT run_id, window_ns, source, params_json, started_at, finished_at,
		       event_count, coincidence_count
		FROM coincidence_runs
		ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRun returns one run by id.
func (db *DB) GetRun(ctx context.Context, id string) (Run, error) {
	row := db.QueryRowContext(ctx, `
		SELECT run_id, window_ns, source, params_json, started_at, finished_at,
		       event_count, coincidence_count
		FROM coincidence_runs
		WHERE run_id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var r Run
	var params sql.NullString
	var finished sql.NullInt64
	if err := sc.Scan(&r.ID, &r.WindowNs, &r.Source, &params, &r.StartedAt, &finished,
		&r.EventCount, &r.CoincidenceCount); err != nil {
		return Run{}, err
	}
	if params.Valid {
		r.ParamsJSON = json.RawMessage(params.String)
	}
	if finished.Valid {
		f := finished.Int64
		r.FinishedAt = &f
	}
	return r, nil
}

// DeleteRun removes a run with its coincidences and members.
func (db *DB) DeleteRun(ctx context.Context, id string) error {
	return retryOnBusy(func() error {
		_, err := db.ExecContext(ctx, `DELETE FROM coincidence_runs WHERE run_id = ?`, id)
		return err
	})
}

// LoadRecords reads a run's coincidences back in id order.
func (db *DB) LoadRecords(ctx context.Context, runID string) ([]coincidence.Record, error) {
	return db.loadRecords(ctx, `
		SELECT c.coincidence_id, c.ext_timestamp, c.size, c.span_ns, m.station_id, m.event_index
		FROM coincidences c
		JOIN coincidence_members m
		  ON m.run_id = c.run_id AND m.coincidence_id = c.coincidence_id
		WHERE c.run_id = ?
		ORDER BY c.coincidence_id, m.ordinal`, runID)
}

// LoadRecordsPage reads at most limit coincidences of a run, skipping the
// first offset in id order.
func (db *DB) LoadRecordsPage(ctx context.Context, runID string, offset, limit int) ([]coincidence.Record, error) {
	return db.loadRecords(ctx, `
		SELECT c.coincidence_id, c.ext_timestamp, c.size, c.span_ns, m.station_id, m.event_index
		FROM (
			SELECT run_id, coincidence_id, ext_timestamp, size, span_ns
			FROM coincidences
			WHERE run_id = ?
			ORDER BY coincidence_id
			LIMIT ? OFFSET ?
		) c
		JOIN coincidence_members m
		  ON m.run_id = c.run_id AND m.coincidence_id = c.coincidence_id
		ORDER BY c.coincidence_id, m.ordinal`, runID, limit, offset)
}

// CountCoincidences returns the number of stored coincidences of a run.
func (db *DB) CountCoincidences(ctx context.Context, runID string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM coincidences WHERE run_id = ?`, runID).Scan(&n)
	return n, err
}

func (db *DB) loadRecords(ctx context.Context, query string, args ...any) ([]coincidence.Record, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []coincidence.Record
	for rows.Next() {
		var id, ts, span int64
		var size int
		var m coincidence.MemberRef
		if err := rows.Scan(&id, &ts, &size, &span, &m.SourceID, &m.LocalIndex); err != nil {
			return nil, err
		}
		if len(out) == 0 || out[len(out)-1].ID != id {
			out = append(out, coincidence.Record{ID: id, Timestamp: ts, Size: size, Span: span})
		}
		r := &out[len(out)-1]
		r.Members = append(r.Members, m)
		r.Sources = addSource(r.Sources, m.SourceID)
	}
	return out, rows.Err()
}

// EventHit names a coincidence that contains a given event.
type EventHit struct {
	RunID         string
	CoincidenceID int64
	Ordinal       int
}

// CoincidencesForEvent returns every stored coincidence containing the event.
// An event on the boundary of two adjacent groups appears in both.
func (db *DB) CoincidencesForEvent(ctx context.Context, station uint32, index uint64) ([]EventHit, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT run_id, coincidence_id, ordinal
		FROM coincidence_members
		WHERE station_id = ? AND event_index = ?
		ORDER BY run_id, coincidence_id`, station, index)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventHit
	for rows.Next() {
		var h EventHit
		if err := rows.Scan(&h.RunID, &h.CoincidenceID, &h.Ordinal); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func addSource(sources []uint32, id uint32) []uint32 {
	i, found := slices.BinarySearch(sources, id)
	if found {
		return sources
	}
	return slices.Insert(sources, i, id)
}
