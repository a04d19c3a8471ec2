package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Station is one detector station. ShiftNs is the clock correction added to
// every stored ext_timestamp before the station's events reach a search.
type Station struct {
	ID      uint32 `json:"station_id"`
	Name    string `json:"name"`
	ShiftNs int64  `json:"shift_ns"`
}

// UpsertStation creates the station or updates its name and shift.
func (db *DB) UpsertStation(ctx context.Context, s Station) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO stations (station_id, name, shift_ns)
		VALUES (?, ?, ?)
		ON CONFLICT(station_id) DO UPDATE SET
			name = excluded.name,
			shift_ns = excluded.shift_ns
	`, s.ID, s.Name, s.ShiftNs)
	if err != nil {
		return fmt.Errorf("failed to upsert station %d: %w", s.ID, err)
	}
	return nil
}

// SetStationShift updates only the clock shift of an existing station.
func (db *DB) SetStationShift(ctx context.Context, id uint32, shiftNs int64) error {
	res, err := db.ExecContext(ctx, `UPDATE stations SET shift_ns = ? WHERE station_id = ?`, shiftNs, id)
	if err != nil {
		return fmt.Errorf("failed to set shift for station %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("station %d: %w", id, ErrUnknownStation)
	}
	return nil
}

// Station returns one station by id.
func (db *DB) Station(ctx context.Context, id uint32) (Station, error) {
	s := Station{ID: id}
	err := db.QueryRowContext(ctx, `SELECT name, shift_ns FROM stations WHERE station_id = ?`, id).
		Scan(&s.Name, &s.ShiftNs)
	if errors.Is(err, sql.ErrNoRows) {
		return Station{}, fmt.Errorf("station %d: %w", id, ErrUnknownStation)
	}
	if err != nil {
		return Station{}, err
	}
	return s, nil
}

// Stations lists all stations ordered by id.
func (db *DB) Stations(ctx context.Context) ([]Station, error) {
	rows, err := db.QueryContext(ctx, `SELECT station_id, name, shift_ns FROM stations ORDER BY station_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Station
	for rows.Next() {
		var s Station
		if err := rows.Scan(&s.ID, &s.Name, &s.ShiftNs); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// StationEventCount returns the number of stored events for a station.
func (db *DB) StationEventCount(ctx context.Context, id uint32) (int64, error) {
	var n int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM station_events WHERE station_id = ?`, id).Scan(&n)
	return n, err
}
