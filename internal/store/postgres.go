package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// InsertShift appends a new shift document. ID and CreatedAt must already be
// assigned by the caller.
func (s *PostgresStore) InsertShift(ctx context.Context, shift Shift) error {
	payload := shift.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shifts (id, shift_date, created_at, payload)
		VALUES ($1, $2, $3, $4)
	`, shift.ID, shift.Date, shift.CreatedAt, []byte(payload))
	if err != nil {
		return fmt.Errorf("insert shift: %w", err)
	}
	return nil
}

// DeleteShift removes the shift with the given id. Deleting an id that does
// not exist is a success, matching document-store delete semantics.
func (s *PostgresStore) DeleteShift(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM shifts WHERE id=$1`, id); err != nil {
		return fmt.Errorf("delete shift: %w", err)
	}
	return nil
}

// ListShifts returns the complete collection ordered ascending by creation
// time. This is the snapshot shape the live feed republishes.
func (s *PostgresStore) ListShifts(ctx context.Context) ([]Shift, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shift_date, created_at, payload
		FROM shifts
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list shifts: %w", err)
	}
	defer rows.Close()
	return scanShifts(rows)
}

// ListShiftsForDate is a one-shot fetch of the shifts covering one calendar
// date. No ordering promise beyond the store default.
func (s *PostgresStore) ListShiftsForDate(ctx context.Context, date string) ([]Shift, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shift_date, created_at, payload
		FROM shifts
		WHERE shift_date=$1
	`, date)
	if err != nil {
		return nil, fmt.Errorf("list shifts for date: %w", err)
	}
	defer rows.Close()
	return scanShifts(rows)
}

// CountShiftsForDate counts shifts for one date, examining at most cap rows.
func (s *PostgresStore) CountShiftsForDate(ctx context.Context, date string, cap int) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM (
			SELECT 1 FROM shifts WHERE shift_date=$1 LIMIT $2
		) capped
	`, date, cap).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count shifts for date: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func scanShifts(rows *sql.Rows) ([]Shift, error) {
	shifts := []Shift{}
	for rows.Next() {
		var shift Shift
		var payload []byte
		if err := rows.Scan(&shift.ID, &shift.Date, &shift.CreatedAt, &payload); err != nil {
			return nil, fmt.Errorf("scan shift: %w", err)
		}
		shift.Payload = json.RawMessage(payload)
		shifts = append(shifts, shift)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shifts: %w", err)
	}
	return shifts, nil
}
