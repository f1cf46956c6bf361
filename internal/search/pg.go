package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgSearch is the fallback engine: ILIKE matching over the payload fields
// straight in Postgres. If Postgres is down the whole app is down, so it is
// always considered healthy.
type PgSearch struct {
	db *sql.DB
}

func NewPgSearch(db *sql.DB) *PgSearch {
	return &PgSearch{db: db}
}

// Search matches the query text against assignee, type, and notes.
func (p *PgSearch) Search(ctx context.Context, q Query) ([]Result, int, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := `(
		payload->>'assignee' ILIKE $1
		OR payload->>'owner' ILIKE $1
		OR payload->>'type' ILIKE $1
		OR payload->>'notes' ILIKE $1
	)`
	args := []any{"%" + text + "%"}
	if q.FilterDate != "" {
		where += " AND shift_date = $2"
		args = append(args, q.FilterDate)
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM shifts WHERE " + where
	if err := p.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count search hits: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, shift_date,
			COALESCE(payload->>'assignee', payload->>'owner', '') AS assignee,
			COALESCE(payload->>'type', '') AS shift_type,
			COALESCE(payload->>'notes', '') AS notes
		FROM shifts
		WHERE %s
		ORDER BY created_at ASC
		LIMIT %d OFFSET %d
	`, where, limit, offset)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search shifts: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var notes string
		if err := rows.Scan(&r.ID, &r.Date, &r.Assignee, &r.ShiftType, &notes); err != nil {
			return nil, 0, fmt.Errorf("scan search hit: %w", err)
		}
		r.Snippet = firstNonBlank(notes, r.Assignee)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate search hits: %w", err)
	}
	return results, total, nil
}
