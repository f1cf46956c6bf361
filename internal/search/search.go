// Package search finds shifts by their descriptive payload text. Meilisearch
// is the primary engine; Postgres serves as the always-available fallback.
package search

import (
	"encoding/json"

	"guardiaswap/api/internal/store"
)

// ShiftRecord is the indexed projection of a shift. The descriptive fields
// come out of the opaque payload; absent keys index as empty strings.
type ShiftRecord struct {
	ID        string `json:"id"`
	Date      string `json:"date"`
	Assignee  string `json:"assignee"`
	ShiftType string `json:"shiftType"`
	Notes     string `json:"notes"`
	CreatedAt int64  `json:"createdAt"`
}

// RecordFromShift projects a stored shift into its searchable record.
func RecordFromShift(shift store.Shift) ShiftRecord {
	var payload struct {
		Assignee string `json:"assignee"`
		Owner    string `json:"owner"`
		Type     string `json:"type"`
		Notes    string `json:"notes"`
	}
	if len(shift.Payload) > 0 {
		_ = json.Unmarshal(shift.Payload, &payload)
	}
	assignee := payload.Assignee
	if assignee == "" {
		assignee = payload.Owner
	}
	return ShiftRecord{
		ID:        shift.ID,
		Date:      shift.Date,
		Assignee:  assignee,
		ShiftType: payload.Type,
		Notes:     payload.Notes,
		CreatedAt: shift.CreatedAt.Unix(),
	}
}

// Result is a single search hit returned to the caller.
type Result struct {
	ID        string `json:"id"`
	Date      string `json:"date"`
	Assignee  string `json:"assignee"`
	ShiftType string `json:"shiftType"`
	Snippet   string `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterDate string // empty = all dates
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}
