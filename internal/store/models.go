package store

import (
	"encoding/json"
	"time"
)

// Shift is the single domain entity: one scheduled work assignment for a
// calendar date. Payload carries the caller-supplied descriptive fields
// (assignee, shift type, notes) which this layer stores and returns but does
// not interpret.
type Shift struct {
	ID        string          `json:"id"`
	Date      string          `json:"date"` // YYYY-MM-DD
	CreatedAt time.Time       `json:"createdAt"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// MaxShiftsPerDate is the capacity invariant: at most this many shifts may
// exist for one calendar date. The check before insert is advisory, not
// transactional, so concurrent writers can exceed it (accepted; corrected
// manually).
const MaxShiftsPerDate = 2
