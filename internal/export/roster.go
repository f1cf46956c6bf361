// Package export renders the shift roster as a printable PDF.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"guardiaswap/api/internal/store"
)

// ErrPDFDependencyMissing indicates the PDF runtime (headless Chromium) is
// not installed on the host.
var ErrPDFDependencyMissing = errors.New("export pdf dependency missing")

// Result contains the export output.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// RosterDay is one calendar date's shifts in the rendered roster.
type RosterDay struct {
	Date   string
	Shifts []RosterShift
}

// RosterShift is one row of the roster.
type RosterShift struct {
	Assignee  string
	ShiftType string
	Notes     string
	CreatedAt time.Time
}

// Service renders and exports the roster.
type Service struct {
	renderPDF func(html, title string) (*Result, error)
}

func NewService() *Service {
	return &Service{renderPDF: exportPDF}
}

// Roster renders the full collection grouped by date and converts it to PDF.
func (s *Service) Roster(ctx context.Context, shifts []store.Shift) (*Result, error) {
	html, err := RenderRosterHTML(shifts, time.Now())
	if err != nil {
		return nil, fmt.Errorf("render roster: %w", err)
	}
	return s.renderPDF(html, "guardiaswap-roster")
}

// RenderRosterHTML produces the printable HTML for the given shifts,
// grouped by date in ascending order.
func RenderRosterHTML(shifts []store.Shift, generatedAt time.Time) (string, error) {
	days := groupByDate(shifts)
	var buf bytes.Buffer
	err := rosterTemplate.Execute(&buf, map[string]any{
		"Days":        days,
		"Total":       len(shifts),
		"GeneratedAt": generatedAt,
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

func groupByDate(shifts []store.Shift) []RosterDay {
	byDate := map[string][]RosterShift{}
	for _, shift := range shifts {
		byDate[shift.Date] = append(byDate[shift.Date], rosterShift(shift))
	}

	dates := make([]string, 0, len(byDate))
	for date := range byDate {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	days := make([]RosterDay, 0, len(dates))
	for _, date := range dates {
		days = append(days, RosterDay{Date: date, Shifts: byDate[date]})
	}
	return days
}

func rosterShift(shift store.Shift) RosterShift {
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
	if assignee == "" {
		assignee = "(unassigned)"
	}
	return RosterShift{
		Assignee:  assignee,
		ShiftType: payload.Type,
		Notes:     payload.Notes,
		CreatedAt: shift.CreatedAt,
	}
}
