package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"guardiaswap/api/internal/auth"
	"guardiaswap/api/internal/backend"
	"guardiaswap/api/internal/config"
	"guardiaswap/api/internal/export"
	"guardiaswap/api/internal/gate"
	"guardiaswap/api/internal/metrics"
	"guardiaswap/api/internal/search"
	"guardiaswap/api/internal/session"
	"guardiaswap/api/internal/store"
	"guardiaswap/api/internal/util"
	"guardiaswap/api/internal/watch"
)

const oauthStateTTL = 10 * time.Minute

// ShiftStore is the persistence surface the service mutates and reads.
type ShiftStore interface {
	InsertShift(ctx context.Context, shift store.Shift) error
	DeleteShift(ctx context.Context, id string) error
	ListShifts(ctx context.Context) ([]store.Shift, error)
	ListShiftsForDate(ctx context.Context, date string) ([]store.Shift, error)
	CountShiftsForDate(ctx context.Context, date string, cap int) (int, error)
	Ping(ctx context.Context) error
}

// GrantStore persists access grants and pending redirect sign-in state.
type GrantStore interface {
	SaveGrant(ctx context.Context, tokenHash string, grant session.Grant, expiresAt time.Time) error
	LookupGrant(ctx context.Context, tokenHash string) (session.Grant, error)
	RevokeGrant(ctx context.Context, tokenHash string) error
	SaveOAuthState(ctx context.Context, state string, ttl time.Duration) error
	OAuthStatePending(ctx context.Context, state string) (bool, error)
	ConsumeOAuthState(ctx context.Context, state string) (bool, error)
	Ping(ctx context.Context) error
}

// Searcher indexes shifts and answers queries.
type Searcher interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexShift(record search.ShiftRecord)
	DeleteShift(id string)
	Backfill(records []search.ShiftRecord)
}

// Exporter renders the current shifts into a downloadable roster.
type Exporter interface {
	Roster(ctx context.Context, shifts []store.Shift) (*export.Result, error)
}

// Archiver writes snapshots of the collection to object storage.
type Archiver interface {
	Snapshot(ctx context.Context, shifts []store.Shift) (string, error)
}

// Session is an authenticated access grant plus its bearer token.
type Session struct {
	Token     string    `json:"token"`
	Mode      string    `json:"mode"`
	UserID    string    `json:"userId,omitempty"`
	UserName  string    `json:"userName,omitempty"`
	Email     string    `json:"email,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// CreateShiftInput carries a new shift. Payload holds everything beyond the
// date; the service never interprets it.
type CreateShiftInput struct {
	Date    string
	Payload json.RawMessage
}

type Options struct {
	Searcher Searcher
	Exporter Exporter
	Archiver Archiver
	Metrics  *metrics.Collector
}

type Service struct {
	cfg       config.Config
	available bool
	shifts    ShiftStore
	grants    GrantStore
	hub       *watch.Hub
	secret    *gate.SecretGate
	google    *gate.GoogleProvider
	searcher  Searcher
	exporter  Exporter
	archiver  Archiver
	collector *metrics.Collector

	now   func() time.Time
	newID func(prefix string) string
}

// NewService wires the service onto an established connection. A disabled
// connection yields a service that serves empty reads and refuses mutations.
func NewService(cfg config.Config, conn *backend.Connection, hub *watch.Hub, opts Options) *Service {
	svc := &Service{
		cfg:       cfg,
		available: conn.Available(),
		hub:       hub,
		secret:    gate.NewSecretGate(cfg.AccessSecret, cfg.GateAttemptsPerMin),
		google:    gate.NewGoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL),
		searcher:  opts.Searcher,
		exporter:  opts.Exporter,
		archiver:  opts.Archiver,
		collector: opts.Metrics,
		now:       time.Now,
		newID:     util.NewID,
	}
	if svc.available {
		svc.shifts = conn.Shifts()
		svc.grants = conn.Sessions()
	} else {
		// The gate still runs in degraded mode; grants live in
		// process memory and reads serve empty collections.
		svc.grants = session.NewMemoryStore()
	}
	return svc
}

func (s *Service) Available() bool {
	return s.available
}

func (s *Service) Hub() *watch.Hub {
	return s.hub
}

func (s *Service) GateMode() string {
	return s.cfg.GateMode
}

func (s *Service) MetricsHandler() http.Handler {
	if s.collector == nil {
		return nil
	}
	return s.collector.Handler()
}

// Ping checks both halves of the connection. A disabled connection is a
// valid operating mode and pings clean.
func (s *Service) Ping(ctx context.Context) error {
	if !s.available {
		return nil
	}
	if err := s.shifts.Ping(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := s.grants.Ping(ctx); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

// CreateShift persists a new shift after the capacity check, then lets the
// hub and the search index know. The capacity check is advisory; two
// concurrent creates for the last slot can both pass it.
func (s *Service) CreateShift(ctx context.Context, input CreateShiftInput) (store.Shift, error) {
	if !s.available {
		return store.Shift{}, backend.ErrUnavailable
	}
	if _, err := time.Parse("2006-01-02", input.Date); err != nil {
		return store.Shift{}, domainError(http.StatusBadRequest, "INVALID_DATE", "Date must be YYYY-MM-DD", nil)
	}

	ok, err := s.CanCreateForDate(ctx, input.Date)
	if err != nil {
		return store.Shift{}, err
	}
	if !ok {
		if s.collector != nil {
			s.collector.RecordCapacityRejection()
		}
		return store.Shift{}, domainError(http.StatusConflict, "CAPACITY_REACHED", "No remaining slots for this date", map[string]any{"date": input.Date})
	}

	payload := input.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	shift := store.Shift{
		ID:        s.newID("shift"),
		Date:      input.Date,
		CreatedAt: s.now().UTC(),
		Payload:   payload,
	}
	if err := s.shifts.InsertShift(ctx, shift); err != nil {
		return store.Shift{}, err
	}

	s.hub.Notify(ctx)
	if s.searcher != nil {
		s.searcher.IndexShift(search.RecordFromShift(shift))
	}
	if s.collector != nil {
		s.collector.RecordShiftCreated()
	}
	return shift, nil
}

// DeleteShift removes a shift. Deleting an absent id succeeds; the snapshot
// after either outcome is the same.
func (s *Service) DeleteShift(ctx context.Context, id string) error {
	if !s.available {
		return backend.ErrUnavailable
	}
	if err := s.shifts.DeleteShift(ctx, id); err != nil {
		return err
	}

	s.hub.Notify(ctx)
	if s.searcher != nil {
		s.searcher.DeleteShift(id)
	}
	if s.collector != nil {
		s.collector.RecordShiftDeleted()
	}
	return nil
}

// CanCreateForDate reports whether the date still has a free slot.
func (s *Service) CanCreateForDate(ctx context.Context, date string) (bool, error) {
	if !s.available {
		return false, backend.ErrUnavailable
	}
	count, err := s.shifts.CountShiftsForDate(ctx, date, store.MaxShiftsPerDate)
	if err != nil {
		return false, err
	}
	return count < store.MaxShiftsPerDate, nil
}

func (s *Service) ListShifts(ctx context.Context) ([]store.Shift, error) {
	if !s.available {
		return []store.Shift{}, nil
	}
	return s.shifts.ListShifts(ctx)
}

func (s *Service) ListForDate(ctx context.Context, date string) ([]store.Shift, error) {
	if !s.available {
		return []store.Shift{}, nil
	}
	return s.shifts.ListShiftsForDate(ctx, date)
}

// GrantSecret runs the shared-secret gate and opens a session on success.
func (s *Service) GrantSecret(ctx context.Context, clientKey, submitted string) (Session, error) {
	if s.cfg.GateMode != "secret" {
		return Session{}, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}

	if err := s.secret.Verify(clientKey, submitted); err != nil {
		switch {
		case errors.Is(err, gate.ErrTooManyAttempts):
			s.recordGateAttempt("throttled")
			return Session{}, domainError(http.StatusTooManyRequests, "TOO_MANY_ATTEMPTS", "Too many attempts, slow down", nil)
		case errors.Is(err, gate.ErrSecretNotConfigured):
			return Session{}, domainError(http.StatusServiceUnavailable, "GATE_NOT_CONFIGURED", "Access secret is not configured", nil)
		default:
			s.recordGateAttempt("rejected")
			return Session{}, domainError(http.StatusUnauthorized, "SECRET_REJECTED", "Incorrect access code", nil)
		}
	}

	s.recordGateAttempt("granted")
	return s.issueSession(ctx, session.Grant{Mode: "secret"})
}

// GoogleLoginURL records a pending redirect and returns the provider URL to
// send the browser to.
func (s *Service) GoogleLoginURL(ctx context.Context) (string, string, error) {
	if s.cfg.GateMode != "google" {
		return "", "", domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
	if !s.google.Configured() {
		return "", "", domainError(http.StatusServiceUnavailable, "GATE_NOT_CONFIGURED", "Google sign-in is not configured", nil)
	}

	state := util.NewToken()
	if err := s.grants.SaveOAuthState(ctx, state, oauthStateTTL); err != nil {
		return "", "", err
	}
	return s.google.LoginURL(state), state, nil
}

// CompleteGoogleLogin finishes the redirect: burns the state, exchanges the
// code and opens a session for the principal.
func (s *Service) CompleteGoogleLogin(ctx context.Context, state, code string) (Session, error) {
	if s.cfg.GateMode != "google" {
		return Session{}, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}

	ok, err := s.grants.ConsumeOAuthState(ctx, state)
	if err != nil {
		return Session{}, err
	}
	if !ok {
		return Session{}, domainError(http.StatusBadRequest, "INVALID_STATE", "Unknown or expired sign-in attempt", nil)
	}

	principal, err := s.google.Exchange(ctx, code)
	if err != nil {
		code := gate.Classify(err)
		s.recordGateAttempt("failed")
		log.Printf("google sign-in failed: code=%s err=%v", code, err)
		return Session{}, domainError(http.StatusUnauthorized, code, "Sign-in failed", nil)
	}

	s.recordGateAttempt("granted")
	return s.issueSession(ctx, session.Grant{
		Mode:   "google",
		UserID: principal.Sub,
		Name:   principal.Name,
		Email:  principal.Email,
	})
}

// SessionFromToken resolves a bearer token to its grant. Any failure along
// the way reads as an unauthenticated session to the caller.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	grant, err := s.grants.LookupGrant(ctx, auth.HashToken(token))
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	return Session{
		Token:     token,
		Mode:      grant.Mode,
		UserID:    grant.UserID,
		UserName:  grant.Name,
		Email:     grant.Email,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// PendingSignIn reports whether a redirect sign-in for the given state is
// still in flight.
func (s *Service) PendingSignIn(ctx context.Context, state string) bool {
	if state == "" {
		return false
	}
	pending, err := s.grants.OAuthStatePending(ctx, state)
	if err != nil {
		return false
	}
	return pending
}

// Logout revokes the grant behind the token. Unknown tokens are a no-op.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.grants.RevokeGrant(ctx, auth.HashToken(token))
}

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	if s.searcher == nil || !s.available {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.searcher.Search(ctx, q)
}

// ExportRoster renders every shift into the printable roster.
func (s *Service) ExportRoster(ctx context.Context) (*export.Result, error) {
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	shifts, err := s.ListShifts(ctx)
	if err != nil {
		return nil, err
	}
	result, err := s.exporter.Roster(ctx, shifts)
	if err != nil {
		if errors.Is(err, export.ErrPDFDependencyMissing) {
			return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF renderer is not available", nil)
		}
		return nil, err
	}
	return result, nil
}

// Backup snapshots the collection to object storage and returns the object
// name.
func (s *Service) Backup(ctx context.Context) (string, error) {
	if s.archiver == nil {
		return "", domainError(http.StatusServiceUnavailable, "BACKUP_NOT_CONFIGURED", "Backup storage is not configured", nil)
	}
	if !s.available {
		return "", backend.ErrUnavailable
	}
	shifts, err := s.shifts.ListShifts(ctx)
	if err != nil {
		return "", err
	}
	return s.archiver.Snapshot(ctx, shifts)
}

// BackfillSearch reindexes every stored shift. Called once at startup.
func (s *Service) BackfillSearch(ctx context.Context) {
	if s.searcher == nil || !s.available {
		return
	}
	shifts, err := s.shifts.ListShifts(ctx)
	if err != nil {
		log.Printf("search backfill skipped: %v", err)
		return
	}
	records := make([]search.ShiftRecord, 0, len(shifts))
	for _, shift := range shifts {
		records = append(records, search.RecordFromShift(shift))
	}
	s.searcher.Backfill(records)
}

func (s *Service) issueSession(ctx context.Context, grant session.Grant) (Session, error) {
	expiresAt := s.now().Add(s.cfg.SessionTTL)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  subject(grant, s.newID),
		Name: grant.Name,
		Mode: grant.Mode,
		JTI:  s.newID("jti"),
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}
	if err := s.grants.SaveGrant(ctx, auth.HashToken(token), grant, expiresAt); err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		Mode:      grant.Mode,
		UserID:    grant.UserID,
		UserName:  grant.Name,
		Email:     grant.Email,
		ExpiresAt: expiresAt,
	}, nil
}

func subject(grant session.Grant, newID func(string) string) string {
	if grant.UserID != "" {
		return grant.UserID
	}
	return newID("sess")
}

func (s *Service) recordGateAttempt(outcome string) {
	if s.collector != nil {
		s.collector.RecordGateAttempt(outcome)
	}
}
