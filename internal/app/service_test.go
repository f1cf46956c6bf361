package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"guardiaswap/api/internal/backend"
	"guardiaswap/api/internal/config"
	"guardiaswap/api/internal/gate"
	"guardiaswap/api/internal/session"
	"guardiaswap/api/internal/store"
	"guardiaswap/api/internal/util"
	"guardiaswap/api/internal/watch"
)

type fakeShiftStore struct {
	mu        sync.Mutex
	shifts    []store.Shift
	insertErr error
	listErr   error
}

func (f *fakeShiftStore) InsertShift(_ context.Context, shift store.Shift) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.shifts = append(f.shifts, shift)
	return nil
}

func (f *fakeShiftStore) DeleteShift(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.shifts[:0]
	for _, shift := range f.shifts {
		if shift.ID != id {
			kept = append(kept, shift)
		}
	}
	f.shifts = kept
	return nil
}

func (f *fakeShiftStore) ListShifts(_ context.Context) ([]store.Shift, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]store.Shift, len(f.shifts))
	copy(out, f.shifts)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeShiftStore) ListShiftsForDate(_ context.Context, date string) ([]store.Shift, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Shift{}
	for _, shift := range f.shifts {
		if shift.Date == date {
			out = append(out, shift)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeShiftStore) CountShiftsForDate(_ context.Context, date string, cap int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, shift := range f.shifts {
		if shift.Date == date {
			count++
			if count >= cap {
				break
			}
		}
	}
	return count, nil
}

func (f *fakeShiftStore) Ping(context.Context) error { return nil }

type fakeGrants struct {
	mu     sync.Mutex
	grants map[string]session.Grant
	states map[string]bool
}

func newFakeGrants() *fakeGrants {
	return &fakeGrants{
		grants: map[string]session.Grant{},
		states: map[string]bool{},
	}
}

func (f *fakeGrants) SaveGrant(_ context.Context, tokenHash string, grant session.Grant, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grants[tokenHash] = grant
	return nil
}

func (f *fakeGrants) LookupGrant(_ context.Context, tokenHash string) (session.Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	grant, ok := f.grants[tokenHash]
	if !ok {
		return session.Grant{}, fmt.Errorf("grant not found or expired")
	}
	return grant, nil
}

func (f *fakeGrants) RevokeGrant(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.grants, tokenHash)
	return nil
}

func (f *fakeGrants) SaveOAuthState(_ context.Context, state string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[state] = true
	return nil
}

func (f *fakeGrants) OAuthStatePending(_ context.Context, state string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[state], nil
}

func (f *fakeGrants) ConsumeOAuthState(_ context.Context, state string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.states[state] {
		return false, nil
	}
	delete(f.states, state)
	return true, nil
}

func (f *fakeGrants) Ping(context.Context) error { return nil }

func testConfig() config.Config {
	return config.Config{
		Addr:               ":0",
		CORSOrigin:         "*",
		GateMode:           "secret",
		AccessSecret:       "letmein",
		JWTSecret:          "test-jwt-secret",
		SessionTTL:         time.Hour,
		GateAttemptsPerMin: 100,
	}
}

func newTestService(t *testing.T, cfg config.Config, shifts *fakeShiftStore, grants *fakeGrants) *Service {
	t.Helper()
	hub := watch.NewHub(shifts, nil)
	hub.Start(context.Background())
	t.Cleanup(hub.Stop)
	return &Service{
		cfg:       cfg,
		available: true,
		shifts:    shifts,
		grants:    grants,
		hub:       hub,
		secret:    gate.NewSecretGate(cfg.AccessSecret, cfg.GateAttemptsPerMin),
		google:    gate.NewGoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL),
		now:       time.Now,
		newID:     util.NewID,
	}
}

func newDisabledService(t *testing.T, cfg config.Config) *Service {
	t.Helper()
	return &Service{
		cfg:       cfg,
		available: false,
		grants:    session.NewMemoryStore(),
		hub:       watch.NewDisabledHub(),
		secret:    gate.NewSecretGate(cfg.AccessSecret, cfg.GateAttemptsPerMin),
		google:    gate.NewGoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL),
		now:       time.Now,
		newID:     util.NewID,
	}
}

func mustCreate(t *testing.T, svc *Service, date string) store.Shift {
	t.Helper()
	shift, err := svc.CreateShift(context.Background(), CreateShiftInput{Date: date})
	if err != nil {
		t.Fatalf("create shift for %s: %v", date, err)
	}
	return shift
}

func TestCreateShiftStampsFields(t *testing.T) {
	svc := newTestService(t, testConfig(), &fakeShiftStore{}, newFakeGrants())

	shift := mustCreate(t, svc, "2026-09-01")

	if !strings.HasPrefix(shift.ID, "shift_") {
		t.Errorf("id = %q, want shift_ prefix", shift.ID)
	}
	if strings.Contains(shift.ID, "__") {
		t.Errorf("id = %q, separator doubled", shift.ID)
	}
	if shift.CreatedAt.IsZero() {
		t.Error("createdAt not stamped")
	}
	if shift.CreatedAt.Location() != time.UTC {
		t.Errorf("createdAt location = %v, want UTC", shift.CreatedAt.Location())
	}
	if string(shift.Payload) != "{}" {
		t.Errorf("payload = %q, want empty object", shift.Payload)
	}
}

func TestCreateShiftRejectsBadDate(t *testing.T) {
	svc := newTestService(t, testConfig(), &fakeShiftStore{}, newFakeGrants())

	for _, date := range []string{"", "tomorrow", "2026-13-01", "01-09-2026"} {
		_, err := svc.CreateShift(context.Background(), CreateShiftInput{Date: date})
		var domainErr *DomainError
		if !errors.As(err, &domainErr) || domainErr.Code != "INVALID_DATE" {
			t.Errorf("date %q: err = %v, want INVALID_DATE", date, err)
		}
	}
}

func TestCapacityTwoPerDate(t *testing.T) {
	svc := newTestService(t, testConfig(), &fakeShiftStore{}, newFakeGrants())
	ctx := context.Background()

	first := mustCreate(t, svc, "2026-09-01")
	mustCreate(t, svc, "2026-09-01")

	if ok, _ := svc.CanCreateForDate(ctx, "2026-09-01"); ok {
		t.Error("canCreate = true after two shifts")
	}

	_, err := svc.CreateShift(ctx, CreateShiftInput{Date: "2026-09-01"})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("third create err = %v, want DomainError", err)
	}
	if domainErr.Code != "CAPACITY_REACHED" || domainErr.Status != http.StatusConflict {
		t.Errorf("third create = %d %s, want 409 CAPACITY_REACHED", domainErr.Status, domainErr.Code)
	}

	// Other dates are unaffected.
	mustCreate(t, svc, "2026-09-02")

	// Freeing a slot reopens the date.
	if err := svc.DeleteShift(ctx, first.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := svc.CanCreateForDate(ctx, "2026-09-01"); !ok {
		t.Error("canCreate = false after delete")
	}
	mustCreate(t, svc, "2026-09-01")
}

func TestDeleteShiftIdempotent(t *testing.T) {
	svc := newTestService(t, testConfig(), &fakeShiftStore{}, newFakeGrants())

	if err := svc.DeleteShift(context.Background(), "shift_missing"); err != nil {
		t.Fatalf("delete absent shift: %v", err)
	}
}

func TestDisabledServiceReadsEmptyMutationsFail(t *testing.T) {
	svc := newDisabledService(t, testConfig())
	ctx := context.Background()

	shifts, err := svc.ListShifts(ctx)
	if err != nil || len(shifts) != 0 {
		t.Errorf("ListShifts = %v, %v, want empty, nil", shifts, err)
	}

	_, err = svc.CreateShift(ctx, CreateShiftInput{Date: "2026-09-01"})
	if !errors.Is(err, backend.ErrUnavailable) {
		t.Errorf("create err = %v, want ErrUnavailable", err)
	}
	if err := svc.DeleteShift(ctx, "shift_x"); !errors.Is(err, backend.ErrUnavailable) {
		t.Errorf("delete err = %v, want ErrUnavailable", err)
	}
}

func TestSecretSessionLifecycle(t *testing.T) {
	svc := newTestService(t, testConfig(), &fakeShiftStore{}, newFakeGrants())
	ctx := context.Background()

	sess, err := svc.GrantSecret(ctx, "client-1", "letmein")
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if sess.Token == "" || sess.Mode != "secret" {
		t.Fatalf("session = %+v", sess)
	}

	resolved, err := svc.SessionFromToken(ctx, sess.Token)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Mode != "secret" {
		t.Errorf("mode = %q", resolved.Mode)
	}

	if err := svc.Logout(ctx, sess.Token); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.SessionFromToken(ctx, sess.Token); err == nil {
		t.Error("token still valid after logout")
	}
}

func TestGrantSecretRejectsWrongValue(t *testing.T) {
	svc := newTestService(t, testConfig(), &fakeShiftStore{}, newFakeGrants())

	_, err := svc.GrantSecret(context.Background(), "client-1", "wrong")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "SECRET_REJECTED" {
		t.Fatalf("err = %v, want SECRET_REJECTED", err)
	}
	if domainErr.Status != http.StatusUnauthorized {
		t.Errorf("status = %d", domainErr.Status)
	}
}

func TestGrantSecretThrottlesPerClient(t *testing.T) {
	cfg := testConfig()
	cfg.GateAttemptsPerMin = 2
	svc := newTestService(t, cfg, &fakeShiftStore{}, newFakeGrants())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := svc.GrantSecret(ctx, "client-a", "wrong"); err == nil {
			t.Fatal("wrong secret accepted")
		}
	}

	_, err := svc.GrantSecret(ctx, "client-a", "wrong")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "TOO_MANY_ATTEMPTS" {
		t.Fatalf("err = %v, want TOO_MANY_ATTEMPTS", err)
	}

	// A different client still gets its attempts.
	_, err = svc.GrantSecret(ctx, "client-b", "wrong")
	if errors.As(err, &domainErr) && domainErr.Code == "TOO_MANY_ATTEMPTS" {
		t.Error("fresh client throttled")
	}
}

func TestGateModeMismatch(t *testing.T) {
	cfg := testConfig()
	cfg.GateMode = "google"
	svc := newTestService(t, cfg, &fakeShiftStore{}, newFakeGrants())

	_, err := svc.GrantSecret(context.Background(), "client-1", "letmein")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusNotFound {
		t.Errorf("secret gate in google mode: err = %v, want 404", err)
	}

	svc.cfg.GateMode = "secret"
	_, _, err = svc.GoogleLoginURL(context.Background())
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusNotFound {
		t.Errorf("google login in secret mode: err = %v, want 404", err)
	}
}

func TestCreateShiftRefreshesSnapshot(t *testing.T) {
	svc := newTestService(t, testConfig(), &fakeShiftStore{}, newFakeGrants())

	sub := svc.hub.Subscribe()
	defer sub.Close()
	<-sub.Snapshots() // initial empty snapshot

	shift := mustCreate(t, svc, "2026-09-01")

	select {
	case snapshot := <-sub.Snapshots():
		if len(snapshot) != 1 || snapshot[0].ID != shift.ID {
			t.Errorf("snapshot = %+v", snapshot)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot after create")
	}
}
