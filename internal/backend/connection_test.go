package backend

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"guardiaswap/api/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Backend: config.Backend{APIKey: "key", ProjectID: "project"},
	}
}

func newTestManager(t *testing.T, cfg config.Config) *Manager {
	t.Helper()
	mr := miniredis.RunT(t)
	m := NewManager(cfg)
	m.dialStore = func(ctx context.Context, url string) (*sql.DB, error) {
		// The singleton property does not depend on a live database.
		return &sql.DB{}, nil
	}
	m.dialRedis = func(url string) (*redis.Client, error) {
		return redis.NewClient(&redis.Options{Addr: mr.Addr()}), nil
	}
	return m
}

func TestGetReturnsSameConnection(t *testing.T) {
	m := newTestManager(t, testConfig(t))
	ctx := context.Background()

	first, err := m.Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		conn, err := m.Get(ctx)
		if err != nil {
			t.Fatalf("Get #%d failed: %v", i, err)
		}
		if conn != first {
			t.Fatalf("Get #%d returned a different connection", i)
		}
	}
	if !first.Available() {
		t.Fatal("expected connection to be available")
	}
}

func TestGetIsIdempotentUnderConcurrency(t *testing.T) {
	m := newTestManager(t, testConfig(t))
	ctx := context.Background()

	conns := make([]*Connection, 8)
	var wg sync.WaitGroup
	for i := range conns {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conns[i], _ = m.Get(ctx)
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(conns); i++ {
		if conns[i] != conns[0] {
			t.Fatalf("connection %d differs from connection 0", i)
		}
	}
}

func TestMissingBackendConfigYieldsDisabledConnection(t *testing.T) {
	m := newTestManager(t, config.Config{BackendErr: config.ErrBackendConfigMissing})

	conn, err := m.Get(context.Background())
	if err != nil {
		t.Fatalf("Get must not fail on missing backend config, got %v", err)
	}
	if conn.Available() {
		t.Fatal("expected disabled connection")
	}
	if conn.Shifts() != nil || conn.Sessions() != nil {
		t.Fatal("disabled connection must not expose store handles")
	}
}

func TestDialFailureIsAnError(t *testing.T) {
	m := NewManager(testConfig(t))
	dialErr := errors.New("connection refused")
	m.dialStore = func(ctx context.Context, url string) (*sql.DB, error) {
		return nil, dialErr
	}

	if _, err := m.Get(context.Background()); !errors.Is(err, dialErr) {
		t.Fatalf("expected dial error, got %v", err)
	}
}
