package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	return store, s
}

func TestSaveAndLookupGrant(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	tokenHash := "test-token-hash"

	err := store.SaveGrant(ctx, tokenHash, Grant{
		Mode:   "google",
		UserID: "user-123",
		Name:   "Avery",
		Email:  "avery@example.com",
	}, time.Now().Add(12*time.Hour))
	if err != nil {
		t.Fatalf("SaveGrant failed: %v", err)
	}

	grant, err := store.LookupGrant(ctx, tokenHash)
	if err != nil {
		t.Fatalf("LookupGrant failed: %v", err)
	}
	if grant.Mode != "google" || grant.UserID != "user-123" {
		t.Errorf("unexpected grant: %+v", grant)
	}
	if grant.GrantedAt.IsZero() {
		t.Error("expected GrantedAt to be stamped")
	}
}

func TestSecretGrantHasNoPrincipal(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.SaveGrant(ctx, "secret-hash", Grant{Mode: "secret"}, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveGrant failed: %v", err)
	}

	grant, err := store.LookupGrant(ctx, "secret-hash")
	if err != nil {
		t.Fatalf("LookupGrant failed: %v", err)
	}
	if grant.Mode != "secret" || grant.UserID != "" || grant.Email != "" {
		t.Errorf("unexpected grant: %+v", grant)
	}
}

func TestLookupExpiredGrant(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	err := store.SaveGrant(ctx, "expiring", Grant{Mode: "secret"}, time.Now().Add(time.Millisecond))
	if err != nil {
		t.Fatalf("SaveGrant failed: %v", err)
	}

	s.FastForward(2 * time.Millisecond)

	if _, err := store.LookupGrant(ctx, "expiring"); err == nil {
		t.Error("expected error for expired grant, got nil")
	}
}

func TestRevokeGrant(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.SaveGrant(ctx, "revoked", Grant{Mode: "secret"}, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveGrant failed: %v", err)
	}
	if err := store.RevokeGrant(ctx, "revoked"); err != nil {
		t.Fatalf("RevokeGrant failed: %v", err)
	}
	if _, err := store.LookupGrant(ctx, "revoked"); err == nil {
		t.Error("expected error after revoke, got nil")
	}
}

func TestLookupNonExistentGrant(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	if _, err := store.LookupGrant(context.Background(), "nope"); err == nil {
		t.Error("expected error for missing grant, got nil")
	}
}
