package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps grants and sign-in state in process memory. It backs
// the gate when no Redis connection is available, so access control keeps
// working in degraded mode. Grants die with the process.
type MemoryStore struct {
	mu     sync.Mutex
	grants map[string]memoryGrant
	states map[string]time.Time
	now    func() time.Time
}

type memoryGrant struct {
	grant     Grant
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		grants: make(map[string]memoryGrant),
		states: make(map[string]time.Time),
		now:    time.Now,
	}
}

func (s *MemoryStore) SaveGrant(_ context.Context, tokenHash string, grant Grant, expiresAt time.Time) error {
	if grant.GrantedAt.IsZero() {
		grant.GrantedAt = s.now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[tokenHash] = memoryGrant{grant: grant, expiresAt: expiresAt}
	return nil
}

func (s *MemoryStore) LookupGrant(_ context.Context, tokenHash string) (Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.grants[tokenHash]
	if !ok || s.now().After(entry.expiresAt) {
		delete(s.grants, tokenHash)
		return Grant{}, fmt.Errorf("grant not found or expired")
	}
	return entry.grant, nil
}

func (s *MemoryStore) RevokeGrant(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants, tokenHash)
	return nil
}

func (s *MemoryStore) SaveOAuthState(_ context.Context, state string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state] = s.now().Add(ttl)
	return nil
}

func (s *MemoryStore) OAuthStatePending(_ context.Context, state string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deadline, ok := s.states[state]
	if !ok {
		return false, nil
	}
	if s.now().After(deadline) {
		delete(s.states, state)
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) ConsumeOAuthState(_ context.Context, state string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deadline, ok := s.states[state]
	delete(s.states, state)
	if !ok || s.now().After(deadline) {
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
