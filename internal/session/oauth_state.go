package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const statePrefix = "oauth-state:"

// SaveOAuthState records a pending redirect sign-in. While at least one
// state entry is outstanding the gate reports the session as unknown rather
// than unauthenticated.
func (s *RedisStore) SaveOAuthState(ctx context.Context, state string, ttl time.Duration) error {
	if err := s.client.Set(ctx, statePrefix+state, "1", ttl).Err(); err != nil {
		return fmt.Errorf("save oauth state: %w", err)
	}
	return nil
}

// OAuthStatePending reports whether a state value is still outstanding
// without consuming it.
func (s *RedisStore) OAuthStatePending(ctx context.Context, state string) (bool, error) {
	n, err := s.client.Exists(ctx, statePrefix+state).Result()
	if err != nil {
		return false, fmt.Errorf("check oauth state: %w", err)
	}
	return n > 0, nil
}

// ConsumeOAuthState validates and burns a state value. A state can complete
// at most one redirect.
func (s *RedisStore) ConsumeOAuthState(ctx context.Context, state string) (bool, error) {
	_, err := s.client.GetDel(ctx, statePrefix+state).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("consume oauth state: %w", err)
	}
	return true, nil
}
