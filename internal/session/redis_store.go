// Package session stores granted gate sessions in Redis.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Grant is what the access gate recorded when it let a session through.
// Either a federated principal (mode "google") or a shared-secret grant
// (mode "secret", no principal fields).
type Grant struct {
	Mode      string    `json:"mode"`
	UserID    string    `json:"user_id,omitempty"`
	Name      string    `json:"name,omitempty"`
	Email     string    `json:"email,omitempty"`
	GrantedAt time.Time `json:"granted_at"`
}

// RedisStore persists grants keyed by session-token hash. Entries expire
// with the session TTL, so a grant is scoped to the browsing session and
// lost when it ends.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "app-access-granted:",
	}
}

func (s *RedisStore) key(tokenHash string) string {
	return s.prefix + tokenHash
}

// SaveGrant stores a grant with expiration.
func (s *RedisStore) SaveGrant(ctx context.Context, tokenHash string, grant Grant, expiresAt time.Time) error {
	if grant.GrantedAt.IsZero() {
		grant.GrantedAt = time.Now()
	}

	jsonData, err := json.Marshal(grant)
	if err != nil {
		return fmt.Errorf("marshal grant: %w", err)
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return fmt.Errorf("grant already expired")
	}

	if err := s.client.Set(ctx, s.key(tokenHash), jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("save grant: %w", err)
	}
	return nil
}

// LookupGrant retrieves a grant by session-token hash. A missing or expired
// entry is an error; the caller treats it as an ungranted session.
func (s *RedisStore) LookupGrant(ctx context.Context, tokenHash string) (Grant, error) {
	jsonData, err := s.client.Get(ctx, s.key(tokenHash)).Result()
	if err == redis.Nil {
		return Grant{}, fmt.Errorf("grant not found or expired")
	}
	if err != nil {
		return Grant{}, fmt.Errorf("lookup grant: %w", err)
	}

	var grant Grant
	if err := json.Unmarshal([]byte(jsonData), &grant); err != nil {
		return Grant{}, fmt.Errorf("unmarshal grant: %w", err)
	}
	return grant, nil
}

// RevokeGrant deletes a grant (logout).
func (s *RedisStore) RevokeGrant(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, s.key(tokenHash)).Err(); err != nil {
		return fmt.Errorf("revoke grant: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
