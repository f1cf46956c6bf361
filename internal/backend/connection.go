// Package backend owns the shared connection to the project's infrastructure:
// the document store, the session/flag store, and the resolved backend record.
package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"guardiaswap/api/internal/config"
	"guardiaswap/api/internal/session"
	"guardiaswap/api/internal/store"
)

// ErrUnavailable is returned by operations that need a live connection while
// the manager holds a disabled one.
var ErrUnavailable = errors.New("backend connection unavailable")

// Connection bundles the handles derived from one resolved backend record.
// It is constructed once and read-only afterwards, so it is safe to share
// across any number of subscribers and mutators without locking.
type Connection struct {
	backend   config.Backend
	available bool

	db       *sql.DB
	redis    *redis.Client
	shifts   *store.PostgresStore
	sessions *session.RedisStore
}

// Available reports whether the connection was actually established. A
// disabled connection exists so that server-side initialization can proceed
// when the backend record is missing; reads against it report empty rather
// than failing.
func (c *Connection) Available() bool {
	return c.available
}

func (c *Connection) Backend() config.Backend {
	return c.backend
}

// Shifts returns the document-store handle, or nil on a disabled connection.
func (c *Connection) Shifts() *store.PostgresStore {
	return c.shifts
}

// Sessions returns the session/flag-store handle, or nil on a disabled
// connection.
func (c *Connection) Sessions() *session.RedisStore {
	return c.sessions
}

// DB exposes the raw database handle for collaborators that run their own
// queries (search fallback, readiness checks).
func (c *Connection) DB() *sql.DB {
	return c.db
}

// Redis exposes the raw Redis client for the change-notification pub/sub.
func (c *Connection) Redis() *redis.Client {
	return c.redis
}

func (c *Connection) Close() {
	if c.db != nil {
		_ = c.db.Close()
	}
	if c.redis != nil {
		_ = c.redis.Close()
	}
}

// Manager hands out the process-wide connection. Construction happens at
// most once regardless of how many callers race on Get; every call returns
// the identical *Connection.
type Manager struct {
	cfg  config.Config
	once sync.Once
	conn *Connection
	err  error

	// overridable for tests
	dialStore func(ctx context.Context, url string) (*sql.DB, error)
	dialRedis func(url string) (*redis.Client, error)
}

func NewManager(cfg config.Config) *Manager {
	return &Manager{
		cfg:       cfg,
		dialStore: store.Open,
		dialRedis: dialRedis,
	}
}

// Get returns the shared connection, dialing it on first use. A missing
// backend record yields a disabled connection and no error; an actual dial
// failure is an error for the caller to treat as fatal.
func (m *Manager) Get(ctx context.Context) (*Connection, error) {
	m.once.Do(func() {
		if m.cfg.BackendErr != nil {
			m.conn = &Connection{available: false}
			return
		}
		m.conn, m.err = m.dial(ctx)
	})
	return m.conn, m.err
}

func (m *Manager) dial(ctx context.Context) (*Connection, error) {
	db, err := m.dialStore(ctx, m.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("dial document store: %w", err)
	}

	redisClient, err := m.dialRedis(m.cfg.RedisURL)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("dial session store: %w", err)
	}

	return &Connection{
		backend:   m.cfg.Backend,
		available: true,
		db:        db,
		redis:     redisClient,
		shifts:    store.NewPostgresStore(db),
		sessions:  session.NewRedisStoreWithClient(redisClient),
	}, nil
}

func dialRedis(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}
