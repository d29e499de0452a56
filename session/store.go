package session

import (
	"context"
	"time"

	"github.com/agentuity/escaperoom/game"
	"github.com/cockroachdb/errors"
)

// ErrNotFound is returned by Load when there is no game for the session.
var ErrNotFound = errors.New("session not found")

const (
	// DefaultTTL is how long an untouched game is kept.
	DefaultTTL = 2 * time.Hour
	// DefaultQueryTimeout is the per-operation timeout for the redis backend.
	DefaultQueryTimeout = 5 * time.Second
	// DefaultPrefix namespaces session keys in redis.
	DefaultPrefix = "escaperoom:session"
	// DefaultExpiryCheck is how often the memory backend sweeps expired sessions.
	DefaultExpiryCheck = time.Minute
)

// Store persists the game state of each player session. Implementations
// store copies: mutating a loaded or saved state never affects the store.
type Store interface {
	// Load returns the state for id or ErrNotFound.
	Load(ctx context.Context, id string) (*game.State, error)
	// Save stores state for id and refreshes its TTL.
	Save(ctx context.Context, id string, state *game.State) error
	// Delete removes id. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error
	// Close releases resources owned by the store.
	Close() error
}

type config struct {
	ttl          time.Duration
	queryTimeout time.Duration
	prefix       string
	expiryCheck  time.Duration
	now          func() time.Time
}

// Option configures a Store.
type Option func(*config)

func applyOptions(opts []Option) config {
	cfg := config{
		ttl:          DefaultTTL,
		queryTimeout: DefaultQueryTimeout,
		prefix:       DefaultPrefix,
		expiryCheck:  DefaultExpiryCheck,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.expiryCheck <= 0 {
		cfg.expiryCheck = DefaultExpiryCheck
	}
	return cfg
}

// WithTTL sets how long a session lives after its last save.
func WithTTL(d time.Duration) Option {
	return func(c *config) { c.ttl = d }
}

// WithQueryTimeout sets the per-operation timeout for the redis backend.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) { c.queryTimeout = d }
}

// WithPrefix sets the redis key prefix. An empty prefix stores bare ids.
func WithPrefix(p string) Option {
	return func(c *config) { c.prefix = p }
}

// WithExpiryCheck sets how often the memory backend sweeps expired sessions.
func WithExpiryCheck(d time.Duration) Option {
	return func(c *config) { c.expiryCheck = d }
}

// WithClock replaces time.Now for the memory backend.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}
