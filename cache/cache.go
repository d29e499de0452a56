package cache

import (
	"context"
	"sync"
	"time"

	"github.com/agentuity/escaperoom/game"
	"github.com/agentuity/escaperoom/logger"
)

const (
	// DefaultTTL is how long a session's pre-generated puzzles stay usable.
	DefaultTTL = 30 * time.Minute
	// DefaultMaxSessions is the maximum number of sessions kept at once.
	DefaultMaxSessions = 200
)

// Payload is one pre-generated puzzle and the narrative that introduces it.
type Payload struct {
	Puzzle        game.Puzzle `json:"puzzle"`
	NarrativeText string      `json:"narrative_text"`
}

func (p Payload) clone() Payload {
	p.Puzzle = p.Puzzle.Clone()
	return p
}

// Status is a diagnostic snapshot of one session's cache entry.
type Status struct {
	CachedPuzzles []int    `json:"cached_puzzles"`
	Count         int      `json:"count"`
	Generating    bool     `json:"generating"`
	AgeSeconds    *float64 `json:"age_seconds"` // nil when the session is unknown
}

// Generator produces the puzzle at state.CurrentPuzzleIndex and returns the
// state with that puzzle appended. It is slow and may fail.
type Generator interface {
	GeneratePuzzle(ctx context.Context, state *game.State) (*game.State, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, state *game.State) (*game.State, error)

func (f GeneratorFunc) GeneratePuzzle(ctx context.Context, state *game.State) (*game.State, error) {
	return f(ctx, state)
}

// PuzzleCache pre-generates the upcoming puzzles of a game in the background
// so the request path can pick them up without waiting on the model.
//
// Nothing in a PuzzleCache returns an error to the caller: generation
// failures are logged and show up as cache misses.
type PuzzleCache interface {
	// StartPrecaching snapshots state and starts generating slots 1..N-1 for
	// sessionID. It returns immediately. Calling it again for the same
	// session resets the session and stops the previous generator.
	StartPrecaching(sessionID string, state *game.State)
	// Get returns a copy of the payload for slot, if it has been generated and
	// the session has not expired.
	Get(sessionID string, slot int) (bool, Payload)
	// Invalidate drops the session and stops its generator. It is a no-op for
	// unknown sessions.
	Invalidate(sessionID string)
	// Status returns a read-only snapshot for diagnostics.
	Status(sessionID string) Status
	// Close stops every generator and waits for them to exit.
	Close() error
}

// config holds the resolved configuration for a PuzzleCache.
type config struct {
	ttl          time.Duration
	maxSessions  int
	totalPuzzles int
	expiryCheck  time.Duration
	now          func() time.Time
	logger       logger.Logger
}

// Option configures a PuzzleCache.
type Option func(*config)

func defaultConfig() config {
	return config{
		ttl:          DefaultTTL,
		maxSessions:  DefaultMaxSessions,
		totalPuzzles: game.TotalPuzzles,
		now:          time.Now,
	}
}

func applyOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxSessions < 1 {
		cfg.maxSessions = 1
	}
	if cfg.logger == nil {
		cfg.logger = logger.NewConsoleLogger()
	}
	return cfg
}

// WithTTL sets how long an entry is served after it was created. Defaults to
// DefaultTTL.
func WithTTL(d time.Duration) Option {
	return func(c *config) { c.ttl = d }
}

// WithMaxSessions caps the number of sessions kept. The oldest sessions are
// evicted first. Defaults to DefaultMaxSessions.
func WithMaxSessions(n int) Option {
	return func(c *config) { c.maxSessions = n }
}

// WithTotalPuzzles sets the number of puzzles in a game. Slot 0 is generated
// by the caller, so slots 1..n-1 are pre-generated. Defaults to
// game.TotalPuzzles.
func WithTotalPuzzles(n int) Option {
	return func(c *config) { c.totalPuzzles = n }
}

// WithExpiryCheck enables a background sweep of expired entries at the given
// interval. Defaults to 0, which only expires entries lazily on lookup and
// when a new session is created.
func WithExpiryCheck(d time.Duration) Option {
	return func(c *config) { c.expiryCheck = d }
}

// WithClock replaces time.Now for entry ages.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// WithLogger sets the logger used for generation failures and evictions.
func WithLogger(log logger.Logger) Option {
	return func(c *config) { c.logger = log }
}

type puzzleCache struct {
	ctx       context.Context
	cancel    context.CancelFunc
	gen       Generator
	store     *store
	cfg       config
	logger    logger.Logger
	mutex     sync.Mutex
	closed    bool
	waitGroup sync.WaitGroup
	once      sync.Once
}

var _ PuzzleCache = (*puzzleCache)(nil)

// New returns a PuzzleCache that uses gen to fill sessions. Cancelling parent
// stops every generator; call Close to also wait for them.
func New(parent context.Context, gen Generator, opts ...Option) PuzzleCache {
	cfg := applyOptions(opts)
	ctx, cancel := context.WithCancel(parent)
	c := &puzzleCache{
		ctx:    ctx,
		cancel: cancel,
		gen:    gen,
		store:  newStore(cfg.ttl, cfg.maxSessions, cfg.now),
		cfg:    cfg,
		logger: cfg.logger.WithPrefix("[cache]"),
	}
	if cfg.expiryCheck > 0 {
		c.waitGroup.Add(1)
		go c.sweep()
	}
	return c
}

func (c *puzzleCache) StartPrecaching(sessionID string, state *game.State) {
	if state == nil {
		c.logger.Warn("precache requested without a game state for session %s", sessionID)
		return
	}
	snapshot := state.Clone()

	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return
	}
	c.waitGroup.Add(1)
	c.mutex.Unlock()

	e, evicted := c.store.create(c.ctx, sessionID)
	if evicted > 0 {
		c.logger.Debug("evicted %d sessions to make room for %s", evicted, sessionID)
	}
	go c.generate(sessionID, e, snapshot)
}

func (c *puzzleCache) Get(sessionID string, slot int) (bool, Payload) {
	ok, p := c.store.lookup(sessionID, slot)
	if !ok {
		return false, Payload{}
	}
	return true, p.clone()
}

func (c *puzzleCache) Invalidate(sessionID string) {
	c.store.invalidate(sessionID)
}

func (c *puzzleCache) Status(sessionID string) Status {
	return c.store.status(sessionID)
}

func (c *puzzleCache) Close() error {
	c.once.Do(func() {
		c.mutex.Lock()
		c.closed = true
		c.mutex.Unlock()
		c.cancel()
		c.waitGroup.Wait()
	})
	return nil
}

func (c *puzzleCache) sweep() {
	defer c.waitGroup.Done()
	ticker := time.NewTicker(c.cfg.expiryCheck)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if n := c.store.removeExpired(); n > 0 {
				c.logger.Debug("expired %d sessions", n)
			}
		}
	}
}
