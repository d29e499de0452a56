package session

import (
	"context"
	"sync"
	"time"

	"github.com/agentuity/escaperoom/game"
)

type memoryEntry struct {
	state   *game.State
	expires time.Time
}

// MemoryStore keeps sessions in process memory. Expired sessions are swept
// in the background until Close.
type MemoryStore struct {
	sessions  map[string]*memoryEntry
	mu        sync.RWMutex
	cfg       config
	ctx       context.Context
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
	closeOnce sync.Once
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns a Store that lives as long as the process.
func NewMemoryStore(opts ...Option) *MemoryStore {
	ctx, cancel := context.WithCancel(context.Background())
	store := &MemoryStore{
		sessions: make(map[string]*memoryEntry),
		cfg:      applyOptions(opts),
		ctx:      ctx,
		cancel:   cancel,
	}
	store.waitGroup.Add(1)
	go store.run()
	return store
}

func (store *MemoryStore) run() {
	defer store.waitGroup.Done()
	ticker := time.NewTicker(store.cfg.expiryCheck)
	defer ticker.Stop()
	for {
		select {
		case <-store.ctx.Done():
			return
		case <-ticker.C:
			store.sweep()
		}
	}
}

// sweep drops every expired session and returns how many it removed.
func (store *MemoryStore) sweep() int {
	now := store.cfg.now()
	store.mu.Lock()
	defer store.mu.Unlock()
	var removed int
	for id, entry := range store.sessions {
		if now.After(entry.expires) {
			delete(store.sessions, id)
			removed++
		}
	}
	return removed
}

func (store *MemoryStore) Load(_ context.Context, id string) (*game.State, error) {
	store.mu.RLock()
	entry, ok := store.sessions[id]
	store.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if store.cfg.now().After(entry.expires) {
		store.mu.Lock()
		if store.sessions[id] == entry {
			delete(store.sessions, id)
		}
		store.mu.Unlock()
		return nil, ErrNotFound
	}
	return entry.state.Clone(), nil
}

func (store *MemoryStore) Save(_ context.Context, id string, state *game.State) error {
	entry := &memoryEntry{
		state:   state.Clone(),
		expires: store.cfg.now().Add(store.cfg.ttl),
	}
	store.mu.Lock()
	store.sessions[id] = entry
	store.mu.Unlock()
	return nil
}

func (store *MemoryStore) Delete(_ context.Context, id string) error {
	store.mu.Lock()
	delete(store.sessions, id)
	store.mu.Unlock()
	return nil
}

// Len returns the number of stored sessions, including expired ones the
// sweeper has not reached yet.
func (store *MemoryStore) Len() int {
	store.mu.RLock()
	defer store.mu.RUnlock()
	return len(store.sessions)
}

func (store *MemoryStore) Close() error {
	store.closeOnce.Do(func() {
		store.cancel()
		store.waitGroup.Wait()
	})
	store.mu.Lock()
	store.sessions = make(map[string]*memoryEntry)
	store.mu.Unlock()
	return nil
}
