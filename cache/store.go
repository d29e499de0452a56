package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

type entry struct {
	slots     map[int]Payload
	createdAt time.Time
	seq       uint64
	ctx       context.Context
	cancel    context.CancelFunc
}

// store is the map of live sessions. Every method takes the lock for the
// duration of the call only; generation never happens under it.
type store struct {
	mutex       sync.Mutex
	entries     map[string]*entry
	generating  map[string]bool
	ttl         time.Duration
	maxSessions int
	now         func() time.Time
	seq         uint64
}

func newStore(ttl time.Duration, maxSessions int, now func() time.Time) *store {
	return &store{
		entries:     make(map[string]*entry),
		generating:  make(map[string]bool),
		ttl:         ttl,
		maxSessions: maxSessions,
		now:         now,
	}
}

func (s *store) expired(e *entry, now time.Time) bool {
	return now.Sub(e.createdAt) > s.ttl
}

// remove must be called with the lock held.
func (s *store) remove(id string) {
	if e, ok := s.entries[id]; ok {
		e.cancel()
		delete(s.entries, id)
	}
	delete(s.generating, id)
}

// create replaces any entry for id with a fresh one and marks it generating.
// Expired entries are dropped first, then the oldest entries until there is
// room for the new one. It returns the new entry and the number of sessions
// evicted.
func (s *store) create(parent context.Context, id string) (*entry, int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	now := s.now()

	s.remove(id)

	var evicted int
	for key, e := range s.entries {
		if s.expired(e, now) {
			s.remove(key)
			evicted++
		}
	}
	for len(s.entries) >= s.maxSessions {
		var oldestID string
		var oldest *entry
		for key, e := range s.entries {
			if oldest == nil || e.createdAt.Before(oldest.createdAt) ||
				(e.createdAt.Equal(oldest.createdAt) && e.seq < oldest.seq) {
				oldestID, oldest = key, e
			}
		}
		s.remove(oldestID)
		evicted++
	}

	ctx, cancel := context.WithCancel(parent)
	s.seq++
	e := &entry{
		slots:     make(map[int]Payload),
		createdAt: now,
		seq:       s.seq,
		ctx:       ctx,
		cancel:    cancel,
	}
	s.entries[id] = e
	s.generating[id] = true
	return e, evicted
}

// alive reports whether e is still the entry stored for id.
func (s *store) alive(id string, e *entry) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.entries[id] == e
}

// publish stores p in slot unless the slot is already filled. It returns
// false when e is no longer the entry for id, in which case p is dropped.
func (s *store) publish(id string, e *entry, slot int, p Payload) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.entries[id] != e {
		return false
	}
	if _, exists := e.slots[slot]; !exists {
		e.slots[slot] = p
	}
	return true
}

// finish clears the generating flag if e is still the entry for id.
func (s *store) finish(id string, e *entry) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.entries[id] == e {
		delete(s.generating, id)
	}
}

func (s *store) lookup(id string, slot int) (bool, Payload) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return false, Payload{}
	}
	if s.expired(e, s.now()) {
		s.remove(id)
		return false, Payload{}
	}
	p, ok := e.slots[slot]
	return ok, p
}

func (s *store) invalidate(id string) {
	s.mutex.Lock()
	s.remove(id)
	s.mutex.Unlock()
}

func (s *store) status(id string) Status {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	st := Status{CachedPuzzles: []int{}, Generating: s.generating[id]}
	e, ok := s.entries[id]
	if !ok {
		return st
	}
	for slot := range e.slots {
		st.CachedPuzzles = append(st.CachedPuzzles, slot)
	}
	sort.Ints(st.CachedPuzzles)
	st.Count = len(st.CachedPuzzles)
	age := float64(int64(s.now().Sub(e.createdAt).Seconds()*10+0.5)) / 10
	st.AgeSeconds = &age
	return st
}

func (s *store) removeExpired() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	now := s.now()
	var n int
	for key, e := range s.entries {
		if s.expired(e, now) {
			s.remove(key)
			n++
		}
	}
	return n
}

func (s *store) size() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.entries)
}
