package session

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentuity/escaperoom/game"
	"github.com/alicebob/miniredis/v2"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func sampleState() *game.State {
	return &game.State{
		Theme:              "space",
		Status:             game.StatusPlaying,
		CurrentPuzzleIndex: 1,
		Puzzles: []game.Puzzle{
			{Question: "q1", Type: "riddle", Answer: "echo", Hints: []string{"a", "b"}, Solved: true, SolveTime: 12.5},
			{Question: "q2", Type: "cipher", Answer: "gold", Hints: []string{"c"}, IsEasterEgg: true},
		},
		Score:           1480,
		StartTime:       time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC),
		TimePenalties:   time.Minute,
		NarrativeLog:    []string{"one", "two"},
		DifficultyLevel: 3,
		SolvedCount:     1,
		EasterEggPuzzle: 1,
		RevealedPuzzle:  -1,
	}
}

func assertSameState(t *testing.T, want, got *game.State) {
	t.Helper()
	assert.Equal(t, want.Theme, got.Theme)
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.CurrentPuzzleIndex, got.CurrentPuzzleIndex)
	assert.Equal(t, want.Score, got.Score)
	assert.True(t, want.StartTime.Equal(got.StartTime))
	assert.Equal(t, want.TimePenalties, got.TimePenalties)
	assert.Equal(t, want.NarrativeLog, got.NarrativeLog)
	assert.Equal(t, want.DifficultyLevel, got.DifficultyLevel)
	assert.Equal(t, want.EasterEggPuzzle, got.EasterEggPuzzle)
	assert.Equal(t, want.RevealedPuzzle, got.RevealedPuzzle)
	require.Len(t, got.Puzzles, len(want.Puzzles))
	for i := range want.Puzzles {
		assert.Equal(t, want.Puzzles[i].Answer, got.Puzzles[i].Answer)
		assert.Equal(t, want.Puzzles[i].Hints, got.Puzzles[i].Hints)
		assert.Equal(t, want.Puzzles[i].Solved, got.Puzzles[i].Solved)
		assert.Equal(t, want.Puzzles[i].SolveTime, got.Puzzles[i].SolveTime)
		assert.Equal(t, want.Puzzles[i].IsEasterEgg, got.Puzzles[i].IsEasterEgg)
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	_, err := s.Load(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	st := sampleState()
	require.NoError(t, s.Save(ctx, "p1", st))
	st.Puzzles[0].Hints[0] = "changed"

	got, err := s.Load(ctx, "p1")
	require.NoError(t, err)
	assertSameState(t, sampleState(), got)

	got.Score = 0
	again, err := s.Load(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1480, again.Score)

	require.NoError(t, s.Delete(ctx, "p1"))
	require.NoError(t, s.Delete(ctx, "p1"))
	_, err = s.Load(ctx, "p1")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	s := NewMemoryStore(WithTTL(time.Hour), WithClock(func() time.Time { return now }))
	defer s.Close()

	require.NoError(t, s.Save(ctx, "p1", sampleState()))
	now = now.Add(59 * time.Minute)
	_, err := s.Load(ctx, "p1")
	require.NoError(t, err)

	// saving slides the expiry
	require.NoError(t, s.Save(ctx, "p1", sampleState()))
	now = now.Add(59 * time.Minute)
	_, err = s.Load(ctx, "p1")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = s.Load(ctx, "p1")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, 0, s.Len())
}

func TestMemoryStoreSweepsAbandonedSessions(t *testing.T) {
	ctx := context.Background()
	var now atomic.Int64
	now.Store(time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC).UnixNano())
	clock := func() time.Time { return time.Unix(0, now.Load()).UTC() }
	s := NewMemoryStore(WithTTL(time.Hour), WithClock(clock), WithExpiryCheck(5*time.Millisecond))
	defer s.Close()

	for i := range 1000 {
		require.NoError(t, s.Save(ctx, fmt.Sprintf("p%d", i), sampleState()))
	}
	assert.Equal(t, 1000, s.Len())

	now.Add(int64(48 * time.Hour))
	require.NoError(t, s.Save(ctx, "fresh", sampleState()))
	require.Eventually(t, func() bool { return s.Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	_, err := s.Load(ctx, "fresh")
	assert.NoError(t, err)
}

func TestMemoryStoreSweep(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	s := NewMemoryStore(WithTTL(time.Hour), WithClock(func() time.Time { return now }))
	defer s.Close()

	require.NoError(t, s.Save(ctx, "old", sampleState()))
	now = now.Add(30 * time.Minute)
	require.NoError(t, s.Save(ctx, "new", sampleState()))
	assert.Equal(t, 0, s.sweep())

	now = now.Add(45 * time.Minute)
	assert.Equal(t, 1, s.sweep())
	assert.Equal(t, 1, s.Len())
	_, err := s.Load(ctx, "new")
	assert.NoError(t, err)
}

func TestMemoryStoreCloseTwice(t *testing.T) {
	s := NewMemoryStore()
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	s := NewRedisStore(client, WithPrefix("test"))
	defer s.Close()

	_, err := s.Load(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, s.Save(ctx, "p1", sampleState()))
	assert.Contains(t, mr.Keys(), "test:p1")
	assert.Equal(t, DefaultTTL, mr.TTL("test:p1"))

	got, err := s.Load(ctx, "p1")
	require.NoError(t, err)
	assertSameState(t, sampleState(), got)

	require.NoError(t, s.Delete(ctx, "p1"))
	_, err = s.Load(ctx, "p1")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRedisStoreExpiry(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	s := NewRedisStore(client, WithTTL(2*time.Second))

	require.NoError(t, s.Save(ctx, "p1", sampleState()))
	mr.FastForward(3 * time.Second)
	_, err := s.Load(ctx, "p1")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRedisStoreNoPrefix(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	s := NewRedisStore(client, WithPrefix(""))

	require.NoError(t, s.Save(ctx, "p1", sampleState()))
	assert.Contains(t, mr.Keys(), "p1")
}

func TestRedisStoreCorruptValue(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	s := NewRedisStore(client)

	require.NoError(t, mr.Set(DefaultPrefix+":p1", "not msgpack"))
	_, err := s.Load(ctx, "p1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "decode session p1")
}

func TestRedisStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	s := NewRedisStore(client, WithQueryTimeout(100*time.Millisecond))
	mr.Close()

	_, err := s.Load(ctx, "p1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Error(t, s.Save(ctx, "p1", sampleState()))
}
