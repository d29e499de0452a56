package game

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateClone(t *testing.T) {
	s := &State{
		Theme:        "space",
		Puzzles:      []Puzzle{{Question: "q", Answer: "a", Hints: []string{"h1", "h2"}}},
		NarrativeLog: []string{"once"},
	}
	c := s.Clone()
	c.Puzzles[0].Hints[0] = "changed"
	c.Puzzles[0].Answer = "b"
	c.NarrativeLog[0] = "twice"
	c.Puzzles = append(c.Puzzles, Puzzle{Question: "q2"})

	assert.Equal(t, "h1", s.Puzzles[0].Hints[0])
	assert.Equal(t, "a", s.Puzzles[0].Answer)
	assert.Equal(t, "once", s.NarrativeLog[0])
	assert.Len(t, s.Puzzles, 1)

	var nilState *State
	assert.Nil(t, nilState.Clone())
}

func TestStateCurrentPuzzle(t *testing.T) {
	s := &State{}
	_, ok := s.CurrentPuzzle()
	assert.False(t, ok)
	assert.False(t, s.HasCurrentPuzzle())

	s.ApplyPuzzle(Puzzle{Question: "q", NarrativeText: "story"})
	s.ApplyPuzzle(Puzzle{Question: "q2"})
	assert.Equal(t, []string{"story"}, s.NarrativeLog)

	p, ok := s.CurrentPuzzle()
	require.True(t, ok)
	p.Attempts = 3
	assert.Equal(t, 0, s.Puzzles[0].Attempts)
	s.UpdateCurrentPuzzle(p)
	assert.Equal(t, 3, s.Puzzles[0].Attempts)

	s.CurrentPuzzleIndex = 5
	s.UpdateCurrentPuzzle(Puzzle{Question: "ignored"})
	assert.Len(t, s.Puzzles, 2)
}

func TestStateTimer(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := &State{StartTime: start}
	assert.Equal(t, RoomTime, s.Remaining(start))
	assert.Equal(t, 5*time.Minute, s.Remaining(start.Add(10*time.Minute)))

	s.TimePenalties = 2 * HintPenalty
	assert.Equal(t, 3*time.Minute, s.Remaining(start.Add(10*time.Minute)))
	assert.False(t, s.IsTimeUp(start.Add(10*time.Minute)))
	assert.True(t, s.IsTimeUp(start.Add(13*time.Minute)))
	assert.Equal(t, time.Duration(0), s.Remaining(start.Add(time.Hour)))

	assert.Equal(t, time.Duration(0), (&State{}).Elapsed(start))
}

func TestPuzzlePublic(t *testing.T) {
	p := Puzzle{Question: "q", Answer: "secret", Hints: []string{"a", "b", "c"}, HintsUsed: 1}
	pub := p.Public()
	assert.Equal(t, "q", pub.Question)
	assert.Equal(t, 2, pub.HintsLeft)

	p.HintsUsed = 5
	assert.Equal(t, 0, p.Public().HintsLeft)
}
