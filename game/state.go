package game

import (
	"slices"
	"time"
)

const (
	// TotalPuzzles is the number of puzzles in one room.
	TotalPuzzles = 5
	// RoomTime is how long the player has to escape.
	RoomTime = 15 * time.Minute
	// HintPenalty is deducted from the remaining time for every hint.
	HintPenalty = time.Minute
)

// Status is the lifecycle state of a game.
type Status string

const (
	StatusLobby   Status = "lobby"
	StatusPlaying Status = "playing"
	StatusVictory Status = "victory"
	StatusDefeat  Status = "defeat"
)

// Puzzle is one generated puzzle and the player's progress on it.
type Puzzle struct {
	Question      string    `json:"question" msgpack:"question"`
	Type          string    `json:"puzzle_type" msgpack:"puzzle_type"`
	Answer        string    `json:"answer" msgpack:"answer"`
	Hints         []string  `json:"hints" msgpack:"hints"`
	NarrativeText string    `json:"narrative_text" msgpack:"narrative_text"`
	Difficulty    int       `json:"difficulty" msgpack:"difficulty"`
	HintsUsed     int       `json:"hints_used" msgpack:"hints_used"`
	Attempts      int       `json:"attempts" msgpack:"attempts"`
	Solved        bool      `json:"solved" msgpack:"solved"`
	SolveTime     float64   `json:"solve_time" msgpack:"solve_time"` // seconds
	StartedAt     time.Time `json:"started_at" msgpack:"started_at"`
	IsEasterEgg   bool      `json:"is_easter_egg" msgpack:"is_easter_egg"`
}

// Clone returns a deep copy of the puzzle.
func (p Puzzle) Clone() Puzzle {
	p.Hints = slices.Clone(p.Hints)
	return p
}

// PublicPuzzle is the view of a puzzle that is safe to send to the player.
type PublicPuzzle struct {
	Question      string `json:"question"`
	Type          string `json:"puzzle_type"`
	NarrativeText string `json:"narrative_text"`
	Difficulty    int    `json:"difficulty"`
	HintsUsed     int    `json:"hints_used"`
	HintsLeft     int    `json:"hints_left"`
	Attempts      int    `json:"attempts"`
	IsEasterEgg   bool   `json:"is_easter_egg"`
}

// Public hides the answer and the pre-generated hints.
func (p Puzzle) Public() PublicPuzzle {
	return PublicPuzzle{
		Question:      p.Question,
		Type:          p.Type,
		NarrativeText: p.NarrativeText,
		Difficulty:    p.Difficulty,
		HintsUsed:     p.HintsUsed,
		HintsLeft:     max(0, len(p.Hints)-p.HintsUsed),
		Attempts:      p.Attempts,
		IsEasterEgg:   p.IsEasterEgg,
	}
}

// State is the full state of one player's game.
type State struct {
	GameID             string        `json:"game_id" msgpack:"game_id"`
	Theme              string        `json:"theme" msgpack:"theme"`
	Status             Status        `json:"status" msgpack:"status"`
	CurrentPuzzleIndex int           `json:"current_puzzle_index" msgpack:"current_puzzle_index"`
	Puzzles            []Puzzle      `json:"puzzles" msgpack:"puzzles"`
	Score              int           `json:"score" msgpack:"score"`
	TotalHintsUsed     int           `json:"total_hints_used" msgpack:"total_hints_used"`
	StartTime          time.Time     `json:"start_time" msgpack:"start_time"`
	TimePenalties      time.Duration `json:"time_penalties" msgpack:"time_penalties"`
	NarrativeLog       []string      `json:"narrative_log" msgpack:"narrative_log"`
	DifficultyLevel    int           `json:"difficulty_level" msgpack:"difficulty_level"`
	SolvedCount        int           `json:"solved_count" msgpack:"solved_count"`
	EasterEggPuzzle    int           `json:"easter_egg_puzzle" msgpack:"easter_egg_puzzle"`
	RevealedPuzzle     int           `json:"revealed_puzzle" msgpack:"revealed_puzzle"` // -1 when nothing was revealed
}

// Clone returns a deep copy that shares no memory with s.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	if s.Puzzles != nil {
		c.Puzzles = make([]Puzzle, len(s.Puzzles))
		for i, p := range s.Puzzles {
			c.Puzzles[i] = p.Clone()
		}
	}
	c.NarrativeLog = slices.Clone(s.NarrativeLog)
	return &c
}

// CurrentPuzzle returns a copy of the puzzle at the current index.
func (s *State) CurrentPuzzle() (Puzzle, bool) {
	if s.CurrentPuzzleIndex >= 0 && s.CurrentPuzzleIndex < len(s.Puzzles) {
		return s.Puzzles[s.CurrentPuzzleIndex].Clone(), true
	}
	return Puzzle{}, false
}

// UpdateCurrentPuzzle stores p at the current index, if that slot exists.
func (s *State) UpdateCurrentPuzzle(p Puzzle) {
	if s.CurrentPuzzleIndex >= 0 && s.CurrentPuzzleIndex < len(s.Puzzles) {
		s.Puzzles[s.CurrentPuzzleIndex] = p
	}
}

// HasCurrentPuzzle reports whether the current slot has been filled.
func (s *State) HasCurrentPuzzle() bool {
	_, ok := s.CurrentPuzzle()
	return ok
}

// ApplyPuzzle appends a generated puzzle and records its narrative.
func (s *State) ApplyPuzzle(p Puzzle) {
	s.Puzzles = append(s.Puzzles, p)
	if p.NarrativeText != "" {
		s.NarrativeLog = append(s.NarrativeLog, p.NarrativeText)
	}
}

// Elapsed returns the time since the game started.
func (s *State) Elapsed(now time.Time) time.Duration {
	if s.StartTime.IsZero() {
		return 0
	}
	return now.Sub(s.StartTime)
}

// Remaining returns the time left including hint penalties, never negative.
func (s *State) Remaining(now time.Time) time.Duration {
	return max(0, RoomTime-s.Elapsed(now)-s.TimePenalties)
}

// IsTimeUp reports whether the room timer has run out.
func (s *State) IsTimeUp(now time.Time) bool {
	return s.Remaining(now) <= 0
}
