package game

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/agentuity/escaperoom/logger"
	"github.com/agentuity/escaperoom/prompt"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

var (
	// ErrNoActivePuzzle is returned when the current slot has no puzzle.
	ErrNoActivePuzzle = errors.New("no active puzzle")
	// ErrIncompletePuzzle is returned when the model answered without a question
	// or a usable answer.
	ErrIncompletePuzzle = errors.New("generated puzzle is incomplete")
)

// AI is the language model surface the engine needs.
type AI interface {
	// GenerateJSON runs a creative completion and decodes its JSON body into out.
	GenerateJSON(ctx context.Context, system, user string, out any) error
	// ValidateAnswer runs a low temperature completion on the fast model.
	ValidateAnswer(ctx context.Context, system, user string, out any) error
	// AnalyzeImage runs a completion on the vision model with image attached.
	AnalyzeImage(ctx context.Context, system, user string, image []byte, out any) error
}

// Engine implements the escape room rules on top of an AI.
type Engine struct {
	ai     AI
	now    func() time.Time
	intn   func(n int) int
	logger logger.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithRandom replaces the source used to place the easter egg puzzle.
func WithRandom(intn func(n int) int) EngineOption {
	return func(e *Engine) { e.intn = intn }
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) EngineOption {
	return func(e *Engine) { e.logger = log }
}

// NewEngine returns an Engine backed by ai.
func NewEngine(ai AI, opts ...EngineOption) *Engine {
	e := &Engine{
		ai:     ai,
		now:    time.Now,
		intn:   rand.IntN,
		logger: logger.NewConsoleLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithPrefix("[game]")
	return e
}

// Now returns the engine's clock reading.
func (e *Engine) Now() time.Time {
	return e.now()
}

// StartGame initializes a new game session.
func (e *Engine) StartGame(theme string, difficulty int) *State {
	return &State{
		GameID:          uuid.NewString(),
		Theme:           theme,
		Status:          StatusPlaying,
		StartTime:       e.now(),
		DifficultyLevel: clampDifficulty(difficulty),
		// never the first puzzle
		EasterEggPuzzle: 1 + e.intn(TotalPuzzles-1),
		RevealedPuzzle:  -1,
	}
}

func clampDifficulty(d int) int {
	return max(1, min(5, d))
}

// flexInt accepts both 3 and "3"; models are not consistent about it.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		fl, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return nil
		}
		n = int(fl)
	}
	*f = flexInt(n)
	return nil
}

type generatedPuzzle struct {
	Question      string   `json:"question"`
	Type          string   `json:"type"`
	Answer        string   `json:"answer"`
	Hints         []string `json:"hints"`
	NarrativeText string   `json:"narrative_text"`
	Difficulty    flexInt  `json:"difficulty"`
}

func (g generatedPuzzle) toPuzzle(defaultType string, defaultDifficulty int, now time.Time) (Puzzle, error) {
	p := Puzzle{
		Question:      strings.TrimSpace(g.Question),
		Type:          g.Type,
		Answer:        strings.ToLower(strings.TrimSpace(g.Answer)),
		Hints:         g.Hints,
		NarrativeText: g.NarrativeText,
		Difficulty:    int(g.Difficulty),
		StartedAt:     now,
	}
	// an answer with nothing comparable left would match any guess
	if p.Question == "" || Normalize(p.Answer) == "" {
		return Puzzle{}, ErrIncompletePuzzle
	}
	if p.Type == "" {
		p.Type = defaultType
	}
	if p.Difficulty == 0 {
		p.Difficulty = defaultDifficulty
	}
	if p.Hints == nil {
		p.Hints = []string{}
	}
	return p, nil
}

// GeneratePuzzle asks the AI for the puzzle at state.CurrentPuzzleIndex and
// appends it to state. state is only modified when generation succeeds.
func (e *Engine) GeneratePuzzle(ctx context.Context, state *State) (*State, error) {
	previous := make([]prompt.PreviousPuzzle, 0, len(state.Puzzles))
	for _, p := range state.Puzzles {
		previous = append(previous, prompt.PreviousPuzzle{Type: p.Type, Answer: p.Answer})
	}
	isEgg := state.CurrentPuzzleIndex == state.EasterEggPuzzle
	user, err := prompt.PuzzleGeneration(prompt.PuzzleRequest{
		ThemeID:    state.Theme,
		Number:     state.CurrentPuzzleIndex + 1,
		Total:      TotalPuzzles,
		Difficulty: state.DifficultyLevel,
		Previous:   previous,
		Narrative:  strings.Join(state.NarrativeLog, " "),
		EasterEgg:  isEgg,
	})
	if err != nil {
		return nil, err
	}
	var result generatedPuzzle
	if err := e.ai.GenerateJSON(ctx, prompt.PuzzleGenerationSystem, user, &result); err != nil {
		return nil, errors.Wrapf(err, "generate puzzle %d", state.CurrentPuzzleIndex+1)
	}
	puzzle, err := result.toPuzzle("riddle", state.DifficultyLevel, e.now())
	if err != nil {
		return nil, errors.Wrapf(err, "generate puzzle %d", state.CurrentPuzzleIndex+1)
	}
	puzzle.IsEasterEgg = isEgg
	state.ApplyPuzzle(puzzle)
	return state, nil
}

// ActivatePuzzle appends a pre-generated puzzle and restarts its solve clock.
func (e *Engine) ActivatePuzzle(state *State, p Puzzle) {
	p.StartedAt = e.now()
	state.ApplyPuzzle(p)
}

// GenerateImagePuzzle builds the current puzzle from an uploaded image.
func (e *Engine) GenerateImagePuzzle(ctx context.Context, state *State, image []byte) (*State, error) {
	user, err := prompt.ImageAnalysis(state.Theme, state.CurrentPuzzleIndex+1, TotalPuzzles)
	if err != nil {
		return nil, err
	}
	var result generatedPuzzle
	if err := e.ai.AnalyzeImage(ctx, prompt.ImageAnalysisSystem, user, image, &result); err != nil {
		return nil, errors.Wrap(err, "analyze image")
	}
	puzzle, err := result.toPuzzle("visual", state.DifficultyLevel, e.now())
	if err != nil {
		return nil, errors.Wrap(err, "analyze image")
	}
	puzzle.Type = "visual"
	if state.CurrentPuzzleIndex < len(state.Puzzles) {
		state.Puzzles[state.CurrentPuzzleIndex] = puzzle
		if puzzle.NarrativeText != "" {
			state.NarrativeLog = append(state.NarrativeLog, puzzle.NarrativeText)
		}
	} else {
		state.ApplyPuzzle(puzzle)
	}
	return state, nil
}

// AnswerResult is the outcome of CheckAnswer.
type AnswerResult struct {
	Correct      bool   `json:"correct"`
	Feedback     string `json:"feedback"`
	Score        int    `json:"score,omitempty"`
	TotalScore   int    `json:"total_score,omitempty"`
	NextPuzzle   bool   `json:"next_puzzle,omitempty"`
	GameComplete bool   `json:"game_complete,omitempty"`
	IsEasterEgg  bool   `json:"is_easter_egg,omitempty"`
	TimeUp       bool   `json:"time_up,omitempty"`
}

type validation struct {
	Correct  bool   `json:"correct"`
	Feedback string `json:"feedback"`
}

// CheckAnswer validates the player's answer, scores it and advances the game.
func (e *Engine) CheckAnswer(ctx context.Context, state *State, answer string) (*State, AnswerResult, error) {
	puzzle, ok := state.CurrentPuzzle()
	if !ok {
		return state, AnswerResult{}, ErrNoActivePuzzle
	}
	now := e.now()
	if state.IsTimeUp(now) {
		state.Status = StatusDefeat
		return state, AnswerResult{Feedback: "Time's up!", TimeUp: true}, nil
	}
	puzzle.Attempts++

	var correct bool
	var feedback string
	switch LocalMatch(puzzle.Answer, answer) {
	case Match:
		correct, feedback = true, "Correct! Well done!"
	case NoMatch:
		correct, feedback = false, "Not quite. Try again!"
	default:
		correct, feedback = e.validate(ctx, puzzle, answer)
	}

	if !correct {
		state.UpdateCurrentPuzzle(puzzle)
		return state, AnswerResult{Correct: false, Feedback: feedback}, nil
	}

	puzzle.Solved = true
	puzzle.SolveTime = now.Sub(puzzle.StartedAt).Seconds()
	state.UpdateCurrentPuzzle(puzzle)
	state.SolvedCount++

	score := puzzleScore(puzzle)
	state.Score += score
	adjustDifficulty(state, puzzle)

	result := AnswerResult{
		Correct:     true,
		Feedback:    feedback,
		Score:       score,
		IsEasterEgg: puzzle.IsEasterEgg,
	}
	if state.CurrentPuzzleIndex+1 >= TotalPuzzles {
		state.Status = StatusVictory
		result.GameComplete = true
		result.TotalScore = state.Score
		return state, result, nil
	}
	state.CurrentPuzzleIndex++
	result.NextPuzzle = true
	return state, result, nil
}

func (e *Engine) validate(ctx context.Context, puzzle Puzzle, answer string) (bool, string) {
	user, err := prompt.AnswerValidation(puzzle.Question, puzzle.Answer, answer)
	if err == nil {
		var v validation
		if err = e.ai.ValidateAnswer(ctx, prompt.AnswerValidationSystem, user, &v); err == nil {
			return v.Correct, v.Feedback
		}
	}
	e.logger.Warn("answer validation failed, using local fallback: %s", err)
	if FallbackMatch(puzzle.Answer, answer) {
		return true, "Correct!"
	}
	return false, "Not quite. Try again!"
}

func puzzleScore(p Puzzle) int {
	timeBonus := max(0, 500-int(p.SolveTime*2))
	score := max(100, 1000+timeBonus-p.HintsUsed*200-(p.Attempts-1)*100)
	if p.IsEasterEgg {
		score *= 2
	}
	return score
}

func adjustDifficulty(state *State, p Puzzle) {
	switch {
	case p.SolveTime < 30 && p.HintsUsed == 0:
		state.DifficultyLevel = min(5, state.DifficultyLevel+1)
	case p.SolveTime > 180 || p.HintsUsed >= 2:
		state.DifficultyLevel = max(1, state.DifficultyLevel-1)
	}
}

// HintResult is the outcome of GetHint.
type HintResult struct {
	Hint          string  `json:"hint"`
	Encouragement string  `json:"encouragement"`
	HintsUsed     int     `json:"hints_used"`
	TimePenalty   float64 `json:"time_penalty"` // seconds
}

type generatedHint struct {
	Hint          string `json:"hint"`
	Encouragement string `json:"encouragement"`
}

// GetHint returns the next pre-generated hint, or asks the AI for one, and
// charges the time penalty.
func (e *Engine) GetHint(ctx context.Context, state *State) (*State, HintResult, error) {
	puzzle, ok := state.CurrentPuzzle()
	if !ok {
		return state, HintResult{}, ErrNoActivePuzzle
	}
	var text, encouragement string
	if puzzle.HintsUsed < len(puzzle.Hints) {
		text = puzzle.Hints[puzzle.HintsUsed]
		encouragement = "You've got this! Keep thinking..."
	} else {
		user, err := prompt.Hint(state.Theme, puzzle.Question, puzzle.Answer, puzzle.HintsUsed)
		if err != nil {
			return state, HintResult{}, err
		}
		var h generatedHint
		if err := e.ai.GenerateJSON(ctx, prompt.HintSystem, user, &h); err != nil {
			return state, HintResult{}, errors.Wrap(err, "generate hint")
		}
		text = defaultString(h.Hint, "Think about it from a different angle.")
		encouragement = defaultString(h.Encouragement, "Don't give up!")
	}
	puzzle.HintsUsed++
	state.UpdateCurrentPuzzle(puzzle)
	state.TotalHintsUsed++
	state.TimePenalties += HintPenalty
	return state, HintResult{
		Hint:          text,
		Encouragement: encouragement,
		HintsUsed:     puzzle.HintsUsed,
		TimePenalty:   HintPenalty.Seconds(),
	}, nil
}

func defaultString(val, def string) string {
	if strings.TrimSpace(val) == "" {
		return def
	}
	return val
}

// SkipResult is the outcome of SkipPuzzle.
type SkipResult struct {
	Skipped      bool   `json:"skipped"`
	Answer       string `json:"answer"`
	NextPuzzle   bool   `json:"next_puzzle,omitempty"`
	GameComplete bool   `json:"game_complete,omitempty"`
	TotalScore   int    `json:"total_score,omitempty"`
}

// SkipPuzzle gives up on the current puzzle for zero points and reveals its answer.
func (e *Engine) SkipPuzzle(state *State) (*State, SkipResult, error) {
	puzzle, ok := state.CurrentPuzzle()
	if !ok {
		return state, SkipResult{}, ErrNoActivePuzzle
	}
	puzzle.Solved = false
	puzzle.SolveTime = 0
	state.UpdateCurrentPuzzle(puzzle)

	result := SkipResult{Skipped: true, Answer: puzzle.Answer}
	if state.CurrentPuzzleIndex+1 >= TotalPuzzles {
		state.Status = StatusVictory
		result.GameComplete = true
		result.TotalScore = state.Score
		return state, result, nil
	}
	state.CurrentPuzzleIndex++
	result.NextPuzzle = true
	return state, result, nil
}

// PuzzleDetail is one row of the result screen.
type PuzzleDetail struct {
	Number    int      `json:"number"`
	Type      string   `json:"type"`
	Solved    bool     `json:"solved"`
	Attempts  int      `json:"attempts"`
	HintsUsed int      `json:"hints_used"`
	SolveTime *float64 `json:"solve_time"`
}

// Breakdown summarises a finished game.
type Breakdown struct {
	TotalScore    int            `json:"total_score"`
	PuzzlesSolved int            `json:"puzzles_solved"`
	TotalPuzzles  int            `json:"total_puzzles"`
	TotalTime     float64        `json:"total_time"`
	TotalHints    int            `json:"total_hints"`
	TimePenalties float64        `json:"time_penalties"`
	Victory       bool           `json:"victory"`
	PuzzleDetails []PuzzleDetail `json:"puzzle_details"`
	Theme         string         `json:"theme"`
}

// ScoreBreakdown returns the detailed score for the result screen.
func (e *Engine) ScoreBreakdown(state *State) Breakdown {
	details := make([]PuzzleDetail, 0, len(state.Puzzles))
	for i, p := range state.Puzzles {
		d := PuzzleDetail{
			Number:    i + 1,
			Type:      p.Type,
			Solved:    p.Solved,
			Attempts:  p.Attempts,
			HintsUsed: p.HintsUsed,
		}
		if p.Solved {
			t := round1(p.SolveTime)
			d.SolveTime = &t
		}
		details = append(details, d)
	}
	return Breakdown{
		TotalScore:    state.Score,
		PuzzlesSolved: state.SolvedCount,
		TotalPuzzles:  TotalPuzzles,
		TotalTime:     round1(state.Elapsed(e.now()).Seconds()),
		TotalHints:    state.TotalHintsUsed,
		TimePenalties: state.TimePenalties.Seconds(),
		Victory:       state.Status == StatusVictory,
		PuzzleDetails: details,
		Theme:         state.Theme,
	}
}

func round1(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}

var _ json.Unmarshaler = (*flexInt)(nil)
