package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/agentuity/escaperoom/game"
	"github.com/agentuity/escaperoom/prompt"
	"github.com/agentuity/escaperoom/session"
	"github.com/cockroachdb/errors"
)

const (
	roomPath   = "/room"
	resultPath = "/result"
	lobbyPath  = "/"

	msgNoGame = "No active game"
	msgBusy   = "AI is busy, please try again in a moment."
)

// PuzzleView is the puzzle section returned whenever the player lands on a
// new puzzle.
type PuzzleView struct {
	Puzzle           *game.PublicPuzzle `json:"puzzle"`
	PuzzleNumber     int                `json:"puzzle_number"`
	RemainingSeconds int                `json:"remaining_seconds"`
	NarrativeLog     []string           `json:"narrative_log"`
}

type startRequest struct {
	Theme      string `json:"theme"`
	Difficulty *int   `json:"difficulty"`
}

type startResponse struct {
	Success  bool   `json:"success"`
	Redirect string `json:"redirect"`
}

type timeUpResponse struct {
	TimeUp   bool   `json:"time_up"`
	Redirect string `json:"redirect"`
}

type roomResponse struct {
	Theme            prompt.Theme       `json:"theme"`
	Puzzle           *game.PublicPuzzle `json:"puzzle"`
	PuzzleNumber     int                `json:"puzzle_number"`
	TotalPuzzles     int                `json:"total_puzzles"`
	Score            int                `json:"score"`
	RemainingSeconds int                `json:"remaining_seconds"`
	RoomTime         int                `json:"room_time"`
	NarrativeLog     []string           `json:"narrative_log"`
	NeedsRetry       bool               `json:"needs_retry,omitempty"`
}

type answerResponse struct {
	game.AnswerResult
	*PuzzleView
	Redirect   string `json:"redirect,omitempty"`
	NeedsRetry bool   `json:"needs_retry,omitempty"`
}

type hintResponse struct {
	game.HintResult
	RemainingSeconds int `json:"remaining_seconds"`
}

type skipResponse struct {
	game.SkipResult
	*PuzzleView
	Redirect        string `json:"redirect,omitempty"`
	ErrorGenerating bool   `json:"error_generating,omitempty"`
}

type nextPuzzleResponse struct {
	Success bool `json:"success"`
	*PuzzleView
	NeedsRetry bool `json:"needs_retry,omitempty"`
}

type timeCheckResponse struct {
	Active           bool   `json:"active"`
	TimeUp           bool   `json:"time_up,omitempty"`
	RemainingSeconds int    `json:"remaining_seconds,omitempty"`
	Redirect         string `json:"redirect,omitempty"`
}

type resultResponse struct {
	Breakdown game.Breakdown `json:"breakdown"`
	Theme     prompt.Theme   `json:"theme"`
}

func (s *Server) remaining(state *game.State) int {
	return int(state.Remaining(s.engine.Now()).Seconds())
}

func (s *Server) view(state *game.State) *PuzzleView {
	v := &PuzzleView{
		PuzzleNumber:     state.CurrentPuzzleIndex + 1,
		RemainingSeconds: s.remaining(state),
		NarrativeLog:     state.NarrativeLog,
	}
	if p, ok := state.CurrentPuzzle(); ok {
		pub := p.Public()
		v.Puzzle = &pub
	}
	if v.NarrativeLog == nil {
		v.NarrativeLog = []string{}
	}
	return v
}

// loadState returns the session's game, or nil when there is none.
func (s *Server) loadState(ctx context.Context, id string) (*game.State, error) {
	state, err := s.store.Load(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		return nil, nil
	}
	return state, err
}

// playing loads the session's game and writes the error response when it is
// not in progress. A game whose time ran out is moved to defeat.
func (s *Server) playing(w http.ResponseWriter, r *http.Request) (string, *game.State, bool) {
	id := s.sessionID(w, r)
	state, err := s.loadState(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to load session %s: %s", id, err)
		writeError(w, http.StatusInternalServerError, "Failed to load game")
		return "", nil, false
	}
	if state == nil || state.Status != game.StatusPlaying {
		writeError(w, http.StatusBadRequest, msgNoGame)
		return "", nil, false
	}
	if state.IsTimeUp(s.engine.Now()) {
		state.Status = game.StatusDefeat
		if !s.save(w, r, id, state) {
			return "", nil, false
		}
		writeJSON(w, http.StatusOK, timeUpResponse{TimeUp: true, Redirect: resultPath})
		return "", nil, false
	}
	return id, state, true
}

func (s *Server) save(w http.ResponseWriter, r *http.Request, id string, state *game.State) bool {
	if err := s.store.Save(r.Context(), id, state); err != nil {
		s.logger.Error("failed to save session %s: %s", id, err)
		writeError(w, http.StatusInternalServerError, "Failed to save game")
		return false
	}
	return true
}

// advance fills the current slot, from the cache when the puzzle was
// pre-generated and otherwise by generating it now. Concurrent requests for
// the same slot share one generation.
func (s *Server) advance(ctx context.Context, id string, state *game.State) error {
	if state.HasCurrentPuzzle() {
		return nil
	}
	slot := state.CurrentPuzzleIndex
	if ok, payload := s.cache.Get(id, slot); ok {
		s.logger.Debug("cache hit for puzzle %d of session %s", slot+1, id)
		puzzle := payload.Puzzle
		if payload.NarrativeText != "" {
			puzzle.NarrativeText = payload.NarrativeText
		}
		s.engine.ActivatePuzzle(state, puzzle)
		return nil
	}
	s.logger.Debug("cache miss for puzzle %d of session %s, generating on demand", slot+1, id)
	snapshot := state.Clone()
	// keyed by game so a restarted game never joins the previous one's flight
	key := id + ":" + state.GameID + ":" + strconv.Itoa(slot)
	v, err, shared := s.group.Do(key, func() (interface{}, error) {
		// detached so a retry from the same player can join a generation
		// whose original request went away
		next, err := s.engine.GeneratePuzzle(context.WithoutCancel(ctx), snapshot)
		if err != nil {
			return nil, err
		}
		return next.Puzzles[len(next.Puzzles)-1], nil
	})
	if err != nil {
		return err
	}
	if shared {
		s.logger.Debug("joined in-flight generation of puzzle %d for session %s", slot+1, id)
	}
	s.engine.ActivatePuzzle(state, v.(game.Puzzle).Clone())
	return nil
}

func (s *Server) handleThemes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]prompt.Theme{"themes": prompt.Themes()})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if _, ok := prompt.LookupTheme(req.Theme); !ok || req.Theme == prompt.CustomThemeID {
		writeError(w, http.StatusBadRequest, "Invalid theme")
		return
	}
	difficulty := 2
	if req.Difficulty != nil {
		difficulty = *req.Difficulty
	}

	id := s.sessionID(w, r)
	s.cache.Invalidate(id)
	state := s.engine.StartGame(req.Theme, difficulty)
	state, err := s.engine.GeneratePuzzle(r.Context(), state)
	if err != nil {
		s.logger.Error("failed to start game for session %s: %s", id, err)
		writeError(w, http.StatusServiceUnavailable, msgBusy)
		return
	}
	if !s.save(w, r, id, state) {
		return
	}
	s.cache.StartPrecaching(id, state)
	writeJSON(w, http.StatusOK, startResponse{Success: true, Redirect: roomPath})
}

func (s *Server) handleStartCustom(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize+(1<<20))
	if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Image is too large")
			return
		}
		writeError(w, http.StatusBadRequest, "No image uploaded")
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No image uploaded")
		return
	}
	defer file.Close()
	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, "No file selected")
		return
	}
	if header.Size > MaxUploadSize {
		writeError(w, http.StatusRequestEntityTooLarge, "Image is too large")
		return
	}
	image, err := io.ReadAll(file)
	if err != nil || len(image) == 0 {
		writeError(w, http.StatusBadRequest, "Could not read image")
		return
	}

	id := s.sessionID(w, r)
	s.cache.Invalidate(id)
	state := s.engine.StartGame(prompt.CustomThemeID, 2)
	state, err = s.engine.GenerateImagePuzzle(r.Context(), state, image)
	if err != nil {
		s.logger.Error("failed to start custom game for session %s: %s", id, err)
		writeError(w, http.StatusServiceUnavailable, msgBusy)
		return
	}
	if !s.save(w, r, id, state) {
		return
	}
	s.cache.StartPrecaching(id, state)
	writeJSON(w, http.StatusOK, startResponse{Success: true, Redirect: roomPath})
}

func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(w, r)
	state, err := s.loadState(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to load session %s: %s", id, err)
		writeError(w, http.StatusInternalServerError, "Failed to load game")
		return
	}
	if state == nil || state.Status == game.StatusLobby {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: msgNoGame, Redirect: lobbyPath})
		return
	}
	if state.Status == game.StatusVictory || state.Status == game.StatusDefeat {
		writeJSON(w, http.StatusOK, map[string]string{"redirect": resultPath})
		return
	}
	theme, _ := prompt.LookupTheme(state.Theme)
	v := s.view(state)
	writeJSON(w, http.StatusOK, roomResponse{
		Theme:            theme,
		Puzzle:           v.Puzzle,
		PuzzleNumber:     v.PuzzleNumber,
		TotalPuzzles:     game.TotalPuzzles,
		Score:            state.Score,
		RemainingSeconds: v.RemainingSeconds,
		RoomTime:         int(game.RoomTime.Seconds()),
		NarrativeLog:     v.NarrativeLog,
		NeedsRetry:       v.Puzzle == nil,
	})
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	id, state, ok := s.playing(w, r)
	if !ok {
		return
	}
	if state.RevealedPuzzle == state.CurrentPuzzleIndex {
		writeError(w, http.StatusBadRequest, "You already revealed the answer for this puzzle. Use Skip to move on.")
		return
	}
	var req struct {
		Answer string `json:"answer"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	answer := sanitizeInput(req.Answer, MaxAnswerLength)
	if answer == "" {
		writeError(w, http.StatusBadRequest, "Please enter an answer")
		return
	}

	state, result, err := s.engine.CheckAnswer(r.Context(), state, answer)
	if errors.Is(err, game.ErrNoActivePuzzle) {
		writeJSON(w, http.StatusConflict, answerResponse{NeedsRetry: true})
		return
	}
	if err != nil {
		s.logger.Error("answer validation failed for session %s: %s", id, err)
		writeJSON(w, http.StatusOK, answerResponse{AnswerResult: game.AnswerResult{Feedback: "AI is momentarily busy. Try submitting again."}})
		return
	}
	resp := answerResponse{AnswerResult: result}
	switch {
	case result.GameComplete, result.TimeUp:
		resp.Redirect = resultPath
	case result.NextPuzzle:
		if err := s.advance(r.Context(), id, state); err != nil {
			s.logger.Error("puzzle generation failed for session %s: %s", id, err)
			resp.NeedsRetry = true
		} else {
			resp.PuzzleView = s.view(state)
		}
	}
	if !s.save(w, r, id, state) {
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHint(w http.ResponseWriter, r *http.Request) {
	id, state, ok := s.playing(w, r)
	if !ok {
		return
	}
	state, result, err := s.engine.GetHint(r.Context(), state)
	if errors.Is(err, game.ErrNoActivePuzzle) {
		writeError(w, http.StatusBadRequest, "No active puzzle")
		return
	}
	if err != nil {
		s.logger.Error("hint generation failed for session %s: %s", id, err)
		writeError(w, http.StatusServiceUnavailable, msgBusy)
		return
	}
	if !s.save(w, r, id, state) {
		return
	}
	writeJSON(w, http.StatusOK, hintResponse{HintResult: result, RemainingSeconds: s.remaining(state)})
}

func (s *Server) handleReveal(w http.ResponseWriter, r *http.Request) {
	id, state, ok := s.playing(w, r)
	if !ok {
		return
	}
	puzzle, ok := state.CurrentPuzzle()
	if !ok {
		writeError(w, http.StatusBadRequest, "No active puzzle")
		return
	}
	state.RevealedPuzzle = state.CurrentPuzzleIndex
	if !s.save(w, r, id, state) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"answer": puzzle.Answer})
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	id, state, ok := s.playing(w, r)
	if !ok {
		return
	}
	state, result, err := s.engine.SkipPuzzle(state)
	if err != nil {
		writeError(w, http.StatusBadRequest, "No active puzzle")
		return
	}
	resp := skipResponse{SkipResult: result}
	switch {
	case result.GameComplete:
		resp.Redirect = resultPath
	case result.NextPuzzle:
		if err := s.advance(r.Context(), id, state); err != nil {
			s.logger.Error("puzzle generation after skip failed for session %s: %s", id, err)
			resp.ErrorGenerating = true
		} else {
			resp.PuzzleView = s.view(state)
		}
	}
	if !s.save(w, r, id, state) {
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleNextPuzzle(w http.ResponseWriter, r *http.Request) {
	id, state, ok := s.playing(w, r)
	if !ok {
		return
	}
	if err := s.advance(r.Context(), id, state); err != nil {
		s.logger.Error("retry puzzle generation failed for session %s: %s", id, err)
		writeJSON(w, http.StatusOK, nextPuzzleResponse{NeedsRetry: true})
		return
	}
	if !s.save(w, r, id, state) {
		return
	}
	writeJSON(w, http.StatusOK, nextPuzzleResponse{Success: true, PuzzleView: s.view(state)})
}

func (s *Server) handleTimeCheck(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(w, r)
	state, err := s.loadState(r.Context(), id)
	if err != nil || state == nil || state.Status != game.StatusPlaying {
		writeJSON(w, http.StatusOK, timeCheckResponse{Active: false})
		return
	}
	if state.IsTimeUp(s.engine.Now()) {
		state.Status = game.StatusDefeat
		if !s.save(w, r, id, state) {
			return
		}
		writeJSON(w, http.StatusOK, timeCheckResponse{Active: false, TimeUp: true, Redirect: resultPath})
		return
	}
	writeJSON(w, http.StatusOK, timeCheckResponse{Active: true, RemainingSeconds: s.remaining(state)})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(w, r)
	state, err := s.loadState(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to load session %s: %s", id, err)
		writeError(w, http.StatusInternalServerError, "Failed to load game")
		return
	}
	if state == nil || (state.Status != game.StatusVictory && state.Status != game.StatusDefeat) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "No finished game", Redirect: lobbyPath})
		return
	}
	theme, _ := prompt.LookupTheme(state.Theme)
	writeJSON(w, http.StatusOK, resultResponse{Breakdown: s.engine.ScoreBreakdown(state), Theme: theme})
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	if id, ok := s.existingSessionID(r); ok {
		s.cache.Invalidate(id)
		if err := s.store.Delete(r.Context(), id); err != nil {
			s.logger.Error("failed to delete session %s: %s", id, err)
			writeError(w, http.StatusInternalServerError, "Failed to leave game")
			return
		}
	}
	writeJSON(w, http.StatusOK, startResponse{Success: true, Redirect: lobbyPath})
}

func (s *Server) handleCacheStatus(w http.ResponseWriter, r *http.Request) {
	if !s.debug {
		writeError(w, http.StatusNotFound, "Not available")
		return
	}
	id, ok := s.existingSessionID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "No session")
		return
	}
	writeJSON(w, http.StatusOK, s.cache.Status(id))
}
