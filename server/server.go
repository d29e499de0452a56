package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/agentuity/escaperoom/cache"
	"github.com/agentuity/escaperoom/game"
	"github.com/agentuity/escaperoom/logger"
	"github.com/agentuity/escaperoom/session"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultCookieName = "escaperoom_session"
	// MaxUploadSize caps the image accepted by /start-custom.
	MaxUploadSize = 10 << 20
	maxJSONBody   = 64 << 10
	shutdownGrace = 15 * time.Second
)

// Server serves the escape room JSON API.
type Server struct {
	server     *http.Server
	mux        *http.ServeMux
	engine     *game.Engine
	cache      cache.PuzzleCache
	store      session.Store
	logger     logger.Logger
	group      singleflight.Group
	cookieName string
	debug      bool
	closeOnce  sync.Once
}

type Option func(*Server)

// WithDebug enables the /cache-status endpoint.
func WithDebug(debug bool) Option {
	return func(s *Server) {
		s.debug = debug
	}
}

func WithCookieName(name string) Option {
	return func(s *Server) {
		s.cookieName = name
	}
}

func WithLogger(log logger.Logger) Option {
	return func(s *Server) {
		s.logger = log
	}
}

// New returns a Server listening on addr once Start is called.
func New(addr string, engine *game.Engine, puzzles cache.PuzzleCache, store session.Store, opts ...Option) *Server {
	s := &Server{
		mux:        http.NewServeMux(),
		engine:     engine,
		cache:      puzzles,
		store:      store,
		logger:     logger.NewConsoleLogger(),
		cookieName: DefaultCookieName,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithPrefix("[server]")

	s.mux.HandleFunc("GET /themes", s.handleThemes)
	s.mux.HandleFunc("POST /start", s.handleStart)
	s.mux.HandleFunc("POST /start-custom", s.handleStartCustom)
	s.mux.HandleFunc("GET /room", s.handleRoom)
	s.mux.HandleFunc("POST /answer", s.handleAnswer)
	s.mux.HandleFunc("POST /hint", s.handleHint)
	s.mux.HandleFunc("POST /reveal", s.handleReveal)
	s.mux.HandleFunc("POST /skip", s.handleSkip)
	s.mux.HandleFunc("POST /next-puzzle", s.handleNextPuzzle)
	s.mux.HandleFunc("POST /time-check", s.handleTimeCheck)
	s.mux.HandleFunc("GET /result", s.handleResult)
	s.mux.HandleFunc("POST /leave", s.handleLeave)
	s.mux.HandleFunc("GET /cache-status", s.handleCacheStatus)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routes wrapped in request logging.
func (s *Server) Handler() http.Handler {
	return logRequests(s.logger, s.mux)
}

// Start serves in the background until ctx is cancelled or Close is called.
// errs receives a listen failure, if any.
func (s *Server) Start(ctx context.Context, errs chan<- error) {
	go func() {
		s.logger.Info("listening on %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if errs != nil {
				errs <- err
			}
		}
	}()
	go func() {
		<-ctx.Done()
		s.Close()
	}()
}

// Close gracefully shuts down the HTTP server. The cache and session store
// belong to the caller.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		err = s.server.Shutdown(ctx)
	})
	return err
}

// sessionID returns the caller's session id, issuing a new cookie when the
// request has none or an invalid one.
func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(s.cookieName); err == nil {
		if id, err := uuid.Parse(c.Value); err == nil {
			return id.String()
		}
	}
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    id.String(),
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return id.String()
}

// existingSessionID returns the session id without issuing a cookie.
func (s *Server) existingSessionID(r *http.Request) (string, bool) {
	c, err := r.Cookie(s.cookieName)
	if err != nil {
		return "", false
	}
	id, err := uuid.Parse(c.Value)
	if err != nil {
		return "", false
	}
	return id.String(), true
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func logRequests(log logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debug("%s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(started))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error    string `json:"error"`
	Redirect string `json:"redirect,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
