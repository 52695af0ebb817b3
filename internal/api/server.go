// Package api exposes the engine over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/viurl/verification-engine/internal/engagement"
	"github.com/viurl/verification-engine/internal/leaderboard"
	"github.com/viurl/verification-engine/internal/ledger"
	"github.com/viurl/verification-engine/internal/store"
	"github.com/viurl/verification-engine/internal/verification"
)

// Options configures the HTTP middleware stack.
type Options struct {
	RequestTimeout time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
	CORSOrigins    []string
}

// Server wires the engine components to HTTP routes.
type Server struct {
	store       store.Store
	ledger      *ledger.Ledger
	workflow    *verification.Workflow
	tracker     *engagement.Tracker
	leaderboard *leaderboard.Aggregator
	validate    *validator.Validate
	now         func() time.Time
	opts        Options
}

// NewServer returns a Server backed by the given components.
func NewServer(st store.Store, l *ledger.Ledger, wf *verification.Workflow, tr *engagement.Tracker, lb *leaderboard.Aggregator, opts Options) *Server {
	return &Server{
		store:       st,
		ledger:      l,
		workflow:    wf,
		tracker:     tr,
		leaderboard: lb,
		validate:    validator.New(),
		now:         time.Now,
		opts:        opts,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if s.opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.opts.RequestTimeout))
	}
	origins := s.opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))
	if s.opts.RateLimitRPS > 0 {
		r.Use(rateLimit(s.opts.RateLimitRPS, s.opts.RateLimitBurst))
	}

	r.Get("/health", s.handleHealth)

	r.Post("/users", s.handleCreateUser)
	r.Get("/users/{userID}/account", s.handleGetAccount)
	r.Get("/users/{userID}/ledger", s.handleLedgerHistory)
	r.Post("/users/{userID}/daily-bonus", s.handleClaimDailyBonus)
	r.Get("/users/{userID}/daily-claims", s.handleClaimHistory)

	r.Post("/posts", s.handleCreatePost)
	r.Post("/posts/{postID}/verdicts", s.handleSubmitVerdict)
	r.Get("/posts/{postID}/verdicts", s.handleListVerdicts)
	r.Get("/posts/{postID}/verification", s.handleVerificationStatus)

	r.Get("/leaderboard", s.handleLeaderboard)

	return r
}
