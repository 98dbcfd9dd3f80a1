package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/hongminglow/vip-ledger/internal/auth"
	"github.com/hongminglow/vip-ledger/internal/config"
	"github.com/hongminglow/vip-ledger/internal/http/handlers"
	"github.com/hongminglow/vip-ledger/internal/middleware"
	"github.com/hongminglow/vip-ledger/internal/storage"
)

// Deps are the collaborators the HTTP layer routes to.
type Deps struct {
	Finance  handlers.FinanceService
	Accounts storage.AccountStore
	Tokens   *auth.TokenManager
	Limiter  *middleware.RateLimiter
	Logger   *slog.Logger
	Backend  string
}

// Server wraps an http.Server with configured routes.
type Server struct {
	inner *http.Server
}

// New wires up middleware, routes, and returns a ready server.
func New(cfg config.Config, deps Deps) *Server {
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddress(),
		Handler:           NewRouter(cfg, deps),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return &Server{inner: httpServer}
}

// NewRouter builds the route tree. Money-moving and admin routes sit behind
// the bearer-token check and the rate limiter.
func NewRouter(cfg config.Config, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	handlers.NewHealthHandler(time.Now(), deps.Backend).Register(r)
	handlers.NewAuthHandler(deps.Accounts, deps.Tokens, deps.Logger).Register(r)

	finance := handlers.NewFinanceHandler(deps.Finance, cfg.Currency, deps.Logger)
	finance.RegisterPublic(r)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(deps.Tokens))
		r.Use(deps.Limiter.Middleware)
		finance.Register(r)
	})

	return r
}

// Start begins serving HTTP traffic.
func (s *Server) Start() error {
	return s.inner.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}
