// Package server assembles the HTTP router and the gRPC health server.
package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	audithandler "session-lifecycle/backend/internal/audit/handler"
	healthhandler "session-lifecycle/backend/internal/health/handler"
	identityhandler "session-lifecycle/backend/internal/identity/handler"
	"session-lifecycle/backend/internal/server/middleware"
	sessionhandler "session-lifecycle/backend/internal/session/handler"
)

// Deps holds the handlers and infrastructure the router mounts.
type Deps struct {
	Auth     *identityhandler.AuthHandler
	Sessions *sessionhandler.SessionHandler
	// Audit serves /api/v1/activity. If nil, the route is not mounted.
	Audit *audithandler.AuditHandler
	// Verifier authenticates access tokens for every /api route.
	Verifier middleware.AccessVerifier
	// Health answers /healthz. If nil, /healthz always reports ok.
	Health *healthhandler.Checker
	// Metrics serves /metrics. If nil, the route is not mounted.
	Metrics http.Handler
	Logger  *slog.Logger
}

// NewRouter returns the HTTP API.
//
//	GET  /healthz, /metrics
//	/api/v1/auth:     POST signup, login, logout, logout-all, refresh; GET me, csrf
//	/api/v1/sessions: GET /, DELETE /{id}
//
// Every /api route runs behind the double-submit CSRF check for unsafe methods.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(logger, "/healthz", "/metrics"))
	r.Use(chimw.Recoverer)

	health := deps.Health
	if health == nil {
		health = healthhandler.NewChecker(nil)
	}
	r.Method(http.MethodGet, "/healthz", health)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.CSRF)
		r.Use(middleware.Authenticate(deps.Verifier))

		r.Route("/auth", func(r chi.Router) {
			r.Get("/csrf", deps.Auth.CSRFToken)
			r.Post("/signup", deps.Auth.Signup)
			r.Post("/login", deps.Auth.Login)
			r.Post("/logout", deps.Auth.Logout)
			r.Post("/refresh", deps.Auth.Refresh)
			r.Get("/me", deps.Auth.Me)
			r.With(middleware.RequireAuth).Post("/logout-all", deps.Auth.LogoutAll)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Use(middleware.RequireAuth)
			r.Get("/", deps.Sessions.List)
			r.Delete("/{id}", deps.Sessions.Revoke)
		})

		if deps.Audit != nil {
			r.With(middleware.RequireAuth).Get("/activity", deps.Audit.List)
		}
	})

	return r
}
