package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/engagelegal/intake-platform/internal/adminsession"
	"github.com/engagelegal/intake-platform/internal/firms"
	httpmiddleware "github.com/engagelegal/intake-platform/internal/http/middleware"
	"github.com/engagelegal/intake-platform/internal/intake"
	"github.com/engagelegal/intake-platform/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	IntakeHandler  *intake.Handler
	FirmsHandler   *firms.Handler
	SessionHandler *adminsession.Handler

	// Bearer auth config (optional, enables JWT validation on staff routes)
	Bearer          httpmiddleware.BearerConfig
	AdminAuthSecret string

	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	} else {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(firmIDHeader)

	// Public endpoints (intake widget, health checks)
	r.Group(func(public chi.Router) {
		public.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"ok"}`))
		})
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.FirmsHandler != nil {
			public.Get("/firms/by-slug/{slug}", cfg.FirmsHandler.BySlug)
		}
		// The embedded widget drives the full conversation lifecycle
		// before any staff login exists, so these stay public behind a
		// per-IP rate limit.
		if cfg.IntakeHandler != nil {
			public.Route("/conversations", func(r chi.Router) {
				r.Use(httpmiddleware.RateLimit(10, 30))
				r.Post("/", cfg.IntakeHandler.Create)
				r.Get("/resume/{resumeToken}", cfg.IntakeHandler.Resume)
				r.Route("/{sessionID}", func(r chi.Router) {
					r.Get("/context", cfg.IntakeHandler.Context)
					r.Post("/messages", cfg.IntakeHandler.AddMessage)
					r.Post("/identity", cfg.IntakeHandler.UpdateIdentity)
					r.Post("/authenticate", cfg.IntakeHandler.Authenticate)
					r.Post("/goals", cfg.IntakeHandler.AddGoals)
					r.Post("/goals/{goalID}/complete", cfg.IntakeHandler.CompleteGoal)
					r.Post("/conflict", cfg.IntakeHandler.SetConflict)
				})
			})
		}
	})

	// Staff routes (require a bearer token carrying the firm claim)
	if cfg.Bearer.IssuerURL != "" {
		r.Route("/api", func(api chi.Router) {
			api.Use(httpmiddleware.BearerAuth(cfg.Bearer))
			api.Use(requireFirmID)
			if cfg.IntakeHandler != nil {
				api.Get("/conversations", cfg.IntakeHandler.List)
				api.Get("/conversations/search", cfg.IntakeHandler.Search)
				api.Get("/conversations/analytics", cfg.IntakeHandler.Analytics)
				api.Delete("/conversations/{sessionID}", cfg.IntakeHandler.Delete)
			}
			if cfg.FirmsHandler != nil {
				api.Route("/firms/{firmID}", func(r chi.Router) {
					r.Get("/", cfg.FirmsHandler.Get)
					r.Patch("/", cfg.FirmsHandler.Update)
					r.Post("/users", cfg.FirmsHandler.AddUser)
					r.Delete("/users/{userID}", cfg.FirmsHandler.RemoveUser)
				})
			}
		})
	}

	// Admin routes (platform operators; bearer RS256 or legacy HMAC JWT)
	if cfg.AdminAuthSecret != "" || cfg.Bearer.IssuerURL != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.BearerOrAdminJWT(cfg.Bearer, cfg.AdminAuthSecret))
			if cfg.FirmsHandler != nil {
				admin.Post("/firms", cfg.FirmsHandler.Register)
				admin.Get("/firms/{firmID}", cfg.FirmsHandler.Get)
			}
			if cfg.IntakeHandler != nil {
				admin.Get("/firms/{firmID}/index/verify", cfg.IntakeHandler.VerifyIndex)
				admin.Post("/firms/{firmID}/index/repair", cfg.IntakeHandler.RepairIndex)
			}
			if cfg.SessionHandler != nil {
				admin.Post("/sessions", cfg.SessionHandler.Create)
				admin.Route("/sessions/{sessionID}", func(r chi.Router) {
					r.Get("/", cfg.SessionHandler.Get)
					r.Post("/touch", cfg.SessionHandler.Touch)
					r.Delete("/", cfg.SessionHandler.Delete)
				})
			}
		})
	}

	return r
}
