// Package web exposes the import API: upload submission, progress polling,
// webhook subscription management, health and metrics.
package web

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/JonMunkholm/catalogimport/internal/catalog"
	"github.com/JonMunkholm/catalogimport/internal/config"
	"github.com/JonMunkholm/catalogimport/internal/importer"
	"github.com/JonMunkholm/catalogimport/internal/logging"
	"github.com/JonMunkholm/catalogimport/internal/progress"
	"github.com/JonMunkholm/catalogimport/internal/web/middleware"
	"github.com/JonMunkholm/catalogimport/internal/webhook"
)

// Submitter accepts an upload and returns its job id.
type Submitter interface {
	Submit(ctx context.Context, fileName string, r io.Reader) (string, error)
}

// Subscriptions manages webhook subscriptions.
type Subscriptions interface {
	List(ctx context.Context) ([]webhook.Subscription, error)
	Get(ctx context.Context, id uuid.UUID) (webhook.Subscription, error)
	Create(ctx context.Context, s webhook.Subscription) (webhook.Subscription, error)
	SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// Products reads the catalog.
type Products interface {
	List(ctx context.Context, f catalog.Filter, limit, offset int) ([]catalog.StoredRecord, int64, error)
	Get(ctx context.Context, key string) (catalog.StoredRecord, error)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators behind the handlers.
type Deps struct {
	Submitter     Submitter
	Progress      *progress.Reporter
	Subscriptions Subscriptions
	Deliveries    webhook.Enqueuer
	Products      Products
	Health        map[string]Pinger
}

// Server is the HTTP server for the import API.
type Server struct {
	cfg    *config.Config
	deps   Deps
	router *chi.Mux
	server *http.Server
}

// NewServer builds the router.
func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		router: chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(securityHeaders)

	if len(s.cfg.Server.CORSOrigins) > 0 {
		s.router.Use(cors.New(cors.Options{
			AllowedOrigins: s.cfg.Server.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "X-API-Key", "Authorization"},
			MaxAge:         300,
		}).Handler)
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(&s.cfg.Security))
		if s.cfg.Rate.Enabled {
			r.Use(middleware.RateLimit(s.cfg.Rate.RequestsPerMinute))
		}
		timeout := chimw.Timeout(s.cfg.Server.RequestTimeout)

		r.Route("/imports", func(r chi.Router) {
			// Upload bodies are bounded by UploadTimeout instead of the
			// request timeout.
			r.With(s.uploadRateLimit(), s.uploadDeadline).Post("/", s.handleSubmitImport)
			r.With(timeout).Get("/{jobID}", s.handleImportStatus)
		})

		r.Group(func(r chi.Router) {
			r.Use(timeout)

			r.Route("/webhooks", func(r chi.Router) {
				r.Get("/", s.handleListWebhooks)
				r.Post("/", s.handleCreateWebhook)
				r.Get("/{id}", s.handleGetWebhook)
				r.Patch("/{id}", s.handleUpdateWebhook)
				r.Delete("/{id}", s.handleDeleteWebhook)
				r.Post("/{id}/test", s.handleTestWebhook)
			})

			r.Route("/products", func(r chi.Router) {
				r.Get("/", s.handleListProducts)
				r.Get("/{sku}", s.handleGetProduct)
			})
		})
	})
}

// uploadDeadline lifts the server-wide read and write deadlines for one
// upload and bounds the request context by UploadTimeout instead.
func (s *Server) uploadDeadline(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := s.cfg.Import.UploadTimeout
		if d <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		deadline := time.Now().Add(d)
		rc := http.NewResponseController(w)
		if err := rc.SetReadDeadline(deadline); err != nil && !errors.Is(err, http.ErrNotSupported) {
			logging.FromContext(r.Context()).Warn("extend upload read deadline", "error", err)
		}
		if err := rc.SetWriteDeadline(deadline.Add(s.cfg.Server.WriteTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			logging.FromContext(r.Context()).Warn("extend upload write deadline", "error", err)
		}

		ctx, cancel := context.WithDeadline(r.Context(), deadline)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) uploadRateLimit() func(http.Handler) http.Handler {
	if !s.cfg.Rate.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}
	return middleware.RateLimit(s.cfg.Rate.UploadLimit)
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) ListenAndServe() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.deps.Health))
	status := http.StatusOK
	for name, p := range s.deps.Health {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	writeJSON(w, status, map[string]any{"status": http.StatusText(status), "checks": checks})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

var (
	_ Submitter = (*importer.Submitter)(nil)
	_ Products  = (*catalog.PGStore)(nil)
)
