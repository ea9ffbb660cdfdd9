// Package server exposes Warden over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/yairfalse/warden/analyzer"
	"github.com/yairfalse/warden/pkg/resource"
	"github.com/yairfalse/warden/posture"
	"github.com/yairfalse/warden/storage"
)

// Materializer derives an account's assets.
type Materializer interface {
	Materialize(ctx context.Context, accountIdentifier string) (resource.MaterializeResult, error)
}

// Posture summarizes an account's assets.
type Posture interface {
	Scorecard(ctx context.Context, accountIdentifier string) (posture.Scorecard, error)
	Inventory(ctx context.Context, accountIdentifier string) (posture.Inventory, error)
}

// Compliance runs and reads framework evaluations.
type Compliance interface {
	Evaluate(ctx context.Context, accountIdentifier, framework string) (resource.Evaluation, error)
	Latest(ctx context.Context, accountIdentifier, framework string) (resource.Evaluation, error)
}

// FrameworkLister lists known compliance frameworks.
type FrameworkLister interface {
	ListFrameworks(ctx context.Context) ([]resource.Framework, error)
}

type Dependencies struct {
	Accounts     storage.AccountStore
	Frameworks   FrameworkLister
	Materializer Materializer
	Posture      Posture
	Drift        analyzer.DriftAnalyzer
	Compliance   Compliance
}

type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	DriftLimit      int
	// Middlewares run after request logging and panic recovery.
	Middlewares  []func(http.Handler) http.Handler
	Dependencies Dependencies
}

type WebAPI struct {
	router          *chi.Mux
	logger          *zerolog.Logger
	server          *http.Server
	shutdownTimeout time.Duration
}

func NewWebAPI(logger zerolog.Logger, config Config) *WebAPI {
	h := newHandler(config.Dependencies, config.DriftLimit)

	router := chi.NewRouter()
	router.Use(Logger(&logger))
	router.Use(middleware.Recoverer)
	for _, mw := range config.Middlewares {
		router.Use(mw)
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/healthz", h.Health)

		r.Get("/accounts", h.ListAccounts)
		r.Post("/accounts", h.CreateAccount)
		r.Route("/accounts/{account}", func(r chi.Router) {
			r.Post("/materialize", h.Materialize)
			r.Get("/assets", h.ListAssets)
			r.Get("/drift", h.DriftOverview)
			r.Get("/scorecard", h.Scorecard)
			r.Get("/compliance/{framework}", h.LatestEvaluation)
			r.Post("/compliance/{framework}/evaluate", h.Evaluate)
		})

		r.Get("/drift/{key}", h.DriftItem)
		r.Get("/drift/{key}/timeline", h.DriftTimeline)

		r.Get("/frameworks", h.ListFrameworks)
	})

	timeout := config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &WebAPI{
		router: router,
		logger: &logger,
		server: &http.Server{
			Addr:              config.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		shutdownTimeout: timeout,
	}
}

// Handler returns the routed handler.
func (w *WebAPI) Handler() http.Handler {
	return w.router
}

// ListenAndServe serves until Shutdown is called.
func (w *WebAPI) ListenAndServe() error {
	w.logger.Info().Str("addr", w.server.Addr).Msg("starting server")
	if err := w.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gives outstanding requests the shutdown timeout to complete,
// then closes the listener.
func (w *WebAPI) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), w.shutdownTimeout)
	defer cancel()

	err := w.server.Shutdown(ctx)
	if err != nil {
		w.logger.Error().Err(err).Msg("graceful shutdown failed")
		err = w.server.Close()
	}
	return err
}
