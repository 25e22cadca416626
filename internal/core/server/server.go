package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/postgis-tile-cache/internal/core/config"
	"github.com/mohammed-shakir/postgis-tile-cache/internal/core/health"
	middleware "github.com/mohammed-shakir/postgis-tile-cache/internal/core/middleware"
	"github.com/mohammed-shakir/postgis-tile-cache/internal/core/router"
	"github.com/mohammed-shakir/postgis-tile-cache/internal/query"
)

// NewHandler wires probes, metrics and the data routes.
func NewHandler(cfg config.Config, logger *slog.Logger, src router.Source, db health.Pinger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(2*time.Second, map[string]health.Pinger{"database": db}))
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	router.Mount(r, logger, query.Guard{Enabled: cfg.FragmentGuard}, src)
	return r
}

// sets up http and starts serving
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, src router.Source, db health.Pinger) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewHandler(cfg, logger, src, db),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
