// Package main is the entrypoint for the keyserver license API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/keyserver/internal/api"
	"github.com/kiranshivaraju/keyserver/internal/api/handler"
	mw "github.com/kiranshivaraju/keyserver/internal/api/middleware"
	"github.com/kiranshivaraju/keyserver/internal/api/response"
	"github.com/kiranshivaraju/keyserver/internal/config"
	"github.com/kiranshivaraju/keyserver/internal/license"
	"github.com/kiranshivaraju/keyserver/internal/metrics"
	"github.com/kiranshivaraju/keyserver/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "store", cfg.Store.Driver, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Admin credentials. Missing secrets leave the admin API closed.
	auth, err := mw.NewAdminAuth(cfg.Admin)
	if err != nil {
		return fmt.Errorf("admin auth: %w", err)
	}
	if !auth.Configured() {
		slog.Warn("ADMIN_PASSWORD not set, admin API will refuse all requests")
	}

	// 3. Open the license store (runs migrations for postgres)
	st, err := store.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := st.Close(closeCtx); err != nil {
			slog.Warn("close store", "error", err)
		}
	}()
	slog.Info("store ready", "driver", cfg.Store.Driver)

	// 4. Metrics
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promReg)

	// 5. License registry
	registry := license.NewRegistry(st,
		license.WithKeyAttempts(cfg.Keys.GenerateAttempts),
		license.WithLogger(slog.Default()),
		license.WithMetrics(m),
	)

	// 6. Build router with dependencies
	deps := api.Dependencies{
		AdminAuth: auth,

		HealthHandler:   healthHandler(registry),
		MetricsHandler:  metrics.Handler(promReg),
		ValidateHandler: handler.NewValidateHandler(registry),

		CreateLicense:   handler.NewCreateLicenseHandler(registry),
		ListLicenses:    handler.NewListLicensesHandler(registry),
		GetLicense:      handler.NewGetLicenseHandler(registry),
		RevokeLicense:   handler.NewRevokeLicenseHandler(registry),
		ActivateLicense: handler.NewActivateLicenseHandler(registry),
		DeleteLicense:   handler.NewDeleteLicenseHandler(registry),
	}

	router := api.NewRouter(deps)

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler checks store connectivity.
func healthHandler(p pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{"store": "ok"}

		if err := p.Ping(r.Context()); err != nil {
			slog.WarnContext(r.Context(), "store ping failed", "error", err)
			checks["store"] = "degraded"
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
