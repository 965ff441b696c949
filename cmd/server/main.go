package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/atmx/cdp-risk/internal/api"
	"github.com/atmx/cdp-risk/internal/config"
	"github.com/atmx/cdp-risk/internal/metrics"
	"github.com/atmx/cdp-risk/internal/monitor"
	"github.com/atmx/cdp-risk/internal/source"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("configuration failed", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize sources ---
	positions, market, cleanup, err := source.Open(ctx, cfg)
	if err != nil {
		slog.Error("source initialization failed", "err", err)
		os.Exit(1)
	}
	defer cleanup()

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run()
	defer wsHub.Close()

	// --- Refresh loop ---
	mon := monitor.New(positions, market, wsHub, monitor.Options{
		Symbols:          cfg.Symbols,
		MaxPerCollateral: cfg.MaxTrovesPerCollateral,
		Shocks:           cfg.ShockLevels,
		FocusShock:       cfg.FocusShock,
		DepthOverrides:   cfg.DepthOverrides,
		Interval:         cfg.RefreshInterval,
		FetchTimeout:     cfg.FetchTimeout,
		HistoryWindow:    cfg.HistoryWindow,
	})
	go mon.Run(ctx)

	svc := api.NewService(mon)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for dashboard cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"cdp-risk"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for refresh updates.
		r.Get("/ws", wsHub.HandleWS)

		// Snapshot queries.
		r.Get("/report", svc.GetReport)
		r.Post("/refresh", svc.Refresh)
		r.Get("/positions", svc.GetPositions)

		// On-demand analysis over the latest snapshot.
		r.Get("/scenarios", svc.GetScenarios)
		r.Get("/impact", svc.GetImpact)
		r.Get("/correlation", svc.GetCorrelation)
		r.Post("/correlation", svc.ComputeCorrelation)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("cdp-risk listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down cdp-risk...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("cdp-risk stopped")
}
