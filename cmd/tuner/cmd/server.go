package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ipiton/dbtuner/internal/config"
)

// startMetricsServer exposes /metrics (Prometheus) and /healthz (liveness)
// for the duration of a tuning run, matching the teacher's own
// internal-network, unauthenticated HTTP surface. Returns a no-op stop
// function when metrics are disabled.
func startMetricsServer(cfg config.MetricsConfig, log *slog.Logger) (stop func(context.Context) error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }
	}

	router := mux.NewRouter()
	router.Path(cfg.Path).Handler(promhttp.Handler())
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	go func() {
		log.Info("metrics server starting", "addr", server.Addr, "path", cfg.Path)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", "error", err)
		}
	}()

	return func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
