package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/filmatlas/crawler/internal/catalog"
	"github.com/filmatlas/crawler/internal/config"
	"github.com/filmatlas/crawler/internal/logging"
	"github.com/filmatlas/crawler/internal/progress"
)

// newServeCmd creates and configures the 'serve' subcommand.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serves the enriched catalog over HTTP",
		Long: `Exposes the persisted catalog as a read-only JSON API, along with
health and Prometheus metrics endpoints. The catalog file is re-read per
request, so an enrichment run on the same host is picked up live.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/metrics", progress.Handler(prometheus.DefaultGatherer))
	router.Get("/api/catalog", handleCatalog(cfg.Catalog.Path, logger))
	router.Get("/api/catalog/{id}", handleCatalogItem(cfg.Catalog.Path, logger))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("catalog server listening", zap.String("addr", server.Addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		logger.Info("catalog server stopped")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve catalog: %w", err)
	}
}

func handleCatalog(path string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		records, err := catalog.Load(path)
		if err != nil {
			logger.Error("load catalog failed", zap.Error(err))
			http.Error(w, "catalog unavailable", http.StatusInternalServerError)
			return
		}
		if records == nil {
			records = []catalog.ContentRecord{}
		}
		writeJSON(w, records, logger)
	}
}

func handleCatalogItem(path string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		records, err := catalog.Load(path)
		if err != nil {
			logger.Error("load catalog failed", zap.Error(err))
			http.Error(w, "catalog unavailable", http.StatusInternalServerError)
			return
		}
		for _, record := range records {
			if record.ID == id {
				writeJSON(w, record, logger)
				return
			}
		}
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func writeJSON(w http.ResponseWriter, payload any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warn("write response failed", zap.Error(err))
	}
}
