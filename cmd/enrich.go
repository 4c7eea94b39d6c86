package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	gcsclient "cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/filmatlas/crawler/internal/cache"
	fscache "github.com/filmatlas/crawler/internal/cache/fs"
	memcache "github.com/filmatlas/crawler/internal/cache/memory"
	pgcache "github.com/filmatlas/crawler/internal/cache/postgres"
	sqlitecache "github.com/filmatlas/crawler/internal/cache/sqlite"
	"github.com/filmatlas/crawler/internal/catalog"
	"github.com/filmatlas/crawler/internal/clock/system"
	"github.com/filmatlas/crawler/internal/config"
	"github.com/filmatlas/crawler/internal/geocode"
	"github.com/filmatlas/crawler/internal/geoqueue"
	"github.com/filmatlas/crawler/internal/logging"
	"github.com/filmatlas/crawler/internal/pipeline"
	"github.com/filmatlas/crawler/internal/progress"
	pubsubpub "github.com/filmatlas/crawler/internal/publisher/pubsub"
	"github.com/filmatlas/crawler/internal/scrape"
	"github.com/filmatlas/crawler/internal/storage/gcs"
	"github.com/filmatlas/crawler/internal/tmdb"
)

// newEnrichCmd creates and configures the 'enrich' subcommand.
func newEnrichCmd() *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "enrich [count]",
		Short: "Enriches titles from the input list into the catalog",
		Long: `Reads the configured id list and enriches up to [count] titles that
are not yet in the resume state. Omitting the count processes the whole
list. Item failures are logged and skipped; the run only aborts when the
catalog itself cannot be written.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := 0
			if len(args) == 1 {
				parsed, err := strconv.Atoi(args[0])
				if err != nil || parsed <= 0 {
					return fmt.Errorf("count must be a positive integer, got %q", args[0])
				}
				target = parsed
			}
			return runEnrich(cmd.Context(), target, reset)
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "clear the resume state and re-enrich everything")
	return cmd
}

func runEnrich(ctx context.Context, target int, reset bool) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	store, closeStore, err := buildCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	tmdbClient, err := tmdb.NewClient(tmdb.Config{
		BaseURL:       cfg.TMDB.BaseURL,
		ImageBaseURL:  cfg.TMDB.ImageBaseURL,
		APIKey:        cfg.TMDB.APIKey,
		Timeout:       cfg.TMDBTimeout(),
		PostCallDelay: time.Duration(cfg.TMDB.PostCallDelayMs) * time.Millisecond,
	}, store, logger)
	if err != nil {
		return fmt.Errorf("init tmdb client: %w", err)
	}

	source, closeSource, err := buildSource(cfg, store, logger)
	if err != nil {
		return err
	}
	defer closeSource()

	queue := geoqueue.New(cfg.GeocodeMinInterval(), logger)
	resolver := geocode.NewResolver(geocode.Config{
		Endpoint:  cfg.Geocode.Endpoint,
		UserAgent: cfg.Geocode.UserAgent,
		Timeout:   time.Duration(cfg.Geocode.TimeoutSeconds) * time.Second,
	}, queue, store, logger)

	reporter, err := progress.NewReporter(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	if err := reporter.RegisterQueueDepth(prometheus.DefaultRegisterer, queue.Depth); err != nil {
		return err
	}

	stopMetrics := startMetricsListener(cfg.Metrics.Port, logger)
	defer stopMetrics()

	runID := uuid.NewString()
	writer, err := buildWriter(ctx, cfg, runID, logger)
	if err != nil {
		return err
	}

	publisher, closePublisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		return err
	}
	defer closePublisher()

	resume, err := catalog.LoadResumeState(cfg.Catalog.ResumePath)
	if err != nil {
		return err
	}
	clk := system.New()
	if reset {
		resume.Reset()
		if err := resume.Save(clk.Now()); err != nil {
			return err
		}
		logger.Info("resume state cleared")
	}

	ids, err := pipeline.ReadIDList(cfg.Input.Path)
	if err != nil {
		return err
	}

	runner := pipeline.NewRunner(pipeline.RunnerConfig{
		RunID:             runID,
		CatalogPath:       cfg.Catalog.Path,
		BatchSize:         cfg.Pipeline.BatchSize,
		RescrapeCompleted: cfg.Pipeline.RescrapeCompleted,
		FlushTopic:        cfg.PubSub.TopicName,
	}, tmdbClient, tmdbClient, source, resolver, writer, resume, publisher, clk, reporter, logger)

	counts, err := runner.Run(ctx, ids, target)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("enrich run: %w", err)
	}
	logger.Info("run finished",
		zap.String("run_id", runID),
		zap.String("tally", counts.String()),
	)
	return nil
}

// startMetricsListener serves the run's collectors on /metrics so the
// counters and gauges are scrapeable while a long enrichment is underway.
// Port 0 disables the listener.
func startMetricsListener(port int, logger *zap.Logger) func() {
	if port <= 0 {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", progress.Handler(prometheus.DefaultGatherer))
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics listener failed", zap.Error(err))
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics listener shutdown failed", zap.Error(err))
		}
	}
}

// buildCache constructs the configured backend wrapped in the fail-open
// decorator, so backend outages degrade to live lookups.
func buildCache(ctx context.Context, cfg config.Config, logger *zap.Logger) (cache.Store, func(), error) {
	noop := func() {}
	switch cfg.Cache.Backend {
	case config.CacheBackendMemory:
		return cache.FailOpen(memcache.New(), logger), noop, nil
	case config.CacheBackendFS:
		store, err := fscache.New(fscache.Config{BaseDir: cfg.Cache.FS.BaseDir})
		if err != nil {
			return nil, nil, fmt.Errorf("init fs cache: %w", err)
		}
		return cache.FailOpen(store, logger), noop, nil
	case config.CacheBackendSQLite:
		store, err := sqlitecache.New(sqlitecache.Config{Path: cfg.Cache.SQLite.Path})
		if err != nil {
			return nil, nil, fmt.Errorf("init sqlite cache: %w", err)
		}
		closer := func() {
			if err := store.Close(); err != nil {
				logger.Warn("close sqlite cache failed", zap.Error(err))
			}
		}
		return cache.FailOpen(store, logger), closer, nil
	case config.CacheBackendPostgres:
		store, err := pgcache.New(ctx, pgcache.Config{
			DSN:      cfg.Cache.Postgres.DSN,
			MaxConns: cfg.Cache.Postgres.MaxConns,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init postgres cache: %w", err)
		}
		return cache.FailOpen(store, logger), store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

func buildSource(cfg config.Config, store cache.Store, logger *zap.Logger) (pipeline.Source, func(), error) {
	if !cfg.Scraper.Headless {
		source := scrape.NewStatic(scrape.StaticConfig{
			BaseURL:   cfg.Scraper.BaseURL,
			UserAgent: cfg.Scraper.UserAgent,
			Timeout:   time.Duration(cfg.Scraper.RequestTimeoutSec) * time.Second,
		}, store, logger)
		return source, func() {}, nil
	}
	scraper, err := scrape.New(scrape.Config{
		BaseURL:         cfg.Scraper.BaseURL,
		UserAgent:       cfg.Scraper.UserAgent,
		NavTimeout:      time.Duration(cfg.Scraper.NavTimeoutSec) * time.Second,
		SettleDelay:     time.Duration(cfg.Scraper.SettleDelaySec) * time.Second,
		MaxExpandClicks: cfg.Scraper.MaxExpandClicks,
	}, store, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("init scraper: %w", err)
	}
	return scraper, scraper.Close, nil
}

func buildWriter(ctx context.Context, cfg config.Config, runID string, logger *zap.Logger) (*catalog.Writer, error) {
	var mirror catalog.BlobStore
	if cfg.Backup.GCSBucket != "" {
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init storage client: %w", err)
		}
		mirror, err = gcs.New(client, gcs.Config{Bucket: cfg.Backup.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init backup mirror: %w", err)
		}
	}
	return catalog.NewWriter(catalog.WriterConfig{
		CatalogPath:  cfg.Catalog.Path,
		RunID:        runID,
		BackupPrefix: cfg.Backup.Prefix,
	}, mirror, logger), nil
}

func buildPublisher(ctx context.Context, cfg config.Config) (pipeline.Publisher, func(), error) {
	if cfg.PubSub.TopicName == "" {
		return nil, func() {}, nil
	}
	pub, err := pubsubpub.New(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("init publisher: %w", err)
	}
	closer := func() { _ = pub.Close() }
	return pub, closer, nil
}
