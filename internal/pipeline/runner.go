package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/filmatlas/crawler/internal/catalog"
	"github.com/filmatlas/crawler/internal/geocode"
	"github.com/filmatlas/crawler/internal/progress"
	"github.com/filmatlas/crawler/internal/tmdb"
)

// RunnerConfig captures the batching and resume knobs for a run.
type RunnerConfig struct {
	RunID       string
	CatalogPath string
	// BatchSize is the number of items enriched concurrently between
	// catalog flushes.
	BatchSize int
	// RescrapeCompleted processes ids already present in the resume state
	// instead of skipping them.
	RescrapeCompleted bool
	// FlushTopic, when set, receives a FlushEvent after every flush.
	FlushTopic string
}

// Runner drives the enrichment pipeline over a list of title ids.
type Runner struct {
	cfg       RunnerConfig
	resolver  IdentityResolver
	metadata  MetadataFetcher
	source    Source
	geocoder  Geocoder
	writer    Flusher
	resume    *catalog.ResumeState
	publisher Publisher
	clock     Clock
	reporter  Reporter
	logger    *zap.Logger
}

// NewRunner wires the pipeline stages together.
func NewRunner(
	cfg RunnerConfig,
	resolver IdentityResolver,
	metadata MetadataFetcher,
	source Source,
	geocoder Geocoder,
	writer Flusher,
	resume *catalog.ResumeState,
	publisher Publisher,
	clock Clock,
	reporter Reporter,
	logger *zap.Logger,
) *Runner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	return &Runner{
		cfg:       cfg,
		resolver:  resolver,
		metadata:  metadata,
		source:    source,
		geocoder:  geocoder,
		writer:    writer,
		resume:    resume,
		publisher: publisher,
		clock:     clock,
		reporter:  reporter,
		logger:    logger,
	}
}

type itemResult struct {
	id      string
	record  catalog.ContentRecord
	outcome string
	persist bool
}

// Run enriches up to target ids from the input list, skipping ids already
// recorded in the resume state unless rescraping is enabled. target <= 0
// means the whole list. The returned counts cover attempted and skipped
// items; a non-nil error means the run aborted and the catalog holds only
// the batches flushed before the failure.
func (r *Runner) Run(ctx context.Context, ids []string, target int) (progress.Counts, error) {
	var counts progress.Counts
	pending := make([]string, 0, len(ids))
	for _, id := range ids {
		if !r.cfg.RescrapeCompleted && r.resume.Contains(id) {
			counts.Skipped++
			r.reporter.ItemCompleted(progress.OutcomeSkipped)
			r.logger.Debug("id already enriched, skipping", zap.String("imdb_id", id))
			continue
		}
		pending = append(pending, id)
	}
	if target > 0 && len(pending) > target {
		pending = pending[:target]
	}
	r.logger.Info("run starting",
		zap.String("run_id", r.cfg.RunID),
		zap.Int("input", len(ids)),
		zap.Int("attempting", len(pending)),
	)

	for start := 0; start < len(pending); start += r.cfg.BatchSize {
		if ctx.Err() != nil {
			return counts, ctx.Err()
		}
		end := start + r.cfg.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batchCounts, err := r.runBatch(ctx, pending[start:end])
		counts.Succeeded += batchCounts.Succeeded
		counts.Skipped += batchCounts.Skipped
		counts.Failed += batchCounts.Failed
		if err != nil {
			return counts, err
		}
		r.logger.Info("progress", zap.String("tally", counts.String()))
	}
	return counts, nil
}

// runBatch enriches one batch concurrently and flushes the results. Item
// failures are soft; persistence failures abort the run.
func (r *Runner) runBatch(ctx context.Context, ids []string) (progress.Counts, error) {
	results := make([]itemResult, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			results[i] = r.processItem(ctx, id)
		}(i, id)
	}
	wg.Wait()

	var counts progress.Counts
	batch := make([]catalog.ContentRecord, 0, len(results))
	persisted := make([]string, 0, len(results))
	for _, res := range results {
		switch res.outcome {
		case progress.OutcomeSucceeded:
			counts.Succeeded++
		case progress.OutcomeSkipped:
			counts.Skipped++
		case progress.OutcomeFailed:
			counts.Failed++
		}
		r.reporter.ItemCompleted(res.outcome)
		if res.persist {
			batch = append(batch, res.record)
			persisted = append(persisted, res.id)
		}
	}
	if ctx.Err() != nil {
		return counts, ctx.Err()
	}
	if len(batch) == 0 {
		return counts, nil
	}

	if err := r.writer.Flush(ctx, batch); err != nil {
		return counts, fmt.Errorf("flush batch: %w", err)
	}
	r.resume.MarkProcessed(persisted...)
	if err := r.resume.Save(r.clock.Now()); err != nil {
		return counts, fmt.Errorf("save resume state: %w", err)
	}
	r.reporter.BatchFlushed()
	r.publishFlush(ctx, persisted)
	return counts, nil
}

func (r *Runner) publishFlush(ctx context.Context, persisted []string) {
	if r.publisher == nil || r.cfg.FlushTopic == "" {
		return
	}
	event := FlushEvent{
		RunID:        r.cfg.RunID,
		PersistedIDs: persisted,
		CatalogPath:  r.cfg.CatalogPath,
		FlushedAt:    r.clock.Now(),
	}
	if _, err := r.publisher.Publish(ctx, r.cfg.FlushTopic, event); err != nil {
		// Notifications are best effort; the catalog is already on disk.
		r.logger.Warn("publish flush event failed", zap.Error(err))
	}
}

// processItem walks one id through the stage sequence. Every outcome is
// terminal; only records with at least one geocoded location are persisted.
func (r *Runner) processItem(ctx context.Context, imdbID string) itemResult {
	result := itemResult{id: imdbID}
	logger := r.logger.With(zap.String("imdb_id", imdbID))
	state := StatePending

	fail := func(err error) itemResult {
		logger.Warn("item failed",
			zap.String("state", string(state)),
			zap.Error(err),
		)
		result.outcome = progress.OutcomeFailed
		return result
	}
	skip := func(reason string) itemResult {
		logger.Info("item skipped",
			zap.String("state", string(state)),
			zap.String("reason", reason),
		)
		result.outcome = progress.OutcomeSkipped
		return result
	}

	state = StateResolvingID
	identity, err := r.resolver.FindByIMDbID(ctx, imdbID)
	if err != nil {
		if errors.Is(err, tmdb.ErrNotFound) {
			return skip("no provider match")
		}
		return fail(err)
	}

	state = StateFetchingMetadata
	metadata, err := r.metadata.Details(ctx, identity)
	if err != nil {
		return fail(err)
	}

	state = StateScrapingLocations
	raws, err := r.source.Locations(ctx, imdbID)
	if err != nil {
		return fail(err)
	}
	if len(raws) == 0 {
		return skip("no locations on page")
	}

	state = StateGeocoding
	locations := make([]catalog.Location, 0, len(raws))
	for _, raw := range raws {
		started := time.Now()
		resolved, err := r.geocoder.Resolve(ctx, raw.Place)
		r.reporter.ObserveGeocodeDuration(time.Since(started).Seconds())
		if err != nil {
			if errors.Is(err, geocode.ErrUnresolved) {
				logger.Debug("place unresolved, dropping", zap.String("place", raw.Place))
				continue
			}
			return fail(err)
		}
		locations = append(locations, catalog.Location{
			Lat:              resolved.Lat,
			Lng:              resolved.Lng,
			City:             resolved.City,
			Country:          resolved.Country,
			Place:            raw.Place,
			SceneDescription: raw.Scene,
		})
	}
	if len(locations) == 0 {
		return skip("no location geocoded")
	}

	state = StateDeduping
	locations = catalog.DedupeLocations(locations)

	state = StatePersisted
	result.record = catalog.ContentRecord{
		ID:        imdbID,
		Title:     metadata.Title,
		Year:      metadata.Year,
		IMDbID:    imdbID,
		TMDbID:    identity.TMDbID,
		Type:      identity.Type,
		Genres:    metadata.Genres,
		Poster:    metadata.Poster,
		Trailer:   metadata.Trailer,
		Rating:    metadata.Rating,
		Locations: locations,
	}
	result.outcome = progress.OutcomeSucceeded
	result.persist = true
	logger.Info("item enriched",
		zap.String("title", metadata.Title),
		zap.Int("locations", len(locations)),
	)
	return result
}
