// Package pipeline orchestrates the per-title enrichment flow: resolve
// the provider identity, fetch metadata, scrape filming locations,
// geocode them, and persist the merged catalog in batches.
package pipeline

import (
	"context"
	"time"

	"github.com/filmatlas/crawler/internal/catalog"
	"github.com/filmatlas/crawler/internal/geocode"
	"github.com/filmatlas/crawler/internal/scrape"
	"github.com/filmatlas/crawler/internal/tmdb"
)

// State names the stages one item moves through. Items advance strictly
// forward; Skipped and Failed are terminal alongside Persisted.
type State string

const (
	StatePending           State = "PENDING"
	StateResolvingID       State = "RESOLVING_ID"
	StateFetchingMetadata  State = "FETCHING_METADATA"
	StateScrapingLocations State = "SCRAPING_LOCATIONS"
	StateGeocoding         State = "GEOCODING"
	StateDeduping          State = "DEDUPING"
	StatePersisted         State = "PERSISTED"
	StateSkipped           State = "SKIPPED"
	StateFailed            State = "FAILED"
)

// IdentityResolver maps an external title id to the provider identity.
type IdentityResolver interface {
	FindByIMDbID(ctx context.Context, imdbID string) (tmdb.Identity, error)
}

// MetadataFetcher loads title metadata for a resolved identity.
type MetadataFetcher interface {
	Details(ctx context.Context, identity tmdb.Identity) (tmdb.Metadata, error)
}

// Geocoder converts a raw place mention to coordinates.
type Geocoder interface {
	Resolve(ctx context.Context, place string) (geocode.Result, error)
}

// Publisher emits batch flush notifications.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock abstracts wall time for resume-state timestamps.
type Clock interface {
	Now() time.Time
}

// FlushEvent is the payload published after each catalog flush.
type FlushEvent struct {
	RunID        string    `json:"run_id"`
	PersistedIDs []string  `json:"persisted_ids"`
	CatalogPath  string    `json:"catalog_path"`
	FlushedAt    time.Time `json:"flushed_at"`
}

// Source re-exports the scrape contract so runner consumers only import
// this package.
type Source = scrape.Source

var _ IdentityResolver = (*tmdb.Client)(nil)
var _ MetadataFetcher = (*tmdb.Client)(nil)
var _ Geocoder = (*geocode.Resolver)(nil)

// Reporter receives item and flush notifications for metrics.
type Reporter interface {
	ItemCompleted(outcome string)
	BatchFlushed()
	ObserveGeocodeDuration(seconds float64)
}

// Flusher persists a batch of enriched records.
type Flusher interface {
	Flush(ctx context.Context, batch []catalog.ContentRecord) error
}

var _ Flusher = (*catalog.Writer)(nil)
