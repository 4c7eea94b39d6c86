package pipeline

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/filmatlas/crawler/internal/catalog"
	"github.com/filmatlas/crawler/internal/geocode"
	"github.com/filmatlas/crawler/internal/progress"
	pubmem "github.com/filmatlas/crawler/internal/publisher/memory"
	"github.com/filmatlas/crawler/internal/scrape"
	"github.com/filmatlas/crawler/internal/tmdb"
)

type fakeResolver struct {
	mu         sync.Mutex
	calls      []string
	identities map[string]tmdb.Identity
	errs       map[string]error
}

func (f *fakeResolver) FindByIMDbID(_ context.Context, imdbID string) (tmdb.Identity, error) {
	f.mu.Lock()
	f.calls = append(f.calls, imdbID)
	f.mu.Unlock()
	if err, ok := f.errs[imdbID]; ok {
		return tmdb.Identity{}, err
	}
	if identity, ok := f.identities[imdbID]; ok {
		return identity, nil
	}
	return tmdb.Identity{}, tmdb.ErrNotFound
}

func (f *fakeResolver) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeMetadata struct {
	details map[int]tmdb.Metadata
}

func (f *fakeMetadata) Details(_ context.Context, identity tmdb.Identity) (tmdb.Metadata, error) {
	return f.details[identity.TMDbID], nil
}

type fakeSource struct {
	locations map[string][]scrape.RawLocation
}

func (f *fakeSource) Locations(_ context.Context, imdbID string) ([]scrape.RawLocation, error) {
	return f.locations[imdbID], nil
}

type fakeGeocoder struct {
	results map[string]geocode.Result
}

func (f *fakeGeocoder) Resolve(_ context.Context, place string) (geocode.Result, error) {
	if result, ok := f.results[place]; ok {
		return result, nil
	}
	return geocode.Result{}, geocode.ErrUnresolved
}

type fakeFlusher struct {
	mu      sync.Mutex
	batches [][]catalog.ContentRecord
}

func (f *fakeFlusher) Flush(_ context.Context, batch []catalog.ContentRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakeFlusher) records() []catalog.ContentRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []catalog.ContentRecord
	for _, batch := range f.batches {
		all = append(all, batch...)
	}
	return all
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type runnerFixture struct {
	resolver  *fakeResolver
	metadata  *fakeMetadata
	source    *fakeSource
	geocoder  *fakeGeocoder
	flusher   *fakeFlusher
	resume    *catalog.ResumeState
	publisher *pubmem.Publisher
	runner    *Runner
}

func newFixture(t *testing.T, cfg RunnerConfig) *runnerFixture {
	t.Helper()
	resume, err := catalog.LoadResumeState(filepath.Join(t.TempDir(), "resume.json"))
	require.NoError(t, err)
	reporter, err := progress.NewReporter(prometheus.NewRegistry())
	require.NoError(t, err)

	f := &runnerFixture{
		resolver: &fakeResolver{identities: map[string]tmdb.Identity{
			"tt0133093": {TMDbID: 603, Type: catalog.TypeMovie},
			"tt0903747": {TMDbID: 1396, Type: catalog.TypeSeries},
		}},
		metadata: &fakeMetadata{details: map[int]tmdb.Metadata{
			603:  {Title: "The Matrix", Year: 1999, Genres: []string{"Action"}, Rating: 8.2},
			1396: {Title: "Breaking Bad", Year: 2008},
		}},
		source: &fakeSource{locations: map[string][]scrape.RawLocation{
			"tt0133093": {
				{Place: "AON Center, Sydney, Australia", Scene: "office lobby"},
				{Place: "Nowhere, Atlantis"},
			},
			"tt0903747": {
				{Place: "Albuquerque, New Mexico, USA"},
			},
		}},
		geocoder: &fakeGeocoder{results: map[string]geocode.Result{
			"AON Center, Sydney, Australia": {Lat: -33.8651, Lng: 151.2099, City: "Sydney", Country: "Australia"},
			"Albuquerque, New Mexico, USA":  {Lat: 35.0844, Lng: -106.6504, City: "Albuquerque", Country: "United States"},
		}},
		flusher:   &fakeFlusher{},
		resume:    resume,
		publisher: pubmem.New(),
	}
	f.runner = NewRunner(cfg,
		f.resolver, f.metadata, f.source, f.geocoder, f.flusher,
		f.resume, f.publisher,
		fixedClock{now: time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)},
		reporter, zap.NewNop(),
	)
	return f
}

func TestRunnerEnrichesAndPersists(t *testing.T) {
	f := newFixture(t, RunnerConfig{RunID: "run-1", BatchSize: 2})

	counts, err := f.runner.Run(context.Background(), []string{"tt0133093", "tt0903747"}, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Succeeded)

	records := f.flusher.records()
	require.Len(t, records, 2)
	matrix := records[0]
	if matrix.ID != "tt0133093" {
		matrix = records[1]
	}
	assert.Equal(t, "The Matrix", matrix.Title)
	assert.Equal(t, 603, matrix.TMDbID)
	assert.Equal(t, catalog.TypeMovie, matrix.Type)
	// The unresolvable second mention is dropped, not fatal.
	require.Len(t, matrix.Locations, 1)
	assert.Equal(t, "Sydney", matrix.Locations[0].City)
	assert.Equal(t, "office lobby", matrix.Locations[0].SceneDescription)

	assert.True(t, f.resume.Contains("tt0133093"))
	assert.True(t, f.resume.Contains("tt0903747"))
}

func TestRunnerSkipsResumedIDs(t *testing.T) {
	f := newFixture(t, RunnerConfig{BatchSize: 2})
	f.resume.MarkProcessed("tt0133093")

	counts, err := f.runner.Run(context.Background(), []string{"tt0133093", "tt0903747"}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Skipped)
	assert.Equal(t, 1, counts.Succeeded)
	assert.Equal(t, []string{"tt0903747"}, f.resolver.calls)
}

func TestRunnerRescrapeCompletedOverridesResume(t *testing.T) {
	f := newFixture(t, RunnerConfig{BatchSize: 2, RescrapeCompleted: true})
	f.resume.MarkProcessed("tt0133093")

	counts, err := f.runner.Run(context.Background(), []string{"tt0133093"}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Succeeded)
	assert.Equal(t, 1, f.resolver.callCount())
}

func TestRunnerUnknownIDIsSkippedNotFailed(t *testing.T) {
	f := newFixture(t, RunnerConfig{BatchSize: 1})

	counts, err := f.runner.Run(context.Background(), []string{"tt9999999"}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Skipped)
	assert.Empty(t, f.flusher.records())
	assert.False(t, f.resume.Contains("tt9999999"))
}

func TestRunnerNoLocationsIsSkipped(t *testing.T) {
	f := newFixture(t, RunnerConfig{BatchSize: 1})
	f.source.locations["tt0133093"] = nil

	counts, err := f.runner.Run(context.Background(), []string{"tt0133093"}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Skipped)
	assert.Empty(t, f.flusher.records())
}

func TestRunnerNothingGeocodedIsSkipped(t *testing.T) {
	f := newFixture(t, RunnerConfig{BatchSize: 1})
	f.geocoder.results = nil

	counts, err := f.runner.Run(context.Background(), []string{"tt0903747"}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Skipped)
	assert.Empty(t, f.flusher.records())
	assert.False(t, f.resume.Contains("tt0903747"))
}

func TestRunnerTargetLimitsAttempts(t *testing.T) {
	f := newFixture(t, RunnerConfig{BatchSize: 5})

	counts, err := f.runner.Run(context.Background(), []string{"tt0133093", "tt0903747"}, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Succeeded)
	assert.Equal(t, 1, f.resolver.callCount())
}

func TestRunnerPublishesFlushEvents(t *testing.T) {
	f := newFixture(t, RunnerConfig{RunID: "run-7", BatchSize: 2, FlushTopic: "catalog-flushes"})

	_, err := f.runner.Run(context.Background(), []string{"tt0133093"}, 0)
	require.NoError(t, err)

	messages := f.publisher.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "catalog-flushes", messages[0].Topic)
	event, ok := messages[0].Payload.(FlushEvent)
	require.True(t, ok)
	assert.Equal(t, "run-7", event.RunID)
	assert.Equal(t, []string{"tt0133093"}, event.PersistedIDs)
}
