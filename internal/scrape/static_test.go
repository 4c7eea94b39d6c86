package scrape

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/filmatlas/crawler/internal/cache"
	"github.com/filmatlas/crawler/internal/cache/memory"
)

func newStaticFixture(t *testing.T, handler http.HandlerFunc) (*StaticSource, *memory.Store) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	store := memory.New()
	source := NewStatic(StaticConfig{BaseURL: server.URL}, store, zap.NewNop())
	return source, store
}

func TestStaticSourceExtractsAndCaches(t *testing.T) {
	hits := 0
	source, store := newStaticFixture(t, func(w http.ResponseWriter, r *http.Request) {
		hits++
		assert.Equal(t, "/title/tt0133093/locations/", r.URL.Path)
		fmt.Fprint(w, cardsHTML)
	})
	ctx := context.Background()

	locations, err := source.Locations(ctx, "tt0133093")
	require.NoError(t, err)
	require.Len(t, locations, 2)
	assert.Equal(t, "Tower Bridge, London, England, UK", locations[0].Place)
	assert.Equal(t, 1, store.Len())

	// Second call must come from the cache.
	locations, err = source.Locations(ctx, "tt0133093")
	require.NoError(t, err)
	assert.Len(t, locations, 2)
	assert.Equal(t, 1, hits)
}

func TestStaticSourceEmptyPageIsCached(t *testing.T) {
	source, store := newStaticFixture(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><p>nothing here</p></body></html>`)
	})

	locations, err := source.Locations(context.Background(), "tt0000001")
	require.NoError(t, err)
	assert.Empty(t, locations)
	// A successfully parsed page with no locations is a final answer.
	assert.Equal(t, 1, store.Len())

	var cached []RawLocation
	hit, err := store.Get(context.Background(), cache.NamespaceLocations, "tt0000001", &cached)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Empty(t, cached)
}

func TestStaticSourceFetchFailureIsSoftAndUncached(t *testing.T) {
	source, store := newStaticFixture(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream broke", http.StatusBadGateway)
	})

	locations, err := source.Locations(context.Background(), "tt0000002")
	require.NoError(t, err)
	assert.Nil(t, locations)
	// Failures must stay retryable on the next run.
	assert.Equal(t, 0, store.Len())
}
