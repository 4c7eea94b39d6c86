package tmdb

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/filmatlas/crawler/internal/cache/memory"
	"github.com/filmatlas/crawler/internal/catalog"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *memory.Store) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	store := memory.New()
	client, err := NewClient(Config{
		BaseURL:       server.URL,
		ImageBaseURL:  "https://img.example/w500",
		APIKey:        "test-key",
		PostCallDelay: time.Millisecond,
	}, store, zap.NewNop())
	require.NoError(t, err)
	return client, store
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := NewClient(Config{}, memory.New(), zap.NewNop())
	assert.Error(t, err)
}

func TestFindByIMDbIDPrefersMovieOverSeries(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/find/tt0133093", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("api_key"))
		assert.Equal(t, "imdb_id", r.URL.Query().Get("external_source"))
		fmt.Fprint(w, `{"movie_results":[{"id":603}],"tv_results":[{"id":999}]}`)
	}))

	identity, err := client.FindByIMDbID(context.Background(), "tt0133093")
	require.NoError(t, err)
	assert.Equal(t, Identity{TMDbID: 603, Type: catalog.TypeMovie}, identity)
}

func TestFindByIMDbIDSeriesFallback(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"movie_results":[],"tv_results":[{"id":1396}]}`)
	}))

	identity, err := client.FindByIMDbID(context.Background(), "tt0903747")
	require.NoError(t, err)
	assert.Equal(t, Identity{TMDbID: 1396, Type: catalog.TypeSeries}, identity)
}

func TestFindByIMDbIDNotFoundIsNotCached(t *testing.T) {
	calls := 0
	client, store := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		fmt.Fprint(w, `{"movie_results":[],"tv_results":[]}`)
	}))

	_, err := client.FindByIMDbID(context.Background(), "tt9999999")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, store.Len())

	_, err = client.FindByIMDbID(context.Background(), "tt9999999")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 2, calls)
}

func TestFindByIMDbIDSecondLookupHitsCache(t *testing.T) {
	calls := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		fmt.Fprint(w, `{"movie_results":[{"id":603}],"tv_results":[]}`)
	}))

	ctx := context.Background()
	_, err := client.FindByIMDbID(ctx, "tt0133093")
	require.NoError(t, err)
	_, err = client.FindByIMDbID(ctx, "tt0133093")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDetailsMapsMovieMetadata(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/movie/603", r.URL.Path)
		assert.Equal(t, "videos", r.URL.Query().Get("append_to_response"))
		fmt.Fprint(w, `{
			"title": "The Matrix",
			"release_date": "1999-03-31",
			"poster_path": "/matrix.jpg",
			"vote_average": 8.2,
			"genres": [{"name": "Action"}, {"name": "Science Fiction"}],
			"videos": {"results": [
				{"key": "clip1", "site": "YouTube", "type": "Clip"},
				{"key": "vimeo1", "site": "Vimeo", "type": "Trailer"},
				{"key": "trailer1", "site": "YouTube", "type": "Trailer"}
			]}
		}`)
	}))

	metadata, err := client.Details(context.Background(), Identity{TMDbID: 603, Type: catalog.TypeMovie})
	require.NoError(t, err)
	assert.Equal(t, "The Matrix", metadata.Title)
	assert.Equal(t, 1999, metadata.Year)
	assert.Equal(t, []string{"Action", "Science Fiction"}, metadata.Genres)
	assert.Equal(t, "https://img.example/w500/matrix.jpg", metadata.Poster)
	assert.Equal(t, "trailer1", metadata.Trailer)
	assert.InDelta(t, 8.2, metadata.Rating, 1e-9)
}

func TestDetailsMapsSeriesMetadata(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tv/1396", r.URL.Path)
		fmt.Fprint(w, `{
			"name": "Breaking Bad",
			"first_air_date": "2008-01-20",
			"genres": [{"name": "Drama"}],
			"videos": {"results": []}
		}`)
	}))

	metadata, err := client.Details(context.Background(), Identity{TMDbID: 1396, Type: catalog.TypeSeries})
	require.NoError(t, err)
	assert.Equal(t, "Breaking Bad", metadata.Title)
	assert.Equal(t, 2008, metadata.Year)
	assert.Empty(t, metadata.Trailer)
	assert.Empty(t, metadata.Poster)
}

func TestDetailsMalformedReleaseDate(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"title": "Undated", "release_date": "soon"}`)
	}))

	metadata, err := client.Details(context.Background(), Identity{TMDbID: 1, Type: catalog.TypeMovie})
	require.NoError(t, err)
	assert.Equal(t, 0, metadata.Year)
}

func TestDetailsNotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	_, err := client.Details(context.Background(), Identity{TMDbID: 42, Type: catalog.TypeMovie})
	assert.ErrorIs(t, err, ErrNotFound)
}
