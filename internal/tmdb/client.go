// Package tmdb resolves IMDb title ids to TMDB entries and fetches title
// metadata from the TMDB API.
package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/filmatlas/crawler/internal/cache"
	"github.com/filmatlas/crawler/internal/catalog"
)

// ErrNotFound indicates TMDB has neither a movie nor a series match for an
// external id. The caller skips the item; retrying within the run is
// pointless.
var ErrNotFound = errors.New("tmdb: no match for external id")

// Identity is the provider-internal id and content type for a title.
type Identity struct {
	TMDbID int                 `json:"tmdb_id"`
	Type   catalog.ContentType `json:"type"`
}

// Metadata is the provider detail payload trimmed to the catalog fields.
type Metadata struct {
	Title   string   `json:"title"`
	Year    int      `json:"year"`
	Genres  []string `json:"genres"`
	Poster  string   `json:"poster"`
	Trailer string   `json:"trailer"`
	Rating  float64  `json:"rating"`
}

// Config controls the TMDB client.
type Config struct {
	BaseURL      string
	ImageBaseURL string
	APIKey       string
	Timeout      time.Duration
	// PostCallDelay is slept after each detail request; TMDB enforces its
	// own rate limits independent of the geocoding queue.
	PostCallDelay time.Duration
}

// Client talks to the TMDB API with caching per lookup.
type Client struct {
	cfg    Config
	client *http.Client
	cache  cache.Store
	logger *zap.Logger
}

// NewClient constructs a Client.
func NewClient(cfg Config, store cache.Store, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("tmdb api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.themoviedb.org/3"
	}
	if cfg.ImageBaseURL == "" {
		cfg.ImageBaseURL = "https://image.tmdb.org/t/p/w500"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.PostCallDelay <= 0 {
		cfg.PostCallDelay = 250 * time.Millisecond
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		cache:  store,
		logger: logger,
	}, nil
}

type findResponse struct {
	MovieResults []struct {
		ID int `json:"id"`
	} `json:"movie_results"`
	TVResults []struct {
		ID int `json:"id"`
	} `json:"tv_results"`
}

// FindByIMDbID maps an IMDb title id to a TMDB identity, preferring a
// movie match over a series match. Returns ErrNotFound when neither
// exists; negative results are not cached.
func (c *Client) FindByIMDbID(ctx context.Context, imdbID string) (Identity, error) {
	var cached Identity
	if hit, _ := c.cache.Get(ctx, cache.NamespaceFind, imdbID, &cached); hit {
		return cached, nil
	}

	params := url.Values{}
	params.Set("api_key", c.cfg.APIKey)
	params.Set("external_source", "imdb_id")

	var found findResponse
	endpoint := fmt.Sprintf("%s/find/%s?%s", c.cfg.BaseURL, url.PathEscape(imdbID), params.Encode())
	if err := c.getJSON(ctx, endpoint, &found); err != nil {
		return Identity{}, err
	}

	var identity Identity
	switch {
	case len(found.MovieResults) > 0:
		identity = Identity{TMDbID: found.MovieResults[0].ID, Type: catalog.TypeMovie}
	case len(found.TVResults) > 0:
		identity = Identity{TMDbID: found.TVResults[0].ID, Type: catalog.TypeSeries}
	default:
		return Identity{}, fmt.Errorf("%w: %s", ErrNotFound, imdbID)
	}

	if err := c.cache.Set(ctx, cache.NamespaceFind, imdbID, identity); err != nil {
		c.logger.Warn("cache identity failed", zap.Error(err))
	}
	return identity, nil
}

type detailResponse struct {
	Title        string  `json:"title"`
	Name         string  `json:"name"`
	ReleaseDate  string  `json:"release_date"`
	FirstAirDate string  `json:"first_air_date"`
	PosterPath   string  `json:"poster_path"`
	VoteAverage  float64 `json:"vote_average"`
	Genres       []struct {
		Name string `json:"name"`
	} `json:"genres"`
	Videos struct {
		Results []struct {
			Key  string `json:"key"`
			Site string `json:"site"`
			Type string `json:"type"`
		} `json:"results"`
	} `json:"videos"`
}

// Details fetches title metadata for a resolved identity, cached per
// (type, id). A fixed delay follows each live request.
func (c *Client) Details(ctx context.Context, identity Identity) (Metadata, error) {
	key := fmt.Sprintf("%s-%d", identity.Type, identity.TMDbID)

	var cached Metadata
	if hit, _ := c.cache.Get(ctx, cache.NamespaceMetadata, key, &cached); hit {
		return cached, nil
	}

	resource := "movie"
	if identity.Type == catalog.TypeSeries {
		resource = "tv"
	}
	params := url.Values{}
	params.Set("api_key", c.cfg.APIKey)
	params.Set("append_to_response", "videos")

	var detail detailResponse
	endpoint := fmt.Sprintf("%s/%s/%d?%s", c.cfg.BaseURL, resource, identity.TMDbID, params.Encode())
	if err := c.getJSON(ctx, endpoint, &detail); err != nil {
		return Metadata{}, err
	}
	c.pause(ctx)

	metadata := c.mapDetail(detail, identity.Type)
	if err := c.cache.Set(ctx, cache.NamespaceMetadata, key, metadata); err != nil {
		c.logger.Warn("cache metadata failed", zap.Error(err))
	}
	return metadata, nil
}

func (c *Client) mapDetail(detail detailResponse, contentType catalog.ContentType) Metadata {
	title := detail.Title
	releaseDate := detail.ReleaseDate
	if contentType == catalog.TypeSeries {
		title = detail.Name
		releaseDate = detail.FirstAirDate
	}

	genres := make([]string, 0, len(detail.Genres))
	for _, g := range detail.Genres {
		if g.Name != "" {
			genres = append(genres, g.Name)
		}
	}

	var poster string
	if detail.PosterPath != "" {
		poster = c.cfg.ImageBaseURL + detail.PosterPath
	}

	var trailer string
	for _, video := range detail.Videos.Results {
		if video.Site == "YouTube" && video.Type == "Trailer" {
			trailer = video.Key
			break
		}
	}

	return Metadata{
		Title:   title,
		Year:    parseYear(releaseDate),
		Genres:  genres,
		Poster:  poster,
		Trailer: trailer,
		Rating:  detail.VoteAverage,
	}
}

// parseYear extracts the leading year of a release-date string, defaulting
// to 0 when absent or malformed.
func parseYear(releaseDate string) int {
	if len(releaseDate) < 4 {
		return 0
	}
	year, err := strconv.Atoi(releaseDate[:4])
	if err != nil {
		return 0
	}
	return year
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build tmdb request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("tmdb request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, endpoint)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tmdb request: unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode tmdb response: %w", err)
	}
	return nil
}

func (c *Client) pause(ctx context.Context) {
	timer := time.NewTimer(c.cfg.PostCallDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
