package geocode

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
	"github.com/filmatlas/crawler/internal/geoqueue"
)

// ErrUnresolved indicates the whole cascade yielded nothing; the caller
// drops the location without failing the item.
var ErrUnresolved = errors.New("geocode: no query in cascade yielded a result")

// Result is one geocoded place. City and Country are never empty;
// "Unknown" stands in for unresolved fields.
type Result struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	City    string  `json:"city"`
	Country string  `json:"country"`
}

// Config controls the Nominatim client.
type Config struct {
	Endpoint  string
	UserAgent string
	Timeout   time.Duration
}

// Resolver converts raw place mentions to coordinates. Every outbound
// request goes through the shared queue; every successful query result is
// cached under the normalized query text.
type Resolver struct {
	cfg    Config
	client *http.Client
	queue  *geoqueue.Queue
	cache  cache.Store
	logger *zap.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(cfg Config, queue *geoqueue.Queue, store cache.Store, logger *zap.Logger) *Resolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Resolver{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		queue:  queue,
		cache:  store,
		logger: logger,
	}
}

type nominatimResult struct {
	Lat     string `json:"lat"`
	Lon     string `json:"lon"`
	Address struct {
		City    string `json:"city"`
		Town    string `json:"town"`
		Village string `json:"village"`
		County  string `json:"county"`
		State   string `json:"state"`
		Country string `json:"country"`
	} `json:"address"`
}

// Resolve tries the cascade for place left to right, returning the first
// query that yields a result. Network errors on one query fall through to
// the next; ErrUnresolved is returned once the cascade is exhausted.
func (r *Resolver) Resolve(ctx context.Context, place string) (Result, error) {
	segments := splitSegments(place)
	fallbackCity := "Unknown"
	if len(segments) > 0 {
		fallbackCity = segments[0]
	}

	for _, query := range Cascade(place) {
		key := CacheKey(query)

		var cached Result
		if hit, _ := r.cache.Get(ctx, cache.NamespaceGeocode, key, &cached); hit {
			return cached, nil
		}

		value, err := r.queue.Do(ctx, func(jobCtx context.Context) (any, error) {
			return r.search(jobCtx, query)
		})
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			r.logger.Debug("geocode query failed",
				zap.String("query", query),
				zap.Error(err),
			)
			continue
		}

		hit, ok := value.(*nominatimResult)
		if !ok || hit == nil {
			continue
		}

		result, err := mapResult(hit, fallbackCity)
		if err != nil {
			r.logger.Debug("geocode result unusable",
				zap.String("query", query),
				zap.Error(err),
			)
			continue
		}
		if err := r.cache.Set(ctx, cache.NamespaceGeocode, key, result); err != nil {
			r.logger.Warn("cache geocode result failed", zap.Error(err))
		}
		return result, nil
	}
	return Result{}, ErrUnresolved
}

// search performs one Nominatim request. A nil result with nil error means
// the query matched nothing.
func (r *Resolver) search(ctx context.Context, query string) (*nominatimResult, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "jsonv2")
	params.Set("limit", "1")
	params.Set("addressdetails", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.Endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build geocode request: %w", err)
	}
	req.Header.Set("User-Agent", r.cfg.UserAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocode request: unexpected status %d", resp.StatusCode)
	}

	var results []nominatimResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("decode geocode response: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	return &results[0], nil
}

func mapResult(hit *nominatimResult, fallbackCity string) (Result, error) {
	lat, err := strconv.ParseFloat(hit.Lat, 64)
	if err != nil {
		return Result{}, fmt.Errorf("parse latitude %q: %w", hit.Lat, err)
	}
	lng, err := strconv.ParseFloat(hit.Lon, 64)
	if err != nil {
		return Result{}, fmt.Errorf("parse longitude %q: %w", hit.Lon, err)
	}

	city := firstNonEmpty(
		hit.Address.City,
		hit.Address.Town,
		hit.Address.Village,
		hit.Address.County,
		hit.Address.State,
		fallbackCity,
	)
	country := hit.Address.Country
	if country == "" {
		country = "Unknown"
	}
	return Result{Lat: lat, Lng: lng, City: city, Country: country}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return "Unknown"
}
