package scrape

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/filmatlas/crawler/internal/cache"
)

// StaticConfig controls the fallback fetcher.
type StaticConfig struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// StaticSource fetches the locations page without JavaScript, for
// environments where headless Chrome is unavailable or disabled. The
// embedded page-data and heuristic strategies still work on the static
// HTML; collapsed sections simply stay collapsed.
type StaticSource struct {
	cfg           StaticConfig
	baseCollector *colly.Collector
	strategies    []Strategy
	cache         cache.Store
	logger        *zap.Logger
}

// NewStatic builds a StaticSource.
func NewStatic(cfg StaticConfig, store cache.Store, logger *zap.Logger) *StaticSource {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.imdb.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	return &StaticSource{
		cfg:           cfg,
		baseCollector: c,
		strategies:    DefaultStrategies(),
		cache:         store,
		logger:        logger,
	}
}

// Locations implements Source with the same caching and soft-failure
// semantics as the headless scraper.
func (s *StaticSource) Locations(ctx context.Context, imdbID string) ([]RawLocation, error) {
	var cached []RawLocation
	if hit, _ := s.cache.Get(ctx, cache.NamespaceLocations, imdbID, &cached); hit {
		return cached, nil
	}

	html, err := s.fetch(ctx, imdbID)
	if err != nil {
		s.logger.Warn("static location fetch failed",
			zap.String("imdb_id", imdbID),
			zap.Error(err),
		)
		return nil, nil
	}

	locations := s.extract(imdbID, html)
	if err := s.cache.Set(ctx, cache.NamespaceLocations, imdbID, locations); err != nil {
		s.logger.Warn("cache scraped locations failed", zap.Error(err))
	}
	return locations, nil
}

func (s *StaticSource) fetch(ctx context.Context, imdbID string) (string, error) {
	var (
		body     []byte
		fetchErr error
	)
	collector := s.baseCollector.Clone()
	collector.OnResponse(func(resp *colly.Response) {
		body = resp.Body
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	pageURL := fmt.Sprintf("%s/title/%s/locations/", s.cfg.BaseURL, imdbID)
	if err := collector.Visit(pageURL); err != nil {
		return "", fmt.Errorf("visit %s: %w", pageURL, err)
	}
	collector.Wait()

	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if fetchErr != nil {
		return "", fmt.Errorf("fetch %s: %w", pageURL, fetchErr)
	}
	if len(body) == 0 {
		return "", fmt.Errorf("fetch %s: empty response", pageURL)
	}
	return string(body), nil
}

func (s *StaticSource) extract(imdbID, html string) []RawLocation {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		s.logger.Warn("parse static page failed", zap.String("imdb_id", imdbID), zap.Error(err))
		return []RawLocation{}
	}
	for _, strategy := range s.strategies {
		if locations := strategy.Extract(doc); len(locations) > 0 {
			s.logger.Debug("locations extracted",
				zap.String("imdb_id", imdbID),
				zap.String("strategy", strategy.Name),
				zap.Int("count", len(locations)),
			)
			return locations
		}
	}
	return []RawLocation{}
}
