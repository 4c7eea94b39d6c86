// Package scrape extracts raw filming-location mentions from the IMDb
// locations page, preferring a headless browser session with a static
// fetch fallback.
package scrape

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/filmatlas/crawler/internal/cache"
)

// RawLocation is one scraped mention: the place text plus an optional
// scene description.
type RawLocation struct {
	Place string `json:"place"`
	Scene string `json:"scene,omitempty"`
}

// Source produces the raw location mentions for a title.
type Source interface {
	Locations(ctx context.Context, imdbID string) ([]RawLocation, error)
}

// Config controls the headless scraper.
type Config struct {
	BaseURL         string
	UserAgent       string
	NavTimeout      time.Duration
	SettleDelay     time.Duration
	MaxExpandClicks int
}

// Selector patterns tried for the "show more" control, most specific
// first. The page markup shifts between releases.
var expandSelectors = []string{
	"span.chained-see-more-button button",
	"button.ipc-see-more__button",
	"button[data-testid='see-more-button']",
}

// Scraper drives an isolated headless Chrome session per title.
type Scraper struct {
	cfg         Config
	allocator   context.Context
	allocCancel context.CancelFunc
	strategies  []Strategy
	cache       cache.Store
	logger      *zap.Logger
}

// New creates a Scraper backed by a shared Chrome exec allocator. Each
// Locations call gets its own browser session.
func New(cfg Config, store cache.Store, logger *zap.Logger) (*Scraper, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.imdb.com"
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 25 * time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 2 * time.Second
	}
	if cfg.MaxExpandClicks <= 0 {
		cfg.MaxExpandClicks = 5
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Scraper{
		cfg:         cfg,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		strategies:  DefaultStrategies(),
		cache:       store,
		logger:      logger,
	}, nil
}

// Close cancels the allocator context, tearing down any remaining Chrome
// processes.
func (s *Scraper) Close() {
	s.allocCancel()
}

// Locations returns the raw mentions for imdbID. Cached lists are
// returned immediately. Navigation failures are soft: they yield an empty
// list and are not cached, so the next run retries. Extracted lists are
// cached even when empty, to avoid re-scraping genuinely location-less
// pages.
func (s *Scraper) Locations(ctx context.Context, imdbID string) ([]RawLocation, error) {
	var cached []RawLocation
	if hit, _ := s.cache.Get(ctx, cache.NamespaceLocations, imdbID, &cached); hit {
		return cached, nil
	}

	html, err := s.snapshot(ctx, imdbID)
	if err != nil {
		s.logger.Warn("location page navigation failed",
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

// snapshot renders the locations page and returns the DOM after expanding
// collapsed sections. The session is always torn down, success or failure.
func (s *Scraper) snapshot(ctx context.Context, imdbID string) (string, error) {
	taskCtx, taskCancel := chromedp.NewContext(s.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, s.cfg.NavTimeout)
	defer cancel()

	stop := forwardCancel(ctx, cancel)
	defer stop()

	pageURL := fmt.Sprintf("%s/title/%s/locations/", s.cfg.BaseURL, imdbID)
	actions := []chromedp.Action{
		s.networkSetupAction(),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return "", fmt.Errorf("navigate %s: %w", pageURL, err)
	}

	s.expandAll(taskCtx)

	var html string
	if err := chromedp.Run(taskCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("capture dom: %w", err)
	}
	return html, nil
}

// expandAll clicks the "show more" control until it disappears, bounded so
// a page that never stabilizes still terminates.
func (s *Scraper) expandAll(ctx context.Context) {
	for i := 0; i < s.cfg.MaxExpandClicks; i++ {
		selector, found := s.findExpandControl(ctx)
		if !found {
			return
		}
		err := chromedp.Run(ctx,
			chromedp.ScrollIntoView(selector, chromedp.ByQuery),
			chromedp.Click(selector, chromedp.ByQuery),
			chromedp.Sleep(s.cfg.SettleDelay),
		)
		if err != nil {
			s.logger.Debug("expand click failed", zap.String("selector", selector), zap.Error(err))
			return
		}
	}
}

func (s *Scraper) findExpandControl(ctx context.Context) (string, bool) {
	for _, selector := range expandSelectors {
		var nodes []*cdp.Node
		err := chromedp.Run(ctx,
			chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)),
		)
		if err != nil {
			continue
		}
		if len(nodes) > 0 {
			return selector, true
		}
	}
	return "", false
}

func (s *Scraper) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if s.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// extract runs the strategy chain over the snapshot; the first strategy
// producing a non-empty list wins. A chain that matches nothing is a
// parse mismatch, reported as an empty list rather than an error.
func (s *Scraper) extract(imdbID, html string) []RawLocation {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		s.logger.Warn("parse snapshot failed", zap.String("imdb_id", imdbID), zap.Error(err))
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
	s.logger.Info("no locations found on page", zap.String("imdb_id", imdbID))
	return []RawLocation{}
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
