// Package config loads and validates enrichment configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Cache backend names accepted by cache.backend.
const (
	CacheBackendMemory   = "memory"
	CacheBackendFS       = "fs"
	CacheBackendSQLite   = "sqlite"
	CacheBackendPostgres = "postgres"
)

// Config captures all enrichment configuration knobs loaded via Viper.
type Config struct {
	Input    InputConfig    `mapstructure:"input"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	TMDB     TMDBConfig     `mapstructure:"tmdb"`
	Geocode  GeocodeConfig  `mapstructure:"geocode"`
	Scraper  ScraperConfig  `mapstructure:"scraper"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Backup   BackupConfig   `mapstructure:"backup"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Server   ServerConfig   `mapstructure:"server"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// InputConfig locates the id list to enrich.
type InputConfig struct {
	Path string `mapstructure:"path"`
}

// CatalogConfig sets the persisted catalog and resume paths.
type CatalogConfig struct {
	Path       string `mapstructure:"path"`
	ResumePath string `mapstructure:"resume_path"`
}

// TMDBConfig controls the metadata provider client.
type TMDBConfig struct {
	APIKey          string `mapstructure:"api_key"`
	BaseURL         string `mapstructure:"base_url"`
	ImageBaseURL    string `mapstructure:"image_base_url"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
	PostCallDelayMs int    `mapstructure:"post_call_delay_ms"`
}

// GeocodeConfig controls the Nominatim client and its shared queue.
type GeocodeConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	UserAgent      string `mapstructure:"user_agent"`
	MinIntervalMs  int    `mapstructure:"min_interval_ms"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ScraperConfig controls the locations page scraper.
type ScraperConfig struct {
	Headless          bool   `mapstructure:"headless"`
	BaseURL           string `mapstructure:"base_url"`
	UserAgent         string `mapstructure:"user_agent"`
	NavTimeoutSec     int    `mapstructure:"nav_timeout_seconds"`
	SettleDelaySec    int    `mapstructure:"settle_delay_seconds"`
	MaxExpandClicks   int    `mapstructure:"max_expand_clicks"`
	RequestTimeoutSec int    `mapstructure:"request_timeout_seconds"`
}

// CacheConfig selects and configures the lookup cache backend.
type CacheConfig struct {
	Backend  string              `mapstructure:"backend"`
	FS       FSCacheConfig       `mapstructure:"fs"`
	SQLite   SQLiteCacheConfig   `mapstructure:"sqlite"`
	Postgres PostgresCacheConfig `mapstructure:"postgres"`
}

// FSCacheConfig configures the filesystem cache backend.
type FSCacheConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// SQLiteCacheConfig configures the embedded database cache backend.
type SQLiteCacheConfig struct {
	Path string `mapstructure:"path"`
}

// PostgresCacheConfig configures the shared database cache backend.
type PostgresCacheConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PipelineConfig governs batching and resume behavior.
type PipelineConfig struct {
	BatchSize         int  `mapstructure:"batch_size"`
	RescrapeCompleted bool `mapstructure:"rescrape_completed"`
}

// BackupConfig configures the optional remote backup mirror.
type BackupConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for batch flush notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the catalog HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// MetricsConfig controls the enrich run's own metrics listener. Port 0
// disables it.
type MetricsConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FILMATLAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("input.path", "data/ids.txt")
	v.SetDefault("catalog.path", "data/catalog.json")
	v.SetDefault("catalog.resume_path", "data/resume.json")
	v.SetDefault("tmdb.base_url", "https://api.themoviedb.org/3")
	v.SetDefault("tmdb.image_base_url", "https://image.tmdb.org/t/p/w500")
	v.SetDefault("tmdb.timeout_seconds", 15)
	v.SetDefault("tmdb.post_call_delay_ms", 250)
	v.SetDefault("geocode.endpoint", "https://nominatim.openstreetmap.org/search")
	v.SetDefault("geocode.user_agent", "filmatlas/0.1 (filming-location enrichment)")
	v.SetDefault("geocode.min_interval_ms", 1100)
	v.SetDefault("geocode.timeout_seconds", 10)
	v.SetDefault("scraper.headless", true)
	v.SetDefault("scraper.base_url", "https://www.imdb.com")
	v.SetDefault("scraper.user_agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")
	v.SetDefault("scraper.nav_timeout_seconds", 25)
	v.SetDefault("scraper.settle_delay_seconds", 2)
	v.SetDefault("scraper.max_expand_clicks", 5)
	v.SetDefault("scraper.request_timeout_seconds", 15)
	v.SetDefault("cache.backend", CacheBackendFS)
	v.SetDefault("cache.fs.base_dir", "data/cache")
	v.SetDefault("cache.sqlite.path", "data/cache.db")
	v.SetDefault("pipeline.batch_size", 5)
	v.SetDefault("pipeline.rescrape_completed", false)
	v.SetDefault("backup.prefix", "backups")
	v.SetDefault("server.port", 8080)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.TMDB.APIKey == "" {
		return fmt.Errorf("tmdb.api_key must be set")
	}
	if c.Geocode.MinIntervalMs <= 0 {
		return fmt.Errorf("geocode.min_interval_ms must be > 0")
	}
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("pipeline.batch_size must be > 0")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Metrics.Port < 0 {
		return fmt.Errorf("metrics.port must be >= 0")
	}
	switch c.Cache.Backend {
	case CacheBackendMemory, CacheBackendFS, CacheBackendSQLite, CacheBackendPostgres:
	default:
		return fmt.Errorf("cache.backend must be one of memory, fs, sqlite, postgres")
	}
	if c.Cache.Backend == CacheBackendPostgres && c.Cache.Postgres.DSN == "" {
		return fmt.Errorf("cache.postgres.dsn must be set when cache.backend is postgres")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// TMDBTimeout converts the provider timeout config into a duration.
func (c Config) TMDBTimeout() time.Duration {
	return time.Duration(c.TMDB.TimeoutSeconds) * time.Second
}

// GeocodeMinInterval converts the queue interval config into a duration.
func (c Config) GeocodeMinInterval() time.Duration {
	return time.Duration(c.Geocode.MinIntervalMs) * time.Millisecond
}
