// Package config loads and validates sitescraper configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/sitescraper/internal/logging"
	pkgconfig "github.com/JakeFAU/sitescraper/pkg/config"
)

// Fetch backends.
const (
	BackendHTTP     = "http"
	BackendColly    = "colly"
	BackendHeadless = "headless"
)

// Config captures all settings shared by the commands.
type Config struct {
	Logging logging.Config `mapstructure:"logging"`
	Fetch   FetchConfig    `mapstructure:"fetch"`
	Crawl   CrawlConfig    `mapstructure:"crawl"`
	Profile string         `mapstructure:"profile"`
	Output  OutputConfig   `mapstructure:"output"`
	Cache   CacheConfig    `mapstructure:"cache"`
	Archive ArchiveConfig  `mapstructure:"archive"`
	Mirror  MirrorConfig   `mapstructure:"mirror"`
	Publish PublishConfig  `mapstructure:"publish"`
	Metrics MetricsConfig  `mapstructure:"metrics"`
}

// FetchConfig selects and tunes the fetch backend.
type FetchConfig struct {
	Backend          string            `mapstructure:"backend"`
	UserAgent        string            `mapstructure:"user_agent"`
	Timeout          time.Duration     `mapstructure:"timeout"`
	MaxBodyBytes     int64             `mapstructure:"max_body_bytes"`
	CloudflareBypass bool              `mapstructure:"cloudflare_bypass"`
	Headers          map[string]string `mapstructure:"headers"`
	DefaultCharset   string            `mapstructure:"default_charset"`
	DetectCharset    bool              `mapstructure:"detect_charset"`
	Retry            RetryConfig       `mapstructure:"retry"`
	Headless         HeadlessConfig    `mapstructure:"headless"`
}

// RetryConfig bounds fetch retries. MaxAttempts of 1 disables them.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// HeadlessConfig tunes the chromedp backend. Promote keeps the http or colly
// backend and re-fetches only pages that look like script shells.
type HeadlessConfig struct {
	WaitSelector string        `mapstructure:"wait_selector"`
	Settle       time.Duration `mapstructure:"settle"`
	Promote      bool          `mapstructure:"promote"`
}

// CrawlConfig holds politeness settings.
type CrawlConfig struct {
	Delay time.Duration `mapstructure:"delay"`
}

// OutputConfig overrides the profile's output paths.
type OutputConfig struct {
	Path        string `mapstructure:"path"`
	MissingPath string `mapstructure:"missing_path"`
}

// CacheConfig enables the memcache fetch cache.
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Servers []string      `mapstructure:"servers"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// ArchiveConfig selects where fetched pages are kept. An empty backend
// disables archiving.
type ArchiveConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// MirrorConfig configures the Postgres record mirror. An empty DSN disables it.
type MirrorConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	RunsTable       string        `mapstructure:"runs_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PublishConfig selects the record notification backend.
type PublishConfig struct {
	Backend string       `mapstructure:"backend"`
	PubSub  PubSubConfig `mapstructure:"pubsub"`
	Redis   RedisConfig  `mapstructure:"redis"`
}

// PubSubConfig names the Pub/Sub topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// RedisConfig names the Redis stream.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Stream   string `mapstructure:"stream"`
	MaxLen   int64  `mapstructure:"max_len"`
}

// MetricsConfig enables the HTTP status endpoint.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// Load builds a Config from disk and environment.
func Load(path string) (Config, error) {
	v, err := pkgconfig.New(path)
	if err != nil {
		return Config{}, fmt.Errorf("init config: %w", err)
	}
	return FromViper(v)
}

// FromViper unmarshals and validates v. Callers bind flags to v first.
func FromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.Fetch.Backend {
	case BackendHTTP, BackendColly, BackendHeadless:
	default:
		return fmt.Errorf("fetch.backend %q must be one of http, colly, headless", c.Fetch.Backend)
	}
	if c.Fetch.Timeout <= 0 {
		return errors.New("fetch.timeout must be > 0")
	}
	if c.Fetch.Retry.MaxAttempts < 1 {
		return errors.New("fetch.retry.max_attempts must be >= 1")
	}
	if c.Crawl.Delay < 0 {
		return errors.New("crawl.delay must be >= 0")
	}
	if c.Cache.Enabled && len(c.Cache.Servers) == 0 {
		return errors.New("cache.servers must be set when the cache is enabled")
	}
	switch c.Archive.Backend {
	case "":
	case "local":
		if c.Archive.Dir == "" {
			return errors.New("archive.dir is required for the local archive")
		}
	case "gcs":
		if c.Archive.Bucket == "" {
			return errors.New("archive.bucket is required for the gcs archive")
		}
	default:
		return fmt.Errorf("archive.backend %q must be local or gcs", c.Archive.Backend)
	}
	switch c.Publish.Backend {
	case "":
	case "pubsub":
		if c.Publish.PubSub.ProjectID == "" || c.Publish.PubSub.Topic == "" {
			return errors.New("publish.pubsub.project_id and topic are required")
		}
	case "redis":
		if c.Publish.Redis.Addr == "" {
			return errors.New("publish.redis.addr is required")
		}
	default:
		return fmt.Errorf("publish.backend %q must be pubsub or redis", c.Publish.Backend)
	}
	return nil
}

// HTTPHeaders returns the extra request headers.
func (f FetchConfig) HTTPHeaders() http.Header {
	h := http.Header{}
	for k, v := range f.Headers {
		h.Set(k, v)
	}
	return h
}
