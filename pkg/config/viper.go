// Package config builds the Viper instance behind the sitescraper CLI. It reads
// settings from an optional config file and SITESCRAPER_* environment
// variables on top of the defaults below.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. SITESCRAPER_FETCH_BACKEND.
const EnvPrefix = "SITESCRAPER"

// DefaultUserAgent is sent when fetch.user_agent is unset.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// New returns a Viper instance with defaults, env binding and, when path is
// set, that file loaded. With an empty path the usual search locations are
// tried and a missing file is not an error.
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		return v, nil
	}

	v.SetConfigName("sitescraper")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/sitescraper/")
	v.AddConfigPath("$HOME/.sitescraper")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// SetDefaults registers every default so env-only overrides unmarshal too.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)

	v.SetDefault("fetch.backend", "http")
	v.SetDefault("fetch.user_agent", DefaultUserAgent)
	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("fetch.max_body_bytes", 10<<20)
	v.SetDefault("fetch.cloudflare_bypass", false)
	v.SetDefault("fetch.headers", map[string]string{})
	v.SetDefault("fetch.default_charset", "windows-1252")
	v.SetDefault("fetch.detect_charset", true)
	v.SetDefault("fetch.retry.max_attempts", 1)
	v.SetDefault("fetch.retry.base_delay", 2*time.Second)
	v.SetDefault("fetch.retry.max_delay", 30*time.Second)
	v.SetDefault("fetch.headless.wait_selector", "body")
	v.SetDefault("fetch.headless.settle", 500*time.Millisecond)
	v.SetDefault("fetch.headless.promote", false)

	v.SetDefault("crawl.delay", 3*time.Second)

	v.SetDefault("profile", "")
	v.SetDefault("output.path", "")
	v.SetDefault("output.missing_path", "")

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.servers", []string{"127.0.0.1:11211"})
	v.SetDefault("cache.ttl", 6*time.Hour)

	v.SetDefault("archive.backend", "")
	v.SetDefault("archive.dir", "data/pages")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "pages")

	v.SetDefault("mirror.dsn", "")
	v.SetDefault("mirror.table", "scraped_records")
	v.SetDefault("mirror.runs_table", "scrape_runs")
	v.SetDefault("mirror.max_conns", 4)

	v.SetDefault("publish.backend", "")
	v.SetDefault("publish.pubsub.project_id", "")
	v.SetDefault("publish.pubsub.topic", "")
	v.SetDefault("publish.redis.addr", "")
	v.SetDefault("publish.redis.db", 0)
	v.SetDefault("publish.redis.stream", "sitescraper:records")
	v.SetDefault("publish.redis.max_len", 0)

	v.SetDefault("metrics.listen_addr", "")
}
