// Package cache wraps a crawler.Fetcher with a memcached response cache.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitescraper/internal/crawler"
	"github.com/JakeFAU/sitescraper/internal/hash/sha256"
)

const keyPrefix = "sitescraper:fetch:"

// Store is the subset of *memcache.Client the cache uses.
type Store interface {
	Get(key string) (*memcache.Item, error)
	Set(item *memcache.Item) error
}

// entry is the cached form of a successful fetch.
type entry struct {
	URL     string      `json:"url"`
	Status  int         `json:"status"`
	Headers http.Header `json:"headers"`
	Body    []byte      `json:"body"`
}

// Fetcher serves repeated URLs from memcached. Cache failures are logged
// and fall through to the wrapped fetcher.
type Fetcher struct {
	next   crawler.Fetcher
	store  Store
	ttl    time.Duration
	hasher *sha256.Hasher
	logger *zap.Logger
}

// New wraps next. A ttl of zero keeps entries until memcached evicts them.
func New(next crawler.Fetcher, store Store, ttl time.Duration, logger *zap.Logger) (*Fetcher, error) {
	if next == nil {
		return nil, errors.New("wrapped fetcher is required")
	}
	if store == nil {
		return nil, errors.New("cache store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{next: next, store: store, ttl: ttl, hasher: sha256.New(), logger: logger.Named("fetch_cache")}, nil
}

// NewMemcache connects to the given memcached servers.
func NewMemcache(next crawler.Fetcher, servers []string, ttl time.Duration, logger *zap.Logger) (*Fetcher, error) {
	if len(servers) == 0 {
		return nil, errors.New("at least one memcached server is required")
	}
	return New(next, memcache.New(servers...), ttl, logger)
}

// Key returns the cache key for rawURL.
func (f *Fetcher) Key(rawURL string) string {
	if canonical, err := crawler.NormalizeURL(rawURL); err == nil {
		rawURL = canonical
	}
	return keyPrefix + f.hasher.HashString(rawURL)
}

// Fetch implements crawler.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResult, error) {
	key := f.Key(request.URL)
	if result, ok := f.lookup(key, request.URL); ok {
		return result, nil
	}
	result, err := f.next.Fetch(ctx, request)
	if err != nil {
		return result, err
	}
	f.save(key, result)
	return result, nil
}

func (f *Fetcher) lookup(key, rawURL string) (crawler.FetchResult, bool) {
	item, err := f.store.Get(key)
	switch {
	case errors.Is(err, memcache.ErrCacheMiss):
		return crawler.FetchResult{}, false
	case err != nil:
		f.logger.Warn("cache get failed", zap.String("url", rawURL), zap.Error(err))
		return crawler.FetchResult{}, false
	}
	var e entry
	if err := json.Unmarshal(item.Value, &e); err != nil {
		f.logger.Warn("cache entry unreadable", zap.String("url", rawURL), zap.Error(err))
		return crawler.FetchResult{}, false
	}
	f.logger.Debug("cache hit", zap.String("url", rawURL))
	return crawler.NewFetchResult(e.URL, e.Status, e.Headers, e.Body), true
}

func (f *Fetcher) save(key string, result crawler.FetchResult) {
	value, err := json.Marshal(entry{
		URL:     result.URL,
		Status:  result.StatusCode,
		Headers: result.Headers,
		Body:    result.Body,
	})
	if err != nil {
		f.logger.Warn("cache encode failed", zap.String("url", result.URL), zap.Error(err))
		return
	}
	if err := f.store.Set(&memcache.Item{Key: key, Value: value, Expiration: int32(f.ttl.Seconds())}); err != nil {
		f.logger.Warn("cache set failed", zap.String("url", result.URL), zap.Error(err))
	}
}
