package cache

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitescraper/internal/crawler"
)

type mapStore struct {
	mu     sync.Mutex
	items  map[string]*memcache.Item
	getErr error
	setErr error
}

func newMapStore() *mapStore {
	return &mapStore{items: map[string]*memcache.Item{}}
}

func (s *mapStore) Get(key string) (*memcache.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	item, ok := s.items[key]
	if !ok {
		return nil, memcache.ErrCacheMiss
	}
	return item, nil
}

func (s *mapStore) Set(item *memcache.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	s.items[item.Key] = item
	return nil
}

type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResult, error) {
	args := m.Called(ctx, request)
	return args.Get(0).(crawler.FetchResult), args.Error(1)
}

func TestFetchServesRepeatsFromCache(t *testing.T) {
	t.Parallel()

	const target = "https://Shop.example/es/bombas/#top"
	next := new(MockFetcher)
	headers := http.Header{"Content-Encoding": {"gzip"}, "Content-Type": {"text/html; charset=iso-8859-1"}}
	next.On("Fetch", mock.Anything, mock.Anything).
		Return(crawler.NewFetchResult("https://shop.example/es/bombas/", http.StatusOK, headers, []byte{0x1f, 0x8b, 1}), nil).Once()
	store := newMapStore()
	f, err := New(next, store, time.Hour, nil)
	require.NoError(t, err)

	first, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: target})
	require.NoError(t, err)
	second, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "https://shop.example/es/bombas/"})
	require.NoError(t, err)

	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, "gzip", second.ContentEncoding)
	assert.Equal(t, "iso-8859-1", second.Charset)
	require.Len(t, store.items, 1)
	for key, item := range store.items {
		assert.Equal(t, f.Key(target), key)
		assert.Equal(t, int32(3600), item.Expiration)
	}
	next.AssertExpectations(t)
}

func TestFetchDoesNotCacheFailures(t *testing.T) {
	t.Parallel()

	next := new(MockFetcher)
	failed := crawler.NewFetchResult("https://a.example/", http.StatusBadGateway, nil, nil)
	next.On("Fetch", mock.Anything, mock.Anything).
		Return(failed, crawler.CheckStatus(failed)).Twice()
	store := newMapStore()
	f, err := New(next, store, 0, nil)
	require.NoError(t, err)

	for range 2 {
		_, err = f.Fetch(context.Background(), crawler.FetchRequest{URL: "https://a.example/"})
		require.ErrorIs(t, err, crawler.ErrUnexpectedStatus)
	}
	assert.Empty(t, store.items)
	next.AssertExpectations(t)
}

func TestFetchFallsThroughOnStoreErrors(t *testing.T) {
	t.Parallel()

	next := new(MockFetcher)
	next.On("Fetch", mock.Anything, mock.Anything).
		Return(crawler.NewFetchResult("https://a.example/", http.StatusOK, nil, []byte("ok")), nil).Twice()
	store := newMapStore()
	store.getErr = errors.New("dial tcp: connection refused")
	store.setErr = store.getErr
	f, err := New(next, store, time.Minute, nil)
	require.NoError(t, err)

	for range 2 {
		result, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "https://a.example/"})
		require.NoError(t, err)
		assert.Equal(t, "ok", string(result.Body))
	}
	next.AssertExpectations(t)
}

func TestFetchIgnoresCorruptEntries(t *testing.T) {
	t.Parallel()

	next := new(MockFetcher)
	next.On("Fetch", mock.Anything, mock.Anything).
		Return(crawler.NewFetchResult("https://a.example/", http.StatusOK, nil, []byte("fresh")), nil).Once()
	store := newMapStore()
	f, err := New(next, store, time.Minute, nil)
	require.NoError(t, err)
	store.items[f.Key("https://a.example/")] = &memcache.Item{Value: []byte("{not json")}

	result, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "https://a.example/"})
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(result.Body))
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, newMapStore(), 0, nil)
	require.Error(t, err)
	_, err = New(new(MockFetcher), nil, 0, nil)
	require.Error(t, err)
	_, err = NewMemcache(new(MockFetcher), nil, 0, nil)
	require.Error(t, err)
}
