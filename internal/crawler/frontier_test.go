package crawler

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	mu       sync.Mutex
	statuses map[string]int
	errs     map[string]error
	calls    map[string]int
	order    []string
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		statuses: map[string]int{},
		errs:     map[string]error{},
		calls:    map[string]int{},
	}
}

func (s *stubFetcher) Fetch(_ context.Context, request FetchRequest) (FetchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[request.URL]++
	s.order = append(s.order, request.URL)
	if err, ok := s.errs[request.URL]; ok {
		return FetchResult{}, err
	}
	status := http.StatusOK
	if code, ok := s.statuses[request.URL]; ok {
		status = code
	}
	return NewFetchResult(request.URL, status, http.Header{"Content-Type": {"text/html"}}, []byte("<html>"+request.URL+"</html>")), nil
}

func (s *stubFetcher) count(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[url]
}

type textNormalizer struct{}

func (textNormalizer) Normalize(result FetchResult) Document {
	return Document{URL: result.URL, Text: string(result.Body), Charset: "utf-8"}
}

type mapClassifier struct {
	pages map[string]Classification
	fail  map[string]bool
}

func (m mapClassifier) Classify(node *Node, _ Document) (Classification, error) {
	if m.fail[node.URL] {
		return Classification{}, errors.New("unparseable listing")
	}
	return m.pages[node.URL], nil
}

func category(url, name string) *Node {
	return &Node{URL: url, Name: name}
}

func item(title, detail, code string) Item {
	return Item{Title: title, DetailURL: detail, Code: code}
}

func newTestFrontier(t *testing.T, cfg Config, fetcher Fetcher, classifier Classifier) *Frontier {
	t.Helper()
	session, err := NewSession(fetcher, textNormalizer{})
	require.NoError(t, err)
	frontier, err := NewFrontier(cfg, session, classifier, nil)
	require.NoError(t, err)
	return frontier
}

func collect(items *[]Item) ItemHandler {
	return func(_ context.Context, it Item) error {
		*items = append(*items, it)
		return nil
	}
}

func titles(items []Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Title)
	}
	return out
}

func TestFrontierEmitsItemsBeforeDescending(t *testing.T) {
	t.Parallel()

	fetcher := newStubFetcher()
	classifier := mapClassifier{pages: map[string]Classification{
		"https://shop.example.com/catalog": {
			Items:         []Item{item("pump", "https://shop.example.com/p/pump", "")},
			Subcategories: []*Node{category("https://shop.example.com/c/a", "Valves"), category("https://shop.example.com/c/b", "Hoses")},
		},
		"https://shop.example.com/c/a": {Items: []Item{item("valve", "https://shop.example.com/p/valve", "")}},
		"https://shop.example.com/c/b": {Items: []Item{item("hose", "https://shop.example.com/p/hose", "")}},
	}}
	frontier := newTestFrontier(t, Config{MaxDepth: 2}, fetcher, classifier)

	var got []Item
	stats, err := frontier.Crawl(context.Background(), &Node{URL: "https://shop.example.com/catalog", Name: "Catalog"}, collect(&got))
	require.NoError(t, err)

	assert.Equal(t, []string{"pump", "valve", "hose"}, titles(got))
	assert.Equal(t, "Catalog > Valves", got[1].Node.Parent.Path())
	assert.Equal(t, "Catalog > Valves > valve", got[1].Node.Path())
	assert.Equal(t, KindItem, got[1].Node.Kind)
	assert.Equal(t, 3, stats.NodesFetched)
	assert.Equal(t, 3, stats.Items)
	assert.Equal(t, []string{
		"https://shop.example.com/catalog",
		"https://shop.example.com/c/a",
		"https://shop.example.com/c/b",
	}, fetcher.order)
}

func TestFrontierFetchesCanonicalURLOnce(t *testing.T) {
	t.Parallel()

	fetcher := newStubFetcher()
	classifier := mapClassifier{pages: map[string]Classification{
		"https://shop.example.com/catalog": {Subcategories: []*Node{
			category("https://shop.example.com/c/a", "A"),
			category("https://SHOP.example.com:443/c/a#top", "A again"),
			category("https://shop.example.com/c/b", "B"),
		}},
		"https://shop.example.com/c/b": {Subcategories: []*Node{
			category("https://shop.example.com/c/a", "A from B"),
			category("https://shop.example.com/catalog", "Back to root"),
		}},
	}}
	frontier := newTestFrontier(t, Config{MaxDepth: 3}, fetcher, classifier)

	_, err := frontier.Crawl(context.Background(), category("https://shop.example.com/catalog", "Catalog"), collect(new([]Item)))
	require.NoError(t, err)

	assert.Equal(t, 1, fetcher.count("https://shop.example.com/c/a"))
	assert.Equal(t, 1, fetcher.count("https://shop.example.com/c/b"))
	assert.Equal(t, 1, fetcher.count("https://shop.example.com/catalog"))
}

func TestFrontierToleratesSiblingFailure(t *testing.T) {
	t.Parallel()

	fetcher := newStubFetcher()
	fetcher.statuses["https://shop.example.com/c/broken"] = http.StatusInternalServerError
	fetcher.errs["https://shop.example.com/c/offline"] = errors.New("connection refused")
	classifier := mapClassifier{
		pages: map[string]Classification{
			"https://shop.example.com/catalog": {Subcategories: []*Node{
				category("https://shop.example.com/c/broken", "Broken"),
				category("https://shop.example.com/c/offline", "Offline"),
				category("https://shop.example.com/c/garbled", "Garbled"),
				category("https://shop.example.com/c/ok", "OK"),
			}},
			"https://shop.example.com/c/ok": {
				Items:         []Item{item("filter", "", "F-1")},
				Subcategories: []*Node{category("https://shop.example.com/c/ok/deep", "Deep")},
			},
			"https://shop.example.com/c/ok/deep": {Items: []Item{item("seal", "", "S-1")}},
		},
		fail: map[string]bool{"https://shop.example.com/c/garbled": true},
	}
	frontier := newTestFrontier(t, Config{MaxDepth: 2}, fetcher, classifier)

	var got []Item
	stats, err := frontier.Crawl(context.Background(), category("https://shop.example.com/catalog", ""), collect(&got))
	require.NoError(t, err)

	assert.Equal(t, []string{"filter", "seal"}, titles(got))
	assert.Equal(t, 3, stats.NodesFailed)
	assert.Equal(t, 4, stats.NodesFetched)
}

func TestFrontierBoundsDepthAndSiblings(t *testing.T) {
	t.Parallel()

	pages := map[string]Classification{
		"https://shop.example.com/catalog": {Subcategories: []*Node{
			category("https://shop.example.com/c/1", "One"),
			category("https://shop.example.com/c/2", "Two"),
			category("https://shop.example.com/c/3", "Three"),
		}},
		"https://shop.example.com/c/1": {Subcategories: []*Node{category("https://shop.example.com/c/1/1", "One.One")}},
	}

	t.Run("MaxDepth", func(t *testing.T) {
		t.Parallel()
		fetcher := newStubFetcher()
		frontier := newTestFrontier(t, Config{MaxDepth: 1}, fetcher, mapClassifier{pages: pages})

		_, err := frontier.Crawl(context.Background(), category("https://shop.example.com/catalog", ""), collect(new([]Item)))
		require.NoError(t, err)
		assert.Equal(t, 1, fetcher.count("https://shop.example.com/c/1"))
		assert.Zero(t, fetcher.count("https://shop.example.com/c/1/1"))
	})

	t.Run("MaxSiblings", func(t *testing.T) {
		t.Parallel()
		fetcher := newStubFetcher()
		frontier := newTestFrontier(t, Config{MaxDepth: 2, MaxSiblings: 2}, fetcher, mapClassifier{pages: pages})

		_, err := frontier.Crawl(context.Background(), category("https://shop.example.com/catalog", ""), collect(new([]Item)))
		require.NoError(t, err)
		assert.Equal(t, 1, fetcher.count("https://shop.example.com/c/1/1"))
		assert.Equal(t, 1, fetcher.count("https://shop.example.com/c/2"))
		assert.Zero(t, fetcher.count("https://shop.example.com/c/3"))
	})
}

func TestFrontierRepeatedNavKeepsSiblingsAtTheirLevel(t *testing.T) {
	t.Parallel()

	nav := func(extra ...*Node) []*Node {
		return append([]*Node{
			category("https://shop.example.com/c/a", "Pumps"),
			category("https://shop.example.com/c/b", "Hydraulics"),
		}, extra...)
	}
	classifier := mapClassifier{pages: map[string]Classification{
		"https://shop.example.com/catalog": {Subcategories: nav()},
		"https://shop.example.com/c/a":     {Subcategories: nav(category("https://shop.example.com/c/a1", "Pumps.Small"))},
		"https://shop.example.com/c/b":     {Subcategories: nav(category("https://shop.example.com/c/b1", "Hydraulics.Seals"))},
		"https://shop.example.com/c/a1":    {Items: []Item{item("ball", "", "P-1")}},
		"https://shop.example.com/c/b1":    {Items: []Item{item("hyd", "", "H-1")}},
	}}
	fetcher := newStubFetcher()
	frontier := newTestFrontier(t, Config{MaxDepth: 2, MaxSiblings: 2}, fetcher, classifier)

	var got []Item
	stats, err := frontier.Crawl(context.Background(), category("https://shop.example.com/catalog", "Catalog"), collect(&got))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://shop.example.com/catalog",
		"https://shop.example.com/c/a",
		"https://shop.example.com/c/a1",
		"https://shop.example.com/c/b",
		"https://shop.example.com/c/b1",
	}, fetcher.order)
	assert.Equal(t, []string{"ball", "hyd"}, titles(got))
	assert.Equal(t, "Catalog > Hydraulics", got[1].Node.Parent.Parent.Path())
	assert.Equal(t, 4, stats.NodesSkipped)
}

func TestFrontierItemDedupChain(t *testing.T) {
	t.Parallel()

	fetcher := newStubFetcher()
	classifier := mapClassifier{pages: map[string]Classification{
		"https://shop.example.com/catalog": {
			Items: []Item{
				item("a", "https://shop.example.com/p/1", "X"),
				item("a-dup-url", "https://shop.example.com/p/1#reviews", "Y"),
				item("b", "", "CODE-9"),
				item("b-dup-code", "", "CODE-9"),
				item("titled", "", ""),
				item("titled", "", ""),
				item("", "", ""),
				item("", "", ""),
			},
		},
	}}
	frontier := newTestFrontier(t, Config{}, fetcher, classifier)

	var got []Item
	stats, err := frontier.Crawl(context.Background(), category("https://shop.example.com/catalog", ""), collect(&got))
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "titled", "", ""}, titles(got))
	assert.Equal(t, 3, stats.DuplicateItem)
}

func TestFrontierHandlerErrorAborts(t *testing.T) {
	t.Parallel()

	fetcher := newStubFetcher()
	classifier := mapClassifier{pages: map[string]Classification{
		"https://shop.example.com/catalog": {
			Items:         []Item{item("a", "", "1")},
			Subcategories: []*Node{category("https://shop.example.com/c/1", "One")},
		},
	}}
	frontier := newTestFrontier(t, Config{MaxDepth: 2}, fetcher, classifier)
	diskFull := errors.New("disk full")

	_, err := frontier.Crawl(context.Background(), category("https://shop.example.com/catalog", ""), func(context.Context, Item) error {
		return diskFull
	})
	require.ErrorIs(t, err, diskFull)
	assert.Zero(t, fetcher.count("https://shop.example.com/c/1"))
}

func TestFrontierStopsWhenCanceled(t *testing.T) {
	t.Parallel()

	fetcher := newStubFetcher()
	classifier := mapClassifier{pages: map[string]Classification{
		"https://shop.example.com/catalog": {
			Items:         []Item{item("a", "", "1")},
			Subcategories: []*Node{category("https://shop.example.com/c/1", "One")},
		},
	}}
	frontier := newTestFrontier(t, Config{MaxDepth: 2}, fetcher, classifier)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := frontier.Crawl(ctx, category("https://shop.example.com/catalog", ""), func(context.Context, Item) error {
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, fetcher.count("https://shop.example.com/c/1"))
}

func TestFrontierRequiresCollaborators(t *testing.T) {
	t.Parallel()

	session, err := NewSession(newStubFetcher(), textNormalizer{})
	require.NoError(t, err)

	_, err = NewFrontier(Config{}, nil, mapClassifier{}, nil)
	require.Error(t, err)
	_, err = NewFrontier(Config{}, session, nil, nil)
	require.Error(t, err)

	frontier, err := NewFrontier(Config{MaxDepth: -1}, session, mapClassifier{}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxDepth, frontier.cfg.MaxDepth)

	_, err = frontier.Crawl(context.Background(), &Node{}, collect(new([]Item)))
	require.Error(t, err)
}

type countingPacer struct {
	waits int
}

func (p *countingPacer) Wait(ctx context.Context) error {
	p.waits++
	return ctx.Err()
}

func TestFrontierPacesEveryFetch(t *testing.T) {
	t.Parallel()

	fetcher := newStubFetcher()
	classifier := mapClassifier{pages: map[string]Classification{
		"https://shop.example.com/catalog": {Subcategories: []*Node{
			category("https://shop.example.com/c/1", "One"),
			category("https://shop.example.com/c/2", "Two"),
		}},
	}}
	pacer := &countingPacer{}
	session, err := NewSession(fetcher, textNormalizer{}, WithPacer(pacer))
	require.NoError(t, err)
	frontier, err := NewFrontier(Config{MaxDepth: 2}, session, classifier, nil)
	require.NoError(t, err)

	_, err = frontier.Crawl(context.Background(), category("https://shop.example.com/catalog", ""), collect(new([]Item)))
	require.NoError(t, err)
	assert.Equal(t, 3, pacer.waits)
}
