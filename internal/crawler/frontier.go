package crawler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitescraper/internal/metrics"
)

// Traversal defaults.
const (
	DefaultMaxDepth    = 2
	DefaultMaxSiblings = 10
)

// Config bounds a crawl. MaxDepth counts from the root at depth 0.
// MaxSiblings caps the subcategories explored under one parent; 0 means no cap.
type Config struct {
	MaxDepth    int
	MaxSiblings int
}

// Frontier walks a category tree one node at a time.
type Frontier struct {
	cfg        Config
	session    *Session
	classifier Classifier
	logger     *zap.Logger
}

// NewFrontier builds a Frontier. A negative MaxDepth falls back to the default.
func NewFrontier(cfg Config, session *Session, classifier Classifier, logger *zap.Logger) (*Frontier, error) {
	if session == nil {
		return nil, errors.New("session is required")
	}
	if classifier == nil {
		return nil, errors.New("classifier is required")
	}
	if cfg.MaxDepth < 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.MaxSiblings < 0 {
		cfg.MaxSiblings = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Frontier{
		cfg:        cfg,
		session:    session,
		classifier: classifier,
		logger:     logger,
	}, nil
}

// run holds the per-crawl dedup state.
type run struct {
	visited visitTracker
	items   map[string]struct{}
	handle  ItemHandler
	stats   Stats
}

// Crawl traverses from root and hands each distinct item to handle.
// Fetch and classification failures are logged and skipped; only context
// cancellation and handler errors stop the crawl.
func (f *Frontier) Crawl(ctx context.Context, root *Node, handle ItemHandler) (Stats, error) {
	if root == nil || root.URL == "" {
		return Stats{}, errors.New("root node with a URL is required")
	}
	if handle == nil {
		return Stats{}, errors.New("item handler is required")
	}
	r := &run{
		visited: newConcurrentVisitTracker(),
		items:   make(map[string]struct{}),
		handle:  handle,
	}
	start := *root
	start.Kind = KindCategory
	var err error
	if f.claim(&start, r) {
		err = f.visit(ctx, &start, r)
	}
	f.logger.Info("crawl finished",
		zap.Int("nodes_fetched", r.stats.NodesFetched),
		zap.Int("nodes_failed", r.stats.NodesFailed),
		zap.Int("nodes_empty", r.stats.NodesEmpty),
		zap.Int("nodes_skipped", r.stats.NodesSkipped),
		zap.Int("items", r.stats.Items),
		zap.Int("duplicate_items", r.stats.DuplicateItem),
	)
	return r.stats, err
}

// claim canonicalizes node.URL and marks it as enqueued. It reports false
// for invalid URLs and for URLs some other node already claimed.
func (f *Frontier) claim(node *Node, r *run) bool {
	canonical, err := NormalizeURL(node.URL)
	if err != nil {
		f.logger.Warn("skipping node with invalid URL", zap.String("url", node.URL), zap.Error(err))
		r.stats.NodesFailed++
		metrics.ObserveNode(string(StateFetchFailed))
		return false
	}
	node.URL = canonical
	if !r.visited.MarkIfNew(canonical) {
		r.stats.NodesSkipped++
		metrics.ObserveNode(string(StateDuplicate))
		f.logger.Debug("node already enqueued", zap.String("url", canonical))
		return false
	}
	return true
}

// visit fetches and expands a node that was already claimed.
func (f *Frontier) visit(ctx context.Context, node *Node, r *run) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("crawl canceled: %w", err)
	}
	canonical := node.URL
	logger := f.logger.With(
		zap.String("url", canonical),
		zap.Int("depth", node.Depth),
		zap.String("path", node.Path()),
	)
	page, err := f.session.Get(ctx, canonical)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("crawl canceled: %w", ctxErr)
		}
		r.stats.NodesFailed++
		metrics.ObserveNode(string(StateFetchFailed))
		logger.Warn("node fetch failed", zap.Int("attempts", page.Attempts), zap.Error(err))
		return nil
	}
	r.stats.NodesFetched++
	r.stats.Retries += page.Attempts - 1

	cls, err := f.classifier.Classify(node, page.Doc)
	if err != nil {
		r.stats.NodesFailed++
		metrics.ObserveNode(string(StateFetchFailed))
		logger.Warn("node classification failed", zap.Error(err))
		return nil
	}
	if cls.Empty() {
		r.stats.NodesEmpty++
		metrics.ObserveNode(string(StateEmpty))
		logger.Info("no items or subcategories")
		return nil
	}

	if err := f.emitItems(ctx, node, cls.Items, r, logger); err != nil {
		return err
	}

	if len(cls.Subcategories) == 0 {
		metrics.ObserveNode(string(StateLeaf))
		return nil
	}
	metrics.ObserveNode(string(StateExpanded))
	if node.Depth >= f.cfg.MaxDepth {
		logger.Debug("depth limit reached", zap.Int("subcategories", len(cls.Subcategories)))
		return nil
	}
	return f.descend(ctx, node, cls.Subcategories, r, logger)
}

func (f *Frontier) emitItems(ctx context.Context, parent *Node, items []Item, r *run, logger *zap.Logger) error {
	emitted := 0
	for _, item := range items {
		if item.Node == nil {
			item.Node = &Node{URL: item.DetailURL, Name: item.Title, Kind: KindItem}
		}
		item.Node.Parent = parent
		item.Node.Depth = parent.Depth + 1
		item.Node.Kind = KindItem
		if key, ok := item.DedupKey(); ok {
			if _, seen := r.items[key]; seen {
				r.stats.DuplicateItem++
				continue
			}
			r.items[key] = struct{}{}
		}
		r.stats.Items++
		emitted++
		if err := r.handle(ctx, item); err != nil {
			return fmt.Errorf("handle item %q: %w", item.Title, err)
		}
	}
	if len(items) > 0 {
		logger.Info("items processed", zap.Int("found", len(items)), zap.Int("emitted", emitted))
	}
	return nil
}

// descend claims every admitted subcategory before visiting any of them, so
// a nav menu repeated on a child page cannot pull a sibling one level down.
func (f *Frontier) descend(ctx context.Context, parent *Node, subs []*Node, r *run, logger *zap.Logger) error {
	children := make([]*Node, 0, len(subs))
	for _, sub := range subs {
		if sub == nil {
			continue
		}
		if f.cfg.MaxSiblings > 0 && len(children) >= f.cfg.MaxSiblings {
			logger.Info("subcategory limit reached",
				zap.Int("limit", f.cfg.MaxSiblings),
				zap.Int("found", len(subs)),
			)
			break
		}
		child := *sub
		child.Parent = parent
		child.Depth = parent.Depth + 1
		child.Kind = KindCategory
		if !f.claim(&child, r) {
			continue
		}
		children = append(children, &child)
	}
	for _, child := range children {
		if err := f.visit(ctx, child, r); err != nil {
			return err
		}
	}
	return nil
}
