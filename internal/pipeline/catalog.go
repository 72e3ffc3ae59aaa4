package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitescraper/internal/crawler"
	"github.com/JakeFAU/sitescraper/internal/extract"
	"github.com/JakeFAU/sitescraper/internal/metrics"
)

// keylessPrefix marks sink keys derived from item markup.
const keylessPrefix = "item-"

// CatalogRunner walks a catalog and persists one record per item.
type CatalogRunner struct {
	cc       *CrawlContext
	frontier *crawler.Frontier
	stats    tracker
}

// NewCatalogRunner builds the frontier for the profile's catalog.
func NewCatalogRunner(cc *CrawlContext, classifier crawler.Classifier) (*CatalogRunner, error) {
	if err := cc.validate(); err != nil {
		return nil, err
	}
	if !cc.Profile.HasCatalog() {
		return nil, fmt.Errorf("profile %q has no catalog.root_url", cc.Profile.Name)
	}
	if cc.Hasher == nil {
		return nil, errors.New("hasher is required")
	}
	frontier, err := crawler.NewFrontier(cc.Profile.FrontierConfig(), cc.Session, classifier, cc.Logger.Named("frontier"))
	if err != nil {
		return nil, err
	}
	return &CatalogRunner{cc: cc, frontier: frontier}, nil
}

// Snapshot returns the current counters.
func (r *CatalogRunner) Snapshot() Stats {
	return r.stats.snapshot()
}

// Run crawls from the profile root. Items already persisted are skipped
// before any detail fetch.
func (r *CatalogRunner) Run(ctx context.Context) (Stats, error) {
	logger := r.cc.Logger.Named("catalog")
	logger.Info("catalog crawl started",
		zap.String("root", r.cc.Profile.Catalog.RootURL),
		zap.Int("already_processed", r.cc.Sink.Len()),
	)
	crawlStats, err := r.frontier.Crawl(ctx, r.cc.Profile.RootNode(), func(ctx context.Context, item crawler.Item) error {
		return r.handle(ctx, item, logger)
	})
	r.stats.update(func(s *Stats) { s.Crawl = crawlStats })
	final := r.stats.snapshot()
	if err != nil {
		return final, err
	}
	logger.Info("catalog crawl finished",
		zap.Int("items", final.Total),
		zap.Int("appended", final.Appended),
		zap.Int("skipped", final.Skipped),
		zap.Int("failed", final.Failed),
	)
	return final, nil
}

func (r *CatalogRunner) itemKey(item crawler.Item) string {
	if key, ok := item.DedupKey(); ok {
		return key
	}
	return keylessPrefix + r.cc.Hasher.Short(item.Doc.Text, 16)
}

func (r *CatalogRunner) handle(ctx context.Context, item crawler.Item, logger *zap.Logger) error {
	r.stats.update(func(s *Stats) { s.Total++ })
	key := r.itemKey(item)
	if r.cc.Sink.Has(key) {
		r.stats.update(func(s *Stats) { s.Skipped++ })
		return nil
	}
	var path string
	if item.Node != nil {
		path = item.Node.Parent.Path()
	}
	logger = logger.With(zap.String("key", key), zap.String("path", path))

	url := item.DetailURL
	if url == "" {
		url = item.Doc.URL
	}
	ectx := extract.Context{Key: key, URL: url, Path: path}
	rec := r.cc.Extractor.ExtractWith(item.Doc, ectx)

	if r.cc.Profile.Catalog.FollowDetail && item.DetailURL != "" {
		page, err := r.cc.Session.Get(ctx, item.DetailURL)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("detail fetch canceled: %w", ctxErr)
			}
			r.stats.update(func(s *Stats) { s.Failed++ })
			metrics.ObserveRecord(metrics.OutcomeFailed)
			logger.Warn("detail fetch failed", zap.Error(err))
			return nil
		}
		detail := r.cc.Extractor.ExtractWith(page.Doc, ectx)
		rec = r.cc.Extractor.Merge(detail, rec)
	}

	if !rec.Valid {
		r.stats.update(func(s *Stats) { s.NotFound++ })
		metrics.ObserveRecord(metrics.OutcomeNotFound)
		logger.Info("item has no information")
		return nil
	}
	if err := r.cc.persist(ctx, key, url, rec, &r.stats); err != nil {
		return err
	}
	logger.Debug("item saved", zap.String("title", item.Title))
	return nil
}
