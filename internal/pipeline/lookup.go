package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitescraper/internal/extract"
	"github.com/JakeFAU/sitescraper/internal/metrics"
	"github.com/JakeFAU/sitescraper/internal/sink"
)

// LookupRunner fetches one page per key and persists what it finds.
type LookupRunner struct {
	cc    *CrawlContext
	stats tracker
}

// NewLookupRunner validates cc for keyed lookups.
func NewLookupRunner(cc *CrawlContext) (*LookupRunner, error) {
	if err := cc.validate(); err != nil {
		return nil, err
	}
	if !cc.Profile.HasLookup() {
		return nil, fmt.Errorf("profile %q has no lookup.url_template", cc.Profile.Name)
	}
	return &LookupRunner{cc: cc}, nil
}

// Snapshot returns the current counters.
func (r *LookupRunner) Snapshot() Stats {
	return r.stats.snapshot()
}

// Run processes keys in order, skipping those already persisted. Transport
// failures are logged and skipped; sink failures and cancellation stop the
// run.
func (r *LookupRunner) Run(ctx context.Context, keys []string) (Stats, error) {
	logger := r.cc.Logger.Named("lookup")
	pending := make([]string, 0, len(keys))
	for _, key := range keys {
		if r.cc.Sink.Has(key) || (r.cc.SkipMissing && r.cc.Missing != nil && r.cc.Missing.Has(key)) {
			continue
		}
		pending = append(pending, key)
	}
	r.stats.update(func(s *Stats) {
		s.Total = len(keys)
		s.Skipped = len(keys) - len(pending)
	})
	logger.Info("lookup started",
		zap.Int("keys", len(keys)),
		zap.Int("already_processed", len(keys)-len(pending)),
		zap.Int("pending", len(pending)),
	)

	for i, key := range pending {
		if err := ctx.Err(); err != nil {
			return r.stats.snapshot(), fmt.Errorf("lookup canceled: %w", err)
		}
		if err := r.lookup(ctx, key, logger.With(
			zap.String("key", key),
			zap.Int("n", i+1),
			zap.Int("of", len(pending)),
		)); err != nil {
			return r.stats.snapshot(), err
		}
	}

	final := r.stats.snapshot()
	logger.Info("lookup finished",
		zap.Int("appended", final.Appended),
		zap.Int("not_found", final.NotFound),
		zap.Int("failed", final.Failed),
	)
	return final, nil
}

func (r *LookupRunner) lookup(ctx context.Context, key string, logger *zap.Logger) error {
	url := r.cc.Profile.LookupURL(key)
	page, err := r.cc.Session.Get(ctx, url)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("lookup canceled: %w", ctxErr)
		}
		r.stats.update(func(s *Stats) { s.Failed++ })
		metrics.ObserveRecord(metrics.OutcomeFailed)
		logger.Warn("lookup fetch failed", zap.String("url", url), zap.Error(err))
		return nil
	}

	if r.cc.Profile.NotFound(page.Doc.Text) {
		logger.Info("no results for key")
		return r.notFound(key)
	}
	rec := r.cc.Extractor.ExtractWith(page.Doc, extract.Context{Key: key, URL: page.Doc.URL})
	if !rec.Valid {
		logger.Info("page has no information for key")
		return r.notFound(key)
	}
	if err := r.cc.persist(ctx, key, page.Doc.URL, rec, &r.stats); err != nil {
		return err
	}
	logger.Info("record saved")
	return nil
}

func (r *LookupRunner) notFound(key string) error {
	r.stats.update(func(s *Stats) { s.NotFound++ })
	metrics.ObserveRecord(metrics.OutcomeNotFound)
	if r.cc.Missing == nil {
		return nil
	}
	err := r.cc.Missing.Append(sink.OutputRecord{Key: key, Timestamp: r.cc.Clock.Now()})
	if err != nil && !errors.Is(err, sink.ErrDuplicateKey) {
		return fmt.Errorf("record missing key %q: %w", key, err)
	}
	return nil
}
