// Package pipeline wires fetch, normalize, extract and persist into the two
// run modes: keyed lookups and catalog crawls.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitescraper/internal/crawler"
	"github.com/JakeFAU/sitescraper/internal/extract"
	"github.com/JakeFAU/sitescraper/internal/metrics"
	"github.com/JakeFAU/sitescraper/internal/profile"
	"github.com/JakeFAU/sitescraper/internal/sink"
)

// Event describes one persisted record for downstream consumers.
type Event struct {
	RunID     string            `json:"run_id"`
	Profile   string            `json:"profile"`
	Key       string            `json:"key"`
	URL       string            `json:"url"`
	Values    map[string]string `json:"values"`
	Timestamp time.Time         `json:"timestamp"`
}

// RecordMirror copies persisted records to a secondary store.
type RecordMirror interface {
	Upsert(ctx context.Context, event Event) error
}

// RecordPublisher announces persisted records.
type RecordPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// PageArchive keeps a copy of fetched pages.
type PageArchive interface {
	Store(ctx context.Context, runID string, doc crawler.Document) (string, error)
}

// Hasher derives stable keys from content.
type Hasher interface {
	Short(s string, n int) string
}

// CrawlContext carries everything a run needs. Nothing is global.
type CrawlContext struct {
	Profile   profile.Profile
	Session   *crawler.Session
	Extractor *extract.Extractor
	Sink      *sink.CSVSink
	// Missing receives keys that had no information. Optional.
	Missing *sink.CSVSink
	// SkipMissing also skips keys already recorded in Missing.
	SkipMissing bool
	Mirror      RecordMirror
	Publisher   RecordPublisher
	Hasher      Hasher
	Clock       crawler.Clock
	Logger      *zap.Logger
	RunID       string
}

func (cc *CrawlContext) validate() error {
	if cc == nil {
		return errors.New("crawl context is required")
	}
	if cc.Session == nil {
		return errors.New("session is required")
	}
	if cc.Extractor == nil {
		return errors.New("extractor is required")
	}
	if cc.Sink == nil {
		return errors.New("sink is required")
	}
	if cc.Clock == nil {
		return errors.New("clock is required")
	}
	if cc.Logger == nil {
		cc.Logger = zap.NewNop()
	}
	return nil
}

// ArchiveHook returns a session hook that stores every fetched page.
// Archive failures are logged only.
func ArchiveHook(archive PageArchive, runID string, logger *zap.Logger) crawler.PageHook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, page crawler.Page) {
		uri, err := archive.Store(ctx, runID, page.Doc)
		if err != nil {
			logger.Warn("archive page failed", zap.String("url", page.Doc.URL), zap.Error(err))
			return
		}
		logger.Debug("page archived", zap.String("url", page.Doc.URL), zap.String("uri", uri))
	}
}

// Stats summarizes a run.
type Stats struct {
	Total     int           `json:"total"`
	Skipped   int           `json:"skipped"`
	Appended  int           `json:"appended"`
	NotFound  int           `json:"not_found"`
	Failed    int           `json:"failed"`
	Duplicate int           `json:"duplicate"`
	Crawl     crawler.Stats `json:"crawl"`
}

// tracker guards Stats for concurrent readers such as the status endpoint.
type tracker struct {
	mu sync.Mutex
	s  Stats
}

func (t *tracker) update(fn func(*Stats)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.s)
}

func (t *tracker) snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.s
}

// persist appends the record and notifies the optional consumers. Only the
// append can fail the run.
func (cc *CrawlContext) persist(ctx context.Context, key, url string, rec extract.Record, st *tracker) error {
	now := cc.Clock.Now()
	err := cc.Sink.Append(sink.OutputRecord{Key: key, Values: rec.Values, Timestamp: now})
	switch {
	case errors.Is(err, sink.ErrDuplicateKey):
		st.update(func(s *Stats) { s.Duplicate++ })
		metrics.ObserveRecord(metrics.OutcomeDuplicate)
		cc.Logger.Debug("record already persisted", zap.String("key", key))
		return nil
	case err != nil:
		return fmt.Errorf("persist %q: %w", key, err)
	}
	st.update(func(s *Stats) { s.Appended++ })
	metrics.ObserveRecord(metrics.OutcomeAppended)

	event := Event{
		RunID:     cc.RunID,
		Profile:   cc.Profile.Name,
		Key:       key,
		URL:       url,
		Values:    rec.Values,
		Timestamp: now,
	}
	if cc.Mirror != nil {
		if err := cc.Mirror.Upsert(ctx, event); err != nil {
			cc.Logger.Warn("mirror upsert failed", zap.String("key", key), zap.Error(err))
		}
	}
	if cc.Publisher != nil {
		if err := cc.Publisher.Publish(ctx, event); err != nil {
			cc.Logger.Warn("publish failed", zap.String("key", key), zap.Error(err))
		}
	}
	return nil
}
