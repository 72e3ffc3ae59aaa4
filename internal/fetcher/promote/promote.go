// Package promote escalates fetches of script-rendered pages to a browser.
package promote

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitescraper/internal/crawler"
)

// Fetcher fetches through a primary backend and repeats the request through
// a renderer when the decoded page looks like an empty script shell.
type Fetcher struct {
	primary    crawler.Fetcher
	renderer   crawler.Fetcher
	normalizer crawler.Normalizer
	heuristic  Heuristic
	logger     *zap.Logger
}

// New wires the two backends. The normalizer decodes the primary body for
// inspection only; the session normalizes whatever Fetch returns.
func New(primary, renderer crawler.Fetcher, normalizer crawler.Normalizer, h Heuristic, logger *zap.Logger) (*Fetcher, error) {
	if primary == nil || renderer == nil {
		return nil, errors.New("primary and renderer fetchers are required")
	}
	if normalizer == nil {
		return nil, errors.New("normalizer is required")
	}
	if h == (Heuristic{}) {
		h = DefaultHeuristic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		primary:    primary,
		renderer:   renderer,
		normalizer: normalizer,
		heuristic:  h,
		logger:     logger.Named("promote"),
	}, nil
}

// Fetch implements crawler.Fetcher. A renderer failure falls back to the
// primary result unless ctx is done.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResult, error) {
	result, err := f.primary.Fetch(ctx, request)
	if err != nil {
		return result, err
	}
	if !f.heuristic.NeedsRender(f.normalizer.Normalize(result)) {
		return result, nil
	}

	f.logger.Debug("promoting to renderer", zap.String("url", request.URL))
	rendered, rerr := f.renderer.Fetch(ctx, request)
	if rerr != nil {
		if ctx.Err() != nil {
			return rendered, rerr
		}
		f.logger.Warn("render failed, keeping plain response", zap.String("url", request.URL), zap.Error(rerr))
		return result, nil
	}
	return rendered, nil
}
