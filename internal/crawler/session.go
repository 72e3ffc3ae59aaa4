package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitescraper/internal/metrics"
)

// Page is a fetched and normalized response.
type Page struct {
	Result   FetchResult
	Doc      Document
	Attempts int
}

// Session is the fetch capability owned by one crawl loop: a single
// fetcher, the politeness pacer, the retry policy, and the normalizer.
// It is not safe for concurrent use.
type Session struct {
	fetcher    Fetcher
	normalizer Normalizer
	pacer      Pacer
	retry      RetryPolicy
	pause      pauseController
	headers    http.Header
	hook       PageHook
	logger     *zap.Logger
}

// PageHook observes every page the session fetched and normalized.
type PageHook func(ctx context.Context, page Page)

// SessionOption customizes a Session.
type SessionOption func(*Session)

// WithPacer sets the delay enforced between consecutive fetches.
func WithPacer(p Pacer) SessionOption {
	return func(s *Session) {
		if p != nil {
			s.pacer = p
		}
	}
}

// WithRetryPolicy enables bounded retries of failed fetches.
func WithRetryPolicy(r RetryPolicy) SessionOption {
	return func(s *Session) {
		if r != nil {
			s.retry = r
		}
	}
}

// WithHeaders adds headers to every request.
func WithHeaders(h http.Header) SessionOption {
	return func(s *Session) {
		s.headers = h.Clone()
	}
}

// WithPageHook registers h to see each successful page.
func WithPageHook(h PageHook) SessionOption {
	return func(s *Session) {
		s.hook = h
	}
}

// WithLogger sets the session logger.
func WithLogger(logger *zap.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSession wires a fetcher and normalizer into a paced, retrying session.
func NewSession(fetcher Fetcher, normalizer Normalizer, opts ...SessionOption) (*Session, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if normalizer == nil {
		return nil, errors.New("normalizer is required")
	}
	s := &Session{
		fetcher:    fetcher,
		normalizer: normalizer,
		pacer:      noPacer{},
		retry:      NewExponentialRetryPolicy(1, 0, 0),
		pause:      &timerPauseController{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Get fetches rawURL, retrying retryable failures, and normalizes the body.
// Every attempt waits on the pacer first.
func (s *Session) Get(ctx context.Context, rawURL string) (Page, error) {
	for attempt := 1; ; attempt++ {
		if err := s.pacer.Wait(ctx); err != nil {
			return Page{}, fmt.Errorf("pacer wait: %w", err)
		}
		result, err := s.fetcher.Fetch(ctx, FetchRequest{URL: rawURL, Headers: s.headers})
		if err == nil {
			err = CheckStatus(result)
		}
		metrics.ObserveFetch(rawURL, fetchStatusLabel(result, err), len(result.Body))
		if err == nil {
			if result.URL == "" {
				result.URL = rawURL
			}
			page := Page{Result: result, Doc: s.normalizer.Normalize(result), Attempts: attempt}
			if s.hook != nil {
				s.hook(ctx, page)
			}
			return page, nil
		}

		var transportErr *TransportError
		if !errors.As(err, &transportErr) {
			err = &TransportError{URL: rawURL, Err: err}
		}
		if !s.retry.ShouldRetry(err, attempt) {
			return Page{Attempts: attempt}, err
		}
		delay := s.retry.Backoff(attempt)
		s.logger.Warn("fetch failed; retrying",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		s.pause.Pause(ctx, delay)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Page{Attempts: attempt}, fmt.Errorf("retry canceled: %w", ctxErr)
		}
	}
}

func fetchStatusLabel(result FetchResult, err error) string {
	if result.StatusCode > 0 {
		return strconv.Itoa(result.StatusCode)
	}
	if err != nil {
		return "error"
	}
	return "unknown"
}
