// Package sessionfetcher implements crawler.Fetcher with a resty client that
// keeps cookies across requests, the way a browser session would.
package sessionfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitescraper/internal/crawler"
)

// AcceptEncoding is advertised on every request. Bodies are returned still
// encoded; the normalizer undoes the coding.
const AcceptEncoding = "gzip, deflate, br"

// DefaultUserAgent mimics a desktop browser.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Config controls the HTTP session.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// MaxBodyBytes caps the raw body read from the wire. 0 means 32 MiB.
	MaxBodyBytes int64
	// CloudflareBypass wraps the transport with browser-like TLS and headers.
	CloudflareBypass bool
	Headers          http.Header
}

// Fetcher implements crawler.Fetcher over one cookie-carrying client.
type Fetcher struct {
	client  *resty.Client
	maxBody int64
	logger  *zap.Logger
}

// New builds a Fetcher with a fresh cookie jar.
func New(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 32 << 20
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	client := resty.New()
	client.SetTransport(newHTTPTransport())
	client.SetCookieJar(jar)
	client.SetTimeout(cfg.Timeout)
	client.SetHeader("User-Agent", cfg.UserAgent)
	client.SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	client.SetHeader("Accept-Language", "es-ES,es;q=0.9,en;q=0.8")
	client.SetHeader("Accept-Encoding", AcceptEncoding)
	for key, values := range cfg.Headers {
		for _, v := range values {
			client.Header.Add(key, v)
		}
	}
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
	if cfg.CloudflareBypass {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}

	return &Fetcher{client: client, maxBody: cfg.MaxBodyBytes, logger: logger.Named("session_fetcher")}, nil
}

// Fetch issues a GET and returns the raw body. Non-2xx statuses come back
// as a *crawler.TransportError alongside the populated result.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResult, error) {
	start := time.Now()
	req := f.client.R().SetContext(ctx).SetDoNotParseResponse(true)
	for key, values := range request.Headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	resp, err := req.Get(request.URL)
	if err != nil {
		return crawler.FetchResult{}, &crawler.TransportError{URL: request.URL, Err: err}
	}
	raw := resp.RawBody()
	defer func() {
		if cerr := raw.Close(); cerr != nil {
			f.logger.Debug("close body", zap.Error(cerr))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(raw, f.maxBody+1))
	if err != nil {
		return crawler.FetchResult{}, &crawler.TransportError{URL: request.URL, StatusCode: resp.StatusCode(), Err: err}
	}
	if int64(len(body)) > f.maxBody {
		return crawler.FetchResult{}, &crawler.TransportError{
			URL:        request.URL,
			StatusCode: resp.StatusCode(),
			Err:        fmt.Errorf("body exceeds %d bytes", f.maxBody),
		}
	}

	finalURL := request.URL
	if rr := resp.RawResponse; rr != nil && rr.Request != nil && rr.Request.URL != nil {
		finalURL = rr.Request.URL.String()
	}
	result := crawler.NewFetchResult(finalURL, resp.StatusCode(), resp.Header().Clone(), body)
	result.Duration = time.Since(start)
	f.logger.Debug("fetched",
		zap.String("url", finalURL),
		zap.Int("status", result.StatusCode),
		zap.Int("bytes", len(body)),
		zap.String("content_encoding", result.ContentEncoding),
	)
	return result, crawler.CheckStatus(result)
}

// Cookies returns the cookies the session holds for rawURL.
func (f *Fetcher) Cookies(rawURL string) ([]*http.Cookie, error) {
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	jar := f.client.GetClient().Jar
	if jar == nil {
		return nil, errors.New("session has no cookie jar")
	}
	return jar.Cookies(req.URL), nil
}

// newHTTPTransport leaves compression to the caller: with Accept-Encoding
// set explicitly the transport does not decode bodies.
func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		DisableCompression:    true,
	}
}
