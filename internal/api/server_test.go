package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitescraper/internal/crawler"
	"github.com/JakeFAU/sitescraper/internal/metrics"
	"github.com/JakeFAU/sitescraper/internal/pipeline"
)

type fixedStats pipeline.Stats

func (f fixedStats) Snapshot() pipeline.Stats { return pipeline.Stats(f) }

func newTestServer(stats Snapshotter) *Server {
	metrics.Init()
	run := RunInfo{
		RunID:     "run-1",
		Profile:   "einforma",
		Mode:      "lookup",
		StartedAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	return NewServer(run, stats, nil)
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	newTestServer(nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestGetRunReportsSnapshot(t *testing.T) {
	t.Parallel()

	stats := fixedStats{Total: 4, Appended: 1, NotFound: 2, Failed: 1, Crawl: crawler.Stats{NodesFetched: 3}}
	rec := httptest.NewRecorder()
	newTestServer(stats).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/run", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		RunID string         `json:"run_id"`
		Mode  string         `json:"mode"`
		Stats pipeline.Stats `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "run-1", body.RunID)
	assert.Equal(t, "lookup", body.Mode)
	assert.Equal(t, pipeline.Stats(stats), body.Stats)
}

func TestGetRunWithoutRun(t *testing.T) {
	t.Parallel()

	server := newTestServer(nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/run", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	metrics.ObserveRecord("appended")
	rec := httptest.NewRecorder()
	newTestServer(fixedStats{}).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sitescraper_records_total")
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	server := newTestServer(nil)
	server.router.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListenAndServeStopsWithContext(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- newTestServer(fixedStats{}).ListenAndServe(ctx, addr) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
