package handler_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arc-self/packages/sec-core/internal/handler"
	"github.com/arc-self/packages/sec-core/logging"
	"github.com/arc-self/packages/sec-core/sanitize"
	"github.com/arc-self/packages/sec-core/tracker"
)

type discardSink struct{}

func (discardSink) Accept(logging.Record) error { return nil }

func newApp(t *testing.T, cfg tracker.Config, onAlert func(echo.Context, tracker.Alert)) (*echo.Echo, *tracker.Tracker) {
	t.Helper()
	cfg.Logger = zaptest.NewLogger(t)
	tr := tracker.New(cfg)
	lg := logging.New(discardSink{}, sanitize.NewDefault(sanitize.ModeProduction),
		logging.WithFallback(zaptest.NewLogger(t)))

	e := echo.New()
	e.Use(handler.RequestContextMiddleware())
	e.Use(handler.AccessTrackingMiddleware(tr, lg, onAlert))
	(&handler.Handler{Tracker: tr}).RegisterRoutes(e)
	return e, tr
}

func doRequest(e *echo.Echo, method, target, fromIP string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if fromIP != "" {
		req.Header.Set("X-Forwarded-For", fromIP)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

// ── health and request context ────────────────────────────────────────────

func TestHealthz(t *testing.T) {
	e, _ := newApp(t, tracker.Config{}, nil)

	rec := doRequest(e, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"), "a request id must be minted")
}

func TestRequestIDPassThrough(t *testing.T) {
	e, _ := newApp(t, tracker.Config{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-abc")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, "req-abc", rec.Header().Get("X-Request-ID"))
}

// ── access tracking middleware ────────────────────────────────────────────

func TestMiddlewareRecordsTraffic(t *testing.T) {
	e, tr := newApp(t, tracker.Config{}, nil)

	doRequest(e, http.MethodGet, "/healthz", "203.0.113.9")
	doRequest(e, http.MethodGet, "/healthz", "203.0.113.9")

	stats, ok := tr.Stats("203.0.113.9")
	require.True(t, ok)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.Success)
}

func TestMiddlewareRejectsBlockedIP(t *testing.T) {
	e, tr := newApp(t, tracker.Config{}, nil)
	require.NoError(t, tr.Block("203.0.113.10", "abuse"))

	rec := doRequest(e, http.MethodGet, "/healthz", "203.0.113.10")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "access denied", decodeBody(t, rec)["error"])
}

func TestMiddlewarePublishesAlerts(t *testing.T) {
	var published []tracker.Alert
	e, _ := newApp(t, tracker.Config{RateLimitThreshold: 3, RateLimitWindow: time.Minute},
		func(_ echo.Context, a tracker.Alert) { published = append(published, a) })

	for i := 0; i < 3; i++ {
		doRequest(e, http.MethodGet, "/healthz", "203.0.113.11")
	}

	require.NotEmpty(t, published)
	assert.Equal(t, tracker.AlertRateLimitExceeded, published[0].Type)
}

// ── admin endpoints ───────────────────────────────────────────────────────

func TestStatsEndpoint(t *testing.T) {
	e, _ := newApp(t, tracker.Config{}, nil)

	// traffic is recorded after the handler runs, so prime the stats first
	doRequest(e, http.MethodGet, "/healthz", "203.0.113.12")

	rec := doRequest(e, http.MethodGet, "/v1/security/stats/203.0.113.12", "203.0.113.12")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "203.0.113.12", body["ip"])
	assert.Equal(t, float64(1), body["total"])

	rec = doRequest(e, http.MethodGet, "/v1/security/stats/203.0.113.99", "203.0.113.12")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBlockEndpoints(t *testing.T) {
	e, tr := newApp(t, tracker.Config{}, nil)

	rec := doRequest(e, http.MethodPost, "/v1/security/block/203.0.113.13?reason=abuse", "203.0.113.1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, tr.IsBlocked("203.0.113.13"))

	rec = doRequest(e, http.MethodDelete, "/v1/security/block/203.0.113.13", "203.0.113.1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, tr.IsBlocked("203.0.113.13"))

	rec = doRequest(e, http.MethodPost, "/v1/security/block/not-an-ip", "203.0.113.1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid ip address", decodeBody(t, rec)["error"])
}

func TestWhitelistEndpoints(t *testing.T) {
	e, tr := newApp(t, tracker.Config{}, nil)

	rec := doRequest(e, http.MethodPost, "/v1/security/whitelist/203.0.113.14", "203.0.113.1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, tr.IsWhitelisted("203.0.113.14"))

	rec = doRequest(e, http.MethodDelete, "/v1/security/whitelist/203.0.113.14", "203.0.113.1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, tr.IsWhitelisted("203.0.113.14"))
}

func TestSuspiciousEndpointValidatesThreshold(t *testing.T) {
	e, _ := newApp(t, tracker.Config{}, nil)

	rec := doRequest(e, http.MethodGet, "/v1/security/suspicious?threshold=500", "203.0.113.1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(e, http.MethodGet, "/v1/security/suspicious", "203.0.113.1")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEventsEndpointFilters(t *testing.T) {
	e, _ := newApp(t, tracker.Config{}, nil)

	doRequest(e, http.MethodGet, "/healthz", "203.0.113.15")
	doRequest(e, http.MethodGet, "/healthz", "203.0.113.16")

	rec := doRequest(e, http.MethodGet, "/v1/security/events?ip=203.0.113.15", "203.0.113.1")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["count"])

	rec = doRequest(e, http.MethodGet, "/v1/security/events?limit=bogus", "203.0.113.1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSummaryEndpoint(t *testing.T) {
	e, _ := newApp(t, tracker.Config{}, nil)
	doRequest(e, http.MethodGet, "/healthz", "203.0.113.17")

	rec := doRequest(e, http.MethodGet, "/v1/security/summary", "203.0.113.1")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.GreaterOrEqual(t, body["total_ips"], float64(1))
}

func TestCompactEndpoint(t *testing.T) {
	e, _ := newApp(t, tracker.Config{}, nil)

	rec := doRequest(e, http.MethodPost, "/v1/security/compact", "203.0.113.1")
	assert.Equal(t, http.StatusOK, rec.Code)
	b, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(b), "compacted")
}
