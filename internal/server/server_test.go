package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/telemgps/internal/domain"
	"github.com/alanyoungcy/telemgps/internal/export"
	"github.com/alanyoungcy/telemgps/internal/server/handler"
	"github.com/alanyoungcy/telemgps/internal/service"
	"github.com/alanyoungcy/telemgps/internal/store/sqlite"
	"github.com/alanyoungcy/telemgps/internal/telemetry"
)

const (
	testToken  = "url-token"
	testAPIKey = "api-key"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	h, _, _ := newTestRouterWith(t, telemetry.IngestorConfig{})
	return h
}

// newTestRouterWith also returns the backing database and export directory.
func newTestRouterWith(t *testing.T, ingestCfg telemetry.IngestorConfig) (http.Handler, *sqlite.DB, string) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()

	db, err := sqlite.Open(context.Background(), filepath.Join(dir, "telem.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	files, err := export.NewDailyWriter(filepath.Join(dir, "exports"))
	require.NoError(t, err)

	svc := service.NewTelemetryService(db, files, nil, nil, db, logger)
	dedup := telemetry.NewDedup(100, 10)
	ing := telemetry.NewIngestor(ingestCfg, dedup, svc, logger)

	handlers := Handlers{
		Health:  handler.NewHealthHandler(),
		Ingest:  handler.NewIngestHandler(ing, svc, logger),
		Metrics: handler.NewMetricsHandler(svc, logger),
		Export:  handler.NewExportHandler(svc, logger),
		Status:  handler.NewStatusHandler(handler.StatusInfo{Mode: "server"}, dedup.Len),
		Archive: handler.NewArchiveHandler(nil, nil, logger),
	}
	cfg := Config{URLToken: testToken, APIKey: testAPIKey}
	return NewRouter(cfg, handlers, nil, nil, logger), db, filepath.Join(dir, "exports")
}

func do(t *testing.T, h http.Handler, method, target, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if authed {
		req.Header.Set("X-API-Key", testAPIKey)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIngestAndQuery(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/telem?token="+testToken, "EL|sym=BTCUSDT|tf=5|ag=3|al=7.2", false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/telem?token="+testToken, "EL|sym=BTCUSDT|tf=5|ag=3|al=7.2", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"duplicate":true`)

	rec = do(t, h, http.MethodPost, "/telem?token="+testToken+"&src=pine", "MKT|sym=BTCUSDT|tf=5|px=64000.5|adx=21", false)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/metrics/heartbeat?sym=BTCUSDT&tf=5", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var ev map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ev))
	assert.Equal(t, "EL", ev["sig"])
	assert.Equal(t, float64(3), ev["ag"])
	assert.Nil(t, ev["hz"])

	rec = do(t, h, http.MethodGet, "/metrics/market?sym=BTCUSDT&tf=5", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"source":"pine"`)

	rec = do(t, h, http.MethodGet, "/metrics/rollup?sym=BTCUSDT", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"by_sig":{"EL":1}`)

	rec = do(t, h, http.MethodGet, "/export/trades.csv?sym=BTCUSDT", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, strings.Split(strings.TrimSpace(rec.Body.String()), "\n"), 2)

	rec = do(t, h, http.MethodGet, "/api/status", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"dedup_entries":2`)
}

func TestSharedSecretNeverServed(t *testing.T) {
	h, db, exportDir := newTestRouterWith(t, telemetry.IngestorConfig{SharedSecret: "hush"})
	ctx := context.Background()

	for _, body := range []string{
		"EL|sym=BTC|tf=5|t=1772366400000|rs=trend|sec=hush",
		"MKT|sym=BTC|tf=5|px=1|sec=hush",
	} {
		rec := do(t, h, http.MethodPost, "/telem?token="+testToken, body, false)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	rec := do(t, h, http.MethodPost, "/telem?token="+testToken, "HELLO|foo=bar|sec=hush", false)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	for _, target := range []string{
		"/metrics/heartbeat?sym=BTC&tf=5",
		"/metrics/market?sym=BTC&tf=5",
		"/export/trades.csv",
		"/export/market.csv",
	} {
		rec := do(t, h, http.MethodGet, target, "", true)
		require.Equal(t, http.StatusOK, rec.Code, target)
		assert.NotContains(t, rec.Body.String(), "hush", target)
		assert.Contains(t, rec.Body.String(), "sec=***", target)
	}

	files, err := filepath.Glob(filepath.Join(exportDir, "*", "*.csv"))
	require.NoError(t, err)
	require.Len(t, files, 2)
	for _, f := range files {
		data, err := os.ReadFile(f)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "hush", f)
	}

	entries, err := db.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "HELLO|foo=bar|sec=***", entries[0].Detail["raw"])

	stored, err := db.LatestTrade(ctx, "BTC", "5")
	require.NoError(t, err)
	assert.Equal(t, "EL|sym=BTC|tf=5|t=1772366400000|rs=trend|sec=hush", stored.Raw)
}

func TestHeartbeatKeepsLegacyFields(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/telem?token="+testToken, "EL|sym=BTC|tf=5|t=1772366400000|rs=trend", false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/metrics/heartbeat?sym=BTC&tf=5", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var ev map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ev))
	assert.Equal(t, float64(1772366400000), ev["ts_ms"])
	assert.Equal(t, "trend", ev["reg"])
	assert.Equal(t, "trend", ev["rs"])
}

func TestIngestRequiresToken(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/telem?token=wrong", "EL|sym=BTC|tf=1", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"bad token"}`, rec.Body.String())
}

func TestIngestRejections(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/telem?token="+testToken, "  \n ", false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"empty body"}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/telem?token="+testToken, "HELLO|foo=bar", false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReadRoutesRequireAPIKey(t *testing.T) {
	h := newTestRouter(t)

	for _, target := range []string{"/metrics/heartbeat?sym=A&tf=1", "/export/market.csv", "/api/status"} {
		rec := do(t, h, http.MethodGet, target, "", false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, target)
	}
	rec := do(t, h, http.MethodGet, "/metrics/heartbeat?sym=A&tf=1", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthIsPublic(t *testing.T) {
	h := newTestRouter(t)
	for _, target := range []string{"/health", "/api/health"} {
		rec := do(t, h, http.MethodGet, target, "", false)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"service":"telemgps"`)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestRouter(t)
	rec := do(t, h, http.MethodGet, "/telem?token="+testToken, "", false)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
