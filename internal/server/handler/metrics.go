package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/telemgps/internal/domain"
)

// TelemetryQuery is the read side of the telemetry service.
type TelemetryQuery interface {
	LatestTrade(ctx context.Context, symbol, timeframe string) (domain.TradeEvent, error)
	LatestMarket(ctx context.Context, symbol, timeframe string) (domain.MarketSnapshot, error)
	Rollup(ctx context.Context, symbol string, window time.Duration) (domain.Rollup, error)
	ListTrades(ctx context.Context, f domain.TelemetryFilter) ([]domain.TradeEvent, error)
	ListMarkets(ctx context.Context, f domain.TelemetryFilter) ([]domain.MarketSnapshot, error)
}

// MetricsHandler serves the latest-value and rollup endpoints.
type MetricsHandler struct {
	query  TelemetryQuery
	logger *slog.Logger
}

// NewMetricsHandler creates a MetricsHandler.
func NewMetricsHandler(query TelemetryQuery, logger *slog.Logger) *MetricsHandler {
	return &MetricsHandler{query: query, logger: logHandler(logger, "metrics")}
}

// heartbeatResponse is the trade event plus the field names earlier
// receivers answered with: ts_ms is the event time in epoch ms (receive time
// when the sender sent none) and reg mirrors rs.
type heartbeatResponse struct {
	domain.TradeEvent
	TsMs int64   `json:"ts_ms"`
	Reg  *string `json:"reg"`
}

func newHeartbeatResponse(ev domain.TradeEvent) heartbeatResponse {
	ts := ev.ReceivedAt
	if ev.EventTime != nil {
		ts = *ev.EventTime
	}
	return heartbeatResponse{TradeEvent: ev, TsMs: ts.UnixMilli(), Reg: ev.Regime}
}

// Heartbeat returns the newest trade event for a symbol and timeframe.
// GET /metrics/heartbeat?sym=BTCUSDT&tf=5
func (h *MetricsHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	sym, tf, ok := requirePair(w, r)
	if !ok {
		return
	}
	ev, err := h.query.LatestTrade(r.Context(), sym, tf)
	if err != nil {
		h.fail(w, r, "heartbeat", err)
		return
	}
	writeJSON(w, http.StatusOK, newHeartbeatResponse(ev))
}

// Market returns the newest market snapshot for a symbol and timeframe.
// GET /metrics/market?sym=BTCUSDT&tf=5
func (h *MetricsHandler) Market(w http.ResponseWriter, r *http.Request) {
	sym, tf, ok := requirePair(w, r)
	if !ok {
		return
	}
	snap, err := h.query.LatestMarket(r.Context(), sym, tf)
	if err != nil {
		h.fail(w, r, "market", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type rollupResponse struct {
	SinceMs int64            `json:"since_ms"`
	Count   int64            `json:"count"`
	BySig   map[string]int64 `json:"by_sig"`
}

// Rollup counts trade events per verb over the trailing window.
// GET /metrics/rollup?sym=BTCUSDT&minutes=60
func (h *MetricsHandler) Rollup(w http.ResponseWriter, r *http.Request) {
	sym := strings.TrimSpace(r.URL.Query().Get("sym"))
	if sym == "" {
		writeError(w, http.StatusBadRequest, "sym is required")
		return
	}
	minutes := 60
	if v := r.URL.Query().Get("minutes"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "minutes must be a positive integer")
			return
		}
		minutes = n
	}

	ru, err := h.query.Rollup(r.Context(), sym, time.Duration(minutes)*time.Minute)
	if err != nil {
		h.fail(w, r, "rollup", err)
		return
	}
	bySig := ru.ByVerb
	if bySig == nil {
		bySig = map[string]int64{}
	}
	writeJSON(w, http.StatusOK, rollupResponse{
		SinceMs: ru.Since.UnixMilli(),
		Count:   ru.Count,
		BySig:   bySig,
	})
}

func (h *MetricsHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no data")
		return
	}
	h.logger.ErrorContext(r.Context(), "query failed",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, "query failed")
}
