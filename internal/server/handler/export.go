package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/telemgps/internal/export"
)

// ExportHandler streams stored telemetry as CSV.
type ExportHandler struct {
	query  TelemetryQuery
	logger *slog.Logger
}

// NewExportHandler creates an ExportHandler.
func NewExportHandler(query TelemetryQuery, logger *slog.Logger) *ExportHandler {
	return &ExportHandler{query: query, logger: logHandler(logger, "export")}
}

// Trades downloads trade events as CSV.
// GET /export/trades.csv?sym=&tf=&since=&until=&limit=
func (h *ExportHandler) Trades(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := h.query.ListTrades(r.Context(), f)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list trades failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	setCSVHeaders(w, "trades.csv")
	if err := export.WriteTrades(w, events); err != nil {
		h.logger.WarnContext(r.Context(), "write trades csv", slog.String("error", err.Error()))
	}
}

// Markets downloads market snapshots as CSV.
// GET /export/market.csv?sym=&tf=&since=&until=&limit=
func (h *ExportHandler) Markets(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snaps, err := h.query.ListMarkets(r.Context(), f)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list markets failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	setCSVHeaders(w, "market.csv")
	if err := export.WriteMarkets(w, snaps); err != nil {
		h.logger.WarnContext(r.Context(), "write market csv", slog.String("error", err.Error()))
	}
}

func setCSVHeaders(w http.ResponseWriter, filename string) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
}
