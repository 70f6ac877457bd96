package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/telemgps/internal/domain"
)

const (
	defaultStreamCount = 100
	maxStreamCount     = 1000
)

// StreamReader reads entries from a durable stream after lastID.
type StreamReader interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// StreamHandler lets clients catch up on records they missed while
// disconnected from the WebSocket feed.
type StreamHandler struct {
	reader StreamReader
	logger *slog.Logger
}

// NewStreamHandler creates a StreamHandler.
func NewStreamHandler(reader StreamReader, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{reader: reader, logger: logHandler(logger, "stream")}
}

type streamEntry struct {
	ID     string          `json:"id"`
	Record json.RawMessage `json:"record"`
}

// Recent returns up to count records appended after the stream ID in after
// ("0" reads from the start).
// GET /api/stream?after=0&count=100
func (h *StreamHandler) Recent(w http.ResponseWriter, r *http.Request) {
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	count := defaultStreamCount
	if v := r.URL.Query().Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "count must be a positive integer")
			return
		}
		count = min(n, maxStreamCount)
	}

	msgs, err := h.reader.StreamRead(r.Context(), domain.StreamTelemetry, after, count)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "stream read failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "stream unavailable")
		return
	}

	out := make([]streamEntry, 0, len(msgs))
	for _, m := range msgs {
		if !json.Valid(m.Payload) {
			continue
		}
		out = append(out, streamEntry{ID: m.ID, Record: m.Payload})
	}
	next := after
	if len(msgs) > 0 {
		next = msgs[len(msgs)-1].ID
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out, "next": next})
}
