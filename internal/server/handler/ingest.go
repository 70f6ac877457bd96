package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/telemgps/internal/domain"
	"github.com/alanyoungcy/telemgps/internal/telemetry"
)

// MaxBodyBytes caps the size of one ingest request body.
const MaxBodyBytes = 64 << 10

// Ingester runs one raw message through the ingest pipeline.
type Ingester interface {
	Ingest(ctx context.Context, raw, source string) (telemetry.Result, error)
}

// Rejecter records messages that failed to ingest.
type Rejecter interface {
	Reject(ctx context.Context, raw, source string, cause error)
}

// IngestHandler accepts pipe-delimited telemetry from alert webhooks.
type IngestHandler struct {
	ingester Ingester
	rejecter Rejecter
	logger   *slog.Logger
}

// NewIngestHandler creates an IngestHandler. rejecter may be nil.
func NewIngestHandler(ingester Ingester, rejecter Rejecter, logger *slog.Logger) *IngestHandler {
	return &IngestHandler{
		ingester: ingester,
		rejecter: rejecter,
		logger:   logHandler(logger, "ingest"),
	}
}

type ingestResponse struct {
	OK        bool        `json:"ok"`
	Kind      domain.Kind `json:"kind"`
	ID        string      `json:"id,omitempty"`
	Duplicate bool        `json:"duplicate"`
}

// Ingest stores one message. The body is plain text; src optionally names
// the sender.
// POST /telem?token=...&src=...
func (h *IngestHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	raw := strings.TrimSpace(strings.ToValidUTF8(string(body), ""))
	source := strings.TrimSpace(r.URL.Query().Get("src"))

	res, err := h.ingester.Ingest(r.Context(), raw, source)
	if err != nil {
		status, msg := ingestErrorStatus(err)
		if status == http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "ingest failed", slog.String("error", err.Error()))
		} else {
			h.logger.WarnContext(r.Context(), "ingest rejected",
				slog.Int("status", status),
				slog.String("error", err.Error()),
			)
			if h.rejecter != nil && status == http.StatusBadRequest {
				h.rejecter.Reject(r.Context(), raw, source, err)
			}
		}
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, ingestResponse{
		OK:        true,
		Kind:      res.Record.Kind,
		ID:        res.Record.ID(),
		Duplicate: res.Duplicate,
	})
}

// ingestErrorStatus maps pipeline errors to a status and client message.
// Storage errors are not echoed to the client.
func ingestErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrEmptyPayload):
		return http.StatusBadRequest, "empty body"
	case errors.Is(err, domain.ErrUnrecognizedPayload),
		errors.Is(err, domain.ErrMissingFields):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrBadSecret):
		return http.StatusUnauthorized, "bad secret"
	case errors.Is(err, domain.ErrInFlight):
		return http.StatusConflict, "duplicate still in progress, retry later"
	}
	return http.StatusInternalServerError, "failed to store telemetry"
}
