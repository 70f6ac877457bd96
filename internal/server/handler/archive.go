package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/telemgps/internal/pipeline"
)

// ArchiveHandler triggers and reports export archive runs.
type ArchiveHandler struct {
	logger    *slog.Logger
	triggerCh chan<- struct{}
	lastRun   func() *pipeline.ArchiveStatus
}

// NewArchiveHandler creates an ArchiveHandler. Sending on triggerCh asks the
// archive loop for one run; lastRun reports the latest outcome. Either may
// be nil when archiving is disabled.
func NewArchiveHandler(triggerCh chan<- struct{}, lastRun func() *pipeline.ArchiveStatus, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{
		logger:    logHandler(logger, "archive"),
		triggerCh: triggerCh,
		lastRun:   lastRun,
	}
}

// Trigger enqueues one archive run.
// POST /api/archive/trigger
func (h *ArchiveHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	if h.triggerCh == nil {
		writeError(w, http.StatusServiceUnavailable, "archiving is not configured")
		return
	}
	h.logger.InfoContext(r.Context(), "archive trigger requested")
	select {
	case h.triggerCh <- struct{}{}:
	default:
		// a run is already pending
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// Status returns the latest archive run, or 404 before the first.
// GET /api/archive/status
func (h *ArchiveHandler) Status(w http.ResponseWriter, r *http.Request) {
	var last *pipeline.ArchiveStatus
	if h.lastRun != nil {
		last = h.lastRun()
	}
	if last == nil {
		writeError(w, http.StatusNotFound, "no archive run yet")
		return
	}
	writeJSON(w, http.StatusOK, last)
}
