package handler

import (
	"net/http"
	"time"
)

// StatusInfo is the static part of the status report.
type StatusInfo struct {
	Mode          string
	DefaultSource string
	Strict        bool
	StoreDriver   string
	StartedAt     time.Time
}

// StatusHandler reports how the receiver is configured and running.
type StatusHandler struct {
	info       StatusInfo
	dedupCount func() int
	now        func() time.Time
}

// NewStatusHandler creates a StatusHandler. dedupCount may be nil.
func NewStatusHandler(info StatusInfo, dedupCount func() int) *StatusHandler {
	return &StatusHandler{info: info, dedupCount: dedupCount, now: time.Now}
}

// GetStatus responds with mode, ingest settings and uptime.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	entries := 0
	if h.dedupCount != nil {
		entries = h.dedupCount()
	}
	uptime := int64(h.now().Sub(h.info.StartedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.info.Mode,
		"default_source": h.info.DefaultSource,
		"strict":         h.info.Strict,
		"store":          h.info.StoreDriver,
		"dedup_entries":  entries,
		"uptime_seconds": uptime,
	})
}
