package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/telemgps/internal/domain"
)

// writeJSON marshals v and writes it with status. A marshal failure becomes
// a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends {"error": msg}.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

const (
	defaultListLimit = 1000
	maxListLimit     = 100000
)

// parseFilter reads sym, tf, since, until, limit and offset from the query
// string. since and until accept RFC 3339 or epoch milliseconds.
func parseFilter(r *http.Request) (domain.TelemetryFilter, error) {
	q := r.URL.Query()
	f := domain.TelemetryFilter{
		Symbol:    strings.TrimSpace(q.Get("sym")),
		Timeframe: strings.TrimSpace(q.Get("tf")),
		ListOpts:  domain.ListOpts{Limit: defaultListLimit},
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return f, fmt.Errorf("invalid limit %q", v)
		}
		f.Limit = min(n, maxListLimit)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("invalid offset %q", v)
		}
		f.Offset = n
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"since", &f.Since}, {"until", &f.Until}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		t, err := parseTime(v)
		if err != nil {
			return f, fmt.Errorf("invalid %s %q", p.name, v)
		}
		*p.dst = &t
	}
	if f.Since != nil && f.Until != nil && f.Until.Before(*f.Since) {
		return f, fmt.Errorf("until is before since")
	}
	return f, nil
}

// parseTime accepts RFC 3339 or integer epoch milliseconds.
func parseTime(v string) (time.Time, error) {
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// requirePair reads the mandatory sym and tf query parameters.
func requirePair(w http.ResponseWriter, r *http.Request) (sym, tf string, ok bool) {
	sym = strings.TrimSpace(r.URL.Query().Get("sym"))
	tf = strings.TrimSpace(r.URL.Query().Get("tf"))
	if sym == "" || tf == "" {
		writeError(w, http.StatusBadRequest, "sym and tf are required")
		return "", "", false
	}
	return sym, tf, true
}

func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
