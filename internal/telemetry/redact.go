package telemetry

import (
	"strings"

	"github.com/alanyoungcy/telemgps/internal/domain"
)

// secretKey is the field carrying the shared ingest secret.
const secretKey = "sec"

// redactedValue replaces secret values in output copies of raw text.
const redactedValue = "***"

// RedactRaw masks the value of every sec segment in raw. The segment stays in
// place so the message shape is still readable. Text without a sec segment is
// returned as is.
func RedactRaw(raw string) string {
	if !strings.Contains(raw, secretKey) {
		return raw
	}
	segments := strings.Split(raw, segmentSep)
	changed := false
	for i := 1; i < len(segments); i++ {
		key, _, ok := strings.Cut(segments[i], keyValueSep)
		if !ok || strings.TrimSpace(key) != secretKey {
			continue
		}
		segments[i] = key + keyValueSep + redactedValue
		changed = true
	}
	if !changed {
		return raw
	}
	return strings.Join(segments, segmentSep)
}

// Redact returns a copy of rec whose Raw has the secret masked. rec itself is
// not modified.
func Redact(rec domain.Record) domain.Record {
	if rec.Trade != nil {
		ev := RedactTrade(*rec.Trade)
		rec.Trade = &ev
	}
	if rec.Market != nil {
		snap := RedactMarket(*rec.Market)
		rec.Market = &snap
	}
	return rec
}

func RedactTrade(ev domain.TradeEvent) domain.TradeEvent {
	ev.Raw = RedactRaw(ev.Raw)
	return ev
}

func RedactMarket(snap domain.MarketSnapshot) domain.MarketSnapshot {
	snap.Raw = RedactRaw(snap.Raw)
	return snap
}
