// Package telemetry turns raw pipe-delimited alert payloads into canonical
// trade and market records. It tokenizes the text, classifies the message
// kind, normalizes the fields, suppresses retried duplicates and hands the
// result to a Sink.
//
// Wire format:
//
//	message := prefix ("|" key "=" value)*
//
// The separator is exactly "|" and the first "=" of a segment splits key from
// value. There is no escaping, so a value cannot contain "|".
package telemetry

import (
	"strings"

	"github.com/alanyoungcy/telemgps/internal/domain"
)

const (
	segmentSep  = "|"
	keyValueSep = "="
)

// Fields maps short keys to their raw string values for a single message.
type Fields map[string]string

// Lookup returns the first non-empty value among keys, trimmed. Empty values
// count as absent.
func (f Fields) Lookup(keys ...string) (string, bool) {
	for _, k := range keys {
		if v := strings.TrimSpace(f[k]); v != "" {
			return v, true
		}
	}
	return "", false
}

// Has reports whether any of keys carries a non-empty value.
func (f Fields) Has(keys ...string) bool {
	_, ok := f.Lookup(keys...)
	return ok
}

// Tokenize splits raw into its upper-cased prefix and key/value fields.
// Segments without "=" or with an empty key are dropped; when a key repeats
// the last occurrence wins. Only empty input is an error.
func Tokenize(raw string) (string, Fields, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", nil, domain.ErrEmptyPayload
	}

	segments := strings.Split(text, segmentSep)
	prefix := strings.ToUpper(strings.TrimSpace(segments[0]))

	fields := make(Fields, len(segments)-1)
	for _, seg := range segments[1:] {
		key, value, ok := strings.Cut(seg, keyValueSep)
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		fields[key] = value
	}
	return prefix, fields, nil
}
