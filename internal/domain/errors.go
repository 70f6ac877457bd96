package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrUnauthorized = errors.New("unauthorized")
	ErrLockHeld     = errors.New("lock already held")

	ErrEmptyPayload        = errors.New("empty payload")
	ErrUnrecognizedPayload = errors.New("unrecognized payload")
	ErrMissingFields       = errors.New("missing fields")
	ErrBadSecret           = errors.New("bad secret")
	ErrInFlight            = errors.New("payload is still being stored")
)

// UnrecognizedPayloadError is returned when neither the prefix nor the field
// set identify the message kind. Keys is sorted.
type UnrecognizedPayloadError struct {
	Prefix string
	Keys   []string
}

func (e *UnrecognizedPayloadError) Error() string {
	return fmt.Sprintf("unrecognized payload: prefix %q, keys [%s]", e.Prefix, strings.Join(e.Keys, ","))
}

func (e *UnrecognizedPayloadError) Is(target error) bool {
	return target == ErrUnrecognizedPayload
}

// MissingFieldsError lists the mandatory keys absent from a message when the
// strict field policy is enabled.
type MissingFieldsError struct {
	Kind Kind
	Keys []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("missing fields for %s: %s", e.Kind, strings.Join(e.Keys, ","))
}

func (e *MissingFieldsError) Is(target error) bool {
	return target == ErrMissingFields
}
