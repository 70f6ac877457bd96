// Package service holds the application services that sit between the
// ingest pipeline, the stores and the HTTP layer.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/telemgps/internal/domain"
	"github.com/alanyoungcy/telemgps/internal/telemetry"
)

// notifyTimeout bounds one background alert delivery.
const notifyTimeout = 15 * time.Second

// Appender appends a record to the daily flat files.
type Appender interface {
	Append(rec domain.Record) error
}

// TradeNotifier raises an alert for a trade event.
type TradeNotifier interface {
	NotifyTrade(ctx context.Context, ev domain.TradeEvent) error
}

// TelemetryService is the ingest sink and the query facade over stored
// telemetry. The store and the daily files must both accept a record for
// Store to succeed; the bus, stream, alerts and audit are best effort.
//
// Only the store row keeps Raw verbatim. Everything the service hands out
// (files, bus, alerts, audit and query results) carries Raw with the shared
// secret masked.
type TelemetryService struct {
	store    domain.TelemetryStore
	files    Appender
	bus      domain.SignalBus
	notifier TradeNotifier
	audit    domain.AuditStore
	logger   *slog.Logger

	wg sync.WaitGroup
}

// NewTelemetryService creates a TelemetryService. files, bus, notifier and
// audit may be nil.
func NewTelemetryService(
	store domain.TelemetryStore,
	files Appender,
	bus domain.SignalBus,
	notifier TradeNotifier,
	audit domain.AuditStore,
	logger *slog.Logger,
) *TelemetryService {
	return &TelemetryService{
		store:    store,
		files:    files,
		bus:      bus,
		notifier: notifier,
		audit:    audit,
		logger:   logger.With(slog.String("component", "telemetry_service")),
	}
}

// Store persists rec and fans it out.
func (s *TelemetryService) Store(ctx context.Context, rec domain.Record) error {
	switch {
	case rec.Kind == domain.KindTrade && rec.Trade != nil:
		if err := s.store.InsertTrade(ctx, *rec.Trade); err != nil {
			return fmt.Errorf("telemetry_service: store trade: %w", err)
		}
	case rec.Kind == domain.KindMarket && rec.Market != nil:
		if err := s.store.InsertMarket(ctx, *rec.Market); err != nil {
			return fmt.Errorf("telemetry_service: store market: %w", err)
		}
	default:
		return fmt.Errorf("telemetry_service: record kind %q has no payload", rec.Kind)
	}

	out := telemetry.Redact(rec)
	if s.files != nil {
		if err := s.files.Append(out); err != nil {
			return fmt.Errorf("telemetry_service: append export: %w", err)
		}
	}

	s.publish(ctx, out)
	if out.Kind == domain.KindTrade {
		s.alert(*out.Trade)
	}

	s.logger.DebugContext(ctx, "record stored",
		slog.String("kind", string(rec.Kind)),
		slog.String("id", rec.ID()),
	)
	return nil
}

func (s *TelemetryService) publish(ctx context.Context, rec domain.Record) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		s.logger.WarnContext(ctx, "marshal record failed", slog.String("error", err.Error()))
		return
	}
	if err := s.bus.Publish(ctx, domain.ChannelFor(rec.Kind), payload); err != nil {
		s.logger.WarnContext(ctx, "publish failed",
			slog.String("id", rec.ID()),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, domain.StreamTelemetry, payload); err != nil {
		s.logger.WarnContext(ctx, "stream append failed",
			slog.String("id", rec.ID()),
			slog.String("error", err.Error()),
		)
	}
}

// alert delivers in the background so slow chat APIs never hold up the
// sender's request.
func (s *TelemetryService) alert(ev domain.TradeEvent) {
	if s.notifier == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := s.notifier.NotifyTrade(ctx, ev); err != nil {
			s.logger.Warn("trade alert failed",
				slog.String("id", ev.ID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Wait blocks until in-flight alerts finish.
func (s *TelemetryService) Wait() {
	s.wg.Wait()
}

// Reject records a payload that failed to ingest in the audit log.
func (s *TelemetryService) Reject(ctx context.Context, raw, source string, cause error) {
	if s.audit == nil || cause == nil {
		return
	}
	const maxRaw = 2048
	raw = telemetry.RedactRaw(raw)
	if len(raw) > maxRaw {
		raw = raw[:maxRaw]
	}
	detail := map[string]any{
		"source": source,
		"raw":    raw,
		"error":  cause.Error(),
	}
	var upe *domain.UnrecognizedPayloadError
	if errors.As(cause, &upe) {
		detail["prefix"] = upe.Prefix
		detail["keys"] = upe.Keys
	}
	if err := s.audit.Log(ctx, "ingest.rejected", detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
	}
}

// LatestTrade returns the newest trade event for the pair.
func (s *TelemetryService) LatestTrade(ctx context.Context, symbol, timeframe string) (domain.TradeEvent, error) {
	ev, err := s.store.LatestTrade(ctx, symbol, timeframe)
	if err != nil {
		return domain.TradeEvent{}, err
	}
	return telemetry.RedactTrade(ev), nil
}

// LatestMarket returns the newest market snapshot for the pair.
func (s *TelemetryService) LatestMarket(ctx context.Context, symbol, timeframe string) (domain.MarketSnapshot, error) {
	snap, err := s.store.LatestMarket(ctx, symbol, timeframe)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}
	return telemetry.RedactMarket(snap), nil
}

// Rollup counts trade events per verb for symbol within the trailing window.
func (s *TelemetryService) Rollup(ctx context.Context, symbol string, window time.Duration) (domain.Rollup, error) {
	since := time.Now().UTC().Add(-window)
	return s.store.Rollup(ctx, symbol, since)
}

// ListTrades returns stored trade events matching f.
func (s *TelemetryService) ListTrades(ctx context.Context, f domain.TelemetryFilter) ([]domain.TradeEvent, error) {
	events, err := s.store.ListTrades(ctx, f)
	if err != nil {
		return nil, err
	}
	for i := range events {
		events[i] = telemetry.RedactTrade(events[i])
	}
	return events, nil
}

// ListMarkets returns stored market snapshots matching f.
func (s *TelemetryService) ListMarkets(ctx context.Context, f domain.TelemetryFilter) ([]domain.MarketSnapshot, error) {
	snaps, err := s.store.ListMarkets(ctx, f)
	if err != nil {
		return nil, err
	}
	for i := range snaps {
		snaps[i] = telemetry.RedactMarket(snaps[i])
	}
	return snaps, nil
}
