package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TelemetryFilter narrows list queries over stored telemetry. Empty Symbol or
// Timeframe match every value.
type TelemetryFilter struct {
	Symbol    string
	Timeframe string
	ListOpts
}

// TelemetryStore persists canonical trade and market records. Records are
// append-only; there is no update path.
type TelemetryStore interface {
	InsertTrade(ctx context.Context, ev TradeEvent) error
	InsertMarket(ctx context.Context, snap MarketSnapshot) error
	LatestTrade(ctx context.Context, symbol, timeframe string) (TradeEvent, error)
	LatestMarket(ctx context.Context, symbol, timeframe string) (MarketSnapshot, error)
	Rollup(ctx context.Context, symbol string, since time.Time) (Rollup, error)
	ListTrades(ctx context.Context, f TelemetryFilter) ([]TradeEvent, error)
	ListMarkets(ctx context.Context, f TelemetryFilter) ([]MarketSnapshot, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
