package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/telemgps/internal/domain"
)

// TelemetryStore implements domain.TelemetryStore using PostgreSQL.
type TelemetryStore struct {
	pool *pgxpool.Pool
}

// NewTelemetryStore creates a new TelemetryStore backed by the given connection pool.
func NewTelemetryStore(pool *pgxpool.Pool) *TelemetryStore {
	return &TelemetryStore{pool: pool}
}

const tradeSelectCols = `id, source, sym, tf, sig, sq, ag, al, hz, d, sl, rs,
	wr, sc, atrx, m, v, event_time, received_at, raw`

const marketSelectCols = `id, source, sym, tf, px, vol, atr, bbw, al, hz, rg,
	bb, adx, liq, spr, sess, fp, v, event_time, received_at, raw`

func scanTrade(row pgx.Row) (domain.TradeEvent, error) {
	var ev domain.TradeEvent
	err := row.Scan(
		&ev.ID, &ev.Source, &ev.Symbol, &ev.Timeframe, &ev.Verb,
		&ev.Persona, &ev.Aggression, &ev.Alignment, &ev.Hazard,
		&ev.Distance, &ev.StopLevel, &ev.Regime, &ev.WinRate,
		&ev.Score, &ev.ATRMultiple, &ev.Mode, &ev.Version,
		&ev.EventTime, &ev.ReceivedAt, &ev.Raw,
	)
	return ev, err
}

func scanMarket(row pgx.Row) (domain.MarketSnapshot, error) {
	var s domain.MarketSnapshot
	err := row.Scan(
		&s.ID, &s.Source, &s.Symbol, &s.Timeframe,
		&s.Price, &s.Volume, &s.ATR, &s.BandWidth, &s.Alignment,
		&s.Hazard, &s.Regime, &s.Bollinger, &s.ADX, &s.Liquidity,
		&s.Spread, &s.Session, &s.Fingerprint, &s.Version,
		&s.EventTime, &s.ReceivedAt, &s.Raw,
	)
	return s, err
}

// InsertTrade appends a trade event.
func (s *TelemetryStore) InsertTrade(ctx context.Context, ev domain.TradeEvent) error {
	const query = `
		INSERT INTO trade_events (` + tradeSelectCols + `) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20
		)`
	_, err := s.pool.Exec(ctx, query,
		ev.ID, ev.Source, ev.Symbol, ev.Timeframe, ev.Verb,
		ev.Persona, ev.Aggression, ev.Alignment, ev.Hazard,
		ev.Distance, ev.StopLevel, ev.Regime, ev.WinRate,
		ev.Score, ev.ATRMultiple, ev.Mode, ev.Version,
		ev.EventTime, ev.ReceivedAt, ev.Raw,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade event %s: %w", ev.ID, err)
	}
	return nil
}

// InsertMarket appends a market snapshot.
func (s *TelemetryStore) InsertMarket(ctx context.Context, snap domain.MarketSnapshot) error {
	const query = `
		INSERT INTO market_snapshots (` + marketSelectCols + `) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21
		)`
	_, err := s.pool.Exec(ctx, query,
		snap.ID, snap.Source, snap.Symbol, snap.Timeframe,
		snap.Price, snap.Volume, snap.ATR, snap.BandWidth, snap.Alignment,
		snap.Hazard, snap.Regime, snap.Bollinger, snap.ADX, snap.Liquidity,
		snap.Spread, snap.Session, snap.Fingerprint, snap.Version,
		snap.EventTime, snap.ReceivedAt, snap.Raw,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert market snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// LatestTrade returns the most recent trade event for symbol and timeframe,
// ordered by sender time when present and receive time otherwise.
func (s *TelemetryStore) LatestTrade(ctx context.Context, symbol, timeframe string) (domain.TradeEvent, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trade_events
		WHERE sym = $1 AND tf = $2
		ORDER BY COALESCE(event_time, received_at) DESC, received_at DESC
		LIMIT 1`
	ev, err := scanTrade(s.pool.QueryRow(ctx, query, symbol, timeframe))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TradeEvent{}, domain.ErrNotFound
		}
		return domain.TradeEvent{}, fmt.Errorf("postgres: latest trade %s/%s: %w", symbol, timeframe, err)
	}
	return ev, nil
}

// LatestMarket returns the most recent market snapshot for symbol and timeframe.
func (s *TelemetryStore) LatestMarket(ctx context.Context, symbol, timeframe string) (domain.MarketSnapshot, error) {
	query := `SELECT ` + marketSelectCols + ` FROM market_snapshots
		WHERE sym = $1 AND tf = $2
		ORDER BY COALESCE(event_time, received_at) DESC, received_at DESC
		LIMIT 1`
	snap, err := scanMarket(s.pool.QueryRow(ctx, query, symbol, timeframe))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MarketSnapshot{}, domain.ErrNotFound
		}
		return domain.MarketSnapshot{}, fmt.Errorf("postgres: latest market %s/%s: %w", symbol, timeframe, err)
	}
	return snap, nil
}

// Rollup counts trade events per verb for symbol received at or after since.
func (s *TelemetryStore) Rollup(ctx context.Context, symbol string, since time.Time) (domain.Rollup, error) {
	const query = `
		SELECT sig, COUNT(*) FROM trade_events
		WHERE sym = $1 AND COALESCE(event_time, received_at) >= $2
		GROUP BY sig`
	rows, err := s.pool.Query(ctx, query, symbol, since)
	if err != nil {
		return domain.Rollup{}, fmt.Errorf("postgres: rollup %s: %w", symbol, err)
	}
	defer rows.Close()

	out := domain.Rollup{Since: since, ByVerb: map[string]int64{}}
	for rows.Next() {
		var verb string
		var n int64
		if err := rows.Scan(&verb, &n); err != nil {
			return domain.Rollup{}, fmt.Errorf("postgres: scan rollup: %w", err)
		}
		out.ByVerb[verb] = n
		out.Count += n
	}
	if err := rows.Err(); err != nil {
		return domain.Rollup{}, fmt.Errorf("postgres: rollup rows: %w", err)
	}
	return out, nil
}

// ListTrades returns trade events matching f, oldest first.
func (s *TelemetryStore) ListTrades(ctx context.Context, f domain.TelemetryFilter) ([]domain.TradeEvent, error) {
	query, args := filterQuery(`SELECT `+tradeSelectCols+` FROM trade_events`, f)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trade events: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeEvent
	for rows.Next() {
		ev, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trade event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list trade events rows: %w", err)
	}
	return out, nil
}

// ListMarkets returns market snapshots matching f, oldest first.
func (s *TelemetryStore) ListMarkets(ctx context.Context, f domain.TelemetryFilter) ([]domain.MarketSnapshot, error) {
	query, args := filterQuery(`SELECT `+marketSelectCols+` FROM market_snapshots`, f)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list market snapshots: %w", err)
	}
	defer rows.Close()

	var out []domain.MarketSnapshot
	for rows.Next() {
		snap, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market snapshot: %w", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list market snapshots rows: %w", err)
	}
	return out, nil
}

// filterQuery narrows base by f, oldest first.
func filterQuery(base string, f domain.TelemetryFilter) (string, []any) {
	b := newSelect(base)
	if f.Symbol != "" {
		b.where("sym", "=", f.Symbol)
	}
	if f.Timeframe != "" {
		b.where("tf", "=", f.Timeframe)
	}
	b.window("received_at", f.Since, f.Until)
	return b.build("received_at ASC", f.ListOpts)
}
