// Package sqlite implements the telemetry and audit stores on a single
// SQLite file using the pure-Go modernc.org/sqlite driver. It is the
// single-node alternative to the postgres package.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alanyoungcy/telemgps/internal/domain"
)

//go:embed schema.sql
var schema string

// DB wraps a database/sql handle opened on a SQLite file. Times are stored
// as integer epoch milliseconds.
type DB struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the SQLite database at path and applies
// the schema.
func Open(ctx context.Context, path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent ingest.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: set journal mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &DB{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (d *DB) Close() error {
	return d.db.Close()
}

const tradeCols = `id, source, sym, tf, sig, sq, ag, al, hz, d, sl, rs,
	wr, sc, atrx, m, v, event_ms, received_ms, raw`

const marketCols = `id, source, sym, tf, px, vol, atr, bbw, al, hz, rg,
	bb, adx, liq, spr, sess, fp, v, event_ms, received_ms, raw`

type scanner interface {
	Scan(dest ...any) error
}

func scanTrade(row scanner) (domain.TradeEvent, error) {
	var ev domain.TradeEvent
	var eventMs sql.NullInt64
	var receivedMs int64
	err := row.Scan(
		&ev.ID, &ev.Source, &ev.Symbol, &ev.Timeframe, &ev.Verb,
		&ev.Persona, &ev.Aggression, &ev.Alignment, &ev.Hazard,
		&ev.Distance, &ev.StopLevel, &ev.Regime, &ev.WinRate,
		&ev.Score, &ev.ATRMultiple, &ev.Mode, &ev.Version,
		&eventMs, &receivedMs, &ev.Raw,
	)
	if err != nil {
		return ev, err
	}
	ev.EventTime = fromNullMillis(eventMs)
	ev.ReceivedAt = time.UnixMilli(receivedMs).UTC()
	return ev, nil
}

func scanMarket(row scanner) (domain.MarketSnapshot, error) {
	var s domain.MarketSnapshot
	var eventMs sql.NullInt64
	var receivedMs int64
	err := row.Scan(
		&s.ID, &s.Source, &s.Symbol, &s.Timeframe,
		&s.Price, &s.Volume, &s.ATR, &s.BandWidth, &s.Alignment,
		&s.Hazard, &s.Regime, &s.Bollinger, &s.ADX, &s.Liquidity,
		&s.Spread, &s.Session, &s.Fingerprint, &s.Version,
		&eventMs, &receivedMs, &s.Raw,
	)
	if err != nil {
		return s, err
	}
	s.EventTime = fromNullMillis(eventMs)
	s.ReceivedAt = time.UnixMilli(receivedMs).UTC()
	return s, nil
}

// InsertTrade appends a trade event.
func (d *DB) InsertTrade(ctx context.Context, ev domain.TradeEvent) error {
	const query = `INSERT INTO trade_events (` + tradeCols + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := d.db.ExecContext(ctx, query,
		ev.ID, ev.Source, ev.Symbol, ev.Timeframe, ev.Verb,
		ev.Persona, ev.Aggression, ev.Alignment, ev.Hazard,
		ev.Distance, ev.StopLevel, ev.Regime, ev.WinRate,
		ev.Score, ev.ATRMultiple, ev.Mode, ev.Version,
		toNullMillis(ev.EventTime), ev.ReceivedAt.UnixMilli(), ev.Raw,
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert trade event %s: %w", ev.ID, err)
	}
	return nil
}

// InsertMarket appends a market snapshot.
func (d *DB) InsertMarket(ctx context.Context, snap domain.MarketSnapshot) error {
	const query = `INSERT INTO market_snapshots (` + marketCols + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := d.db.ExecContext(ctx, query,
		snap.ID, snap.Source, snap.Symbol, snap.Timeframe,
		snap.Price, snap.Volume, snap.ATR, snap.BandWidth, snap.Alignment,
		snap.Hazard, snap.Regime, snap.Bollinger, snap.ADX, snap.Liquidity,
		snap.Spread, snap.Session, snap.Fingerprint, snap.Version,
		toNullMillis(snap.EventTime), snap.ReceivedAt.UnixMilli(), snap.Raw,
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert market snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// LatestTrade returns the most recent trade event for symbol and timeframe.
func (d *DB) LatestTrade(ctx context.Context, symbol, timeframe string) (domain.TradeEvent, error) {
	query := `SELECT ` + tradeCols + ` FROM trade_events
		WHERE sym = ? AND tf = ?
		ORDER BY COALESCE(event_ms, received_ms) DESC, received_ms DESC
		LIMIT 1`
	ev, err := scanTrade(d.db.QueryRowContext(ctx, query, symbol, timeframe))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.TradeEvent{}, domain.ErrNotFound
		}
		return domain.TradeEvent{}, fmt.Errorf("sqlite: latest trade %s/%s: %w", symbol, timeframe, err)
	}
	return ev, nil
}

// LatestMarket returns the most recent market snapshot for symbol and timeframe.
func (d *DB) LatestMarket(ctx context.Context, symbol, timeframe string) (domain.MarketSnapshot, error) {
	query := `SELECT ` + marketCols + ` FROM market_snapshots
		WHERE sym = ? AND tf = ?
		ORDER BY COALESCE(event_ms, received_ms) DESC, received_ms DESC
		LIMIT 1`
	snap, err := scanMarket(d.db.QueryRowContext(ctx, query, symbol, timeframe))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.MarketSnapshot{}, domain.ErrNotFound
		}
		return domain.MarketSnapshot{}, fmt.Errorf("sqlite: latest market %s/%s: %w", symbol, timeframe, err)
	}
	return snap, nil
}

// Rollup counts trade events per verb for symbol stamped at or after since.
// The sender's event time wins over the receive time.
func (d *DB) Rollup(ctx context.Context, symbol string, since time.Time) (domain.Rollup, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT sig, COUNT(*) FROM trade_events WHERE sym = ? AND COALESCE(event_ms, received_ms) >= ? GROUP BY sig`,
		symbol, since.UnixMilli())
	if err != nil {
		return domain.Rollup{}, fmt.Errorf("sqlite: rollup %s: %w", symbol, err)
	}
	defer rows.Close()

	out := domain.Rollup{Since: since, ByVerb: map[string]int64{}}
	for rows.Next() {
		var verb string
		var n int64
		if err := rows.Scan(&verb, &n); err != nil {
			return domain.Rollup{}, fmt.Errorf("sqlite: scan rollup: %w", err)
		}
		out.ByVerb[verb] = n
		out.Count += n
	}
	if err := rows.Err(); err != nil {
		return domain.Rollup{}, fmt.Errorf("sqlite: rollup rows: %w", err)
	}
	return out, nil
}

// ListTrades returns trade events matching f, oldest first.
func (d *DB) ListTrades(ctx context.Context, f domain.TelemetryFilter) ([]domain.TradeEvent, error) {
	query, args := filterQuery(`SELECT `+tradeCols+` FROM trade_events`, f)
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list trade events: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeEvent
	for rows.Next() {
		ev, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan trade event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ListMarkets returns market snapshots matching f, oldest first.
func (d *DB) ListMarkets(ctx context.Context, f domain.TelemetryFilter) ([]domain.MarketSnapshot, error) {
	query, args := filterQuery(`SELECT `+marketCols+` FROM market_snapshots`, f)
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list market snapshots: %w", err)
	}
	defer rows.Close()

	var out []domain.MarketSnapshot
	for rows.Next() {
		snap, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan market snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Log appends an audit entry. detail is stored as JSON text.
func (d *DB) Log(ctx context.Context, event string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("sqlite: marshal audit detail: %w", err)
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO audit_log (event, detail, created_ms) VALUES (?, ?, ?)`,
		event, string(detailJSON), d.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns audit entries newest first.
func (d *DB) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query := `SELECT id, event, detail, created_ms FROM audit_log WHERE 1=1`
	var args []any
	if opts.Since != nil {
		query += " AND created_ms >= ?"
		args = append(args, opts.Since.UnixMilli())
	}
	if opts.Until != nil {
		query += " AND created_ms <= ?"
		args = append(args, opts.Until.UnixMilli())
	}
	query += " ORDER BY created_ms DESC, id DESC"
	query, args = appendPaging(query, args, opts)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var detail sql.NullString
		var createdMs int64
		if err := rows.Scan(&e.ID, &e.Event, &detail, &createdMs); err != nil {
			return nil, fmt.Errorf("sqlite: scan audit entry: %w", err)
		}
		if detail.Valid && detail.String != "" {
			if err := json.Unmarshal([]byte(detail.String), &e.Detail); err != nil {
				return nil, fmt.Errorf("sqlite: unmarshal audit detail: %w", err)
			}
		}
		e.CreatedAt = time.UnixMilli(createdMs).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func filterQuery(base string, f domain.TelemetryFilter) (string, []any) {
	query := base + ` WHERE 1=1`
	var args []any
	if f.Symbol != "" {
		query += " AND sym = ?"
		args = append(args, f.Symbol)
	}
	if f.Timeframe != "" {
		query += " AND tf = ?"
		args = append(args, f.Timeframe)
	}
	if f.Since != nil {
		query += " AND received_ms >= ?"
		args = append(args, f.Since.UnixMilli())
	}
	if f.Until != nil {
		query += " AND received_ms <= ?"
		args = append(args, f.Until.UnixMilli())
	}
	query += " ORDER BY received_ms ASC"
	return appendPaging(query, args, f.ListOpts)
}

// appendPaging adds LIMIT and OFFSET. SQLite only accepts OFFSET after a
// LIMIT, so LIMIT -1 stands in for "no limit".
func appendPaging(query string, args []any, opts domain.ListOpts) (string, []any) {
	if opts.Limit <= 0 && opts.Offset <= 0 {
		return query, args
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	query += " LIMIT ?"
	args = append(args, limit)
	if opts.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}
	return query, args
}

func toNullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMillis(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.UnixMilli(n.Int64).UTC()
	return &t
}
