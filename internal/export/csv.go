// Package export renders canonical telemetry records as CSV, both for the
// append-only daily flat files and for on-demand HTTP downloads.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/alanyoungcy/telemgps/internal/domain"
)

// TradeHeader is the column order for trade CSV rows.
var TradeHeader = []string{
	"id", "received_at", "event_time", "source", "sym", "tf", "sig", "sq", "ag",
	"al", "hz", "d", "sl", "rs", "wr", "sc", "atrx", "m", "v", "raw",
}

// MarketHeader is the column order for market CSV rows.
var MarketHeader = []string{
	"id", "received_at", "event_time", "source", "sym", "tf", "px", "vol", "atr",
	"bbw", "al", "hz", "rg", "bb", "adx", "liq", "spr", "sess", "fp", "v", "raw",
}

// Header returns the column order for kind.
func Header(kind domain.Kind) []string {
	if kind == domain.KindMarket {
		return MarketHeader
	}
	return TradeHeader
}

// TradeRow formats ev in TradeHeader order. Absent values are empty cells.
func TradeRow(ev domain.TradeEvent) []string {
	return []string{
		ev.ID,
		ev.ReceivedAt.UTC().Format(time.RFC3339Nano),
		timeCell(ev.EventTime),
		ev.Source,
		ev.Symbol,
		ev.Timeframe,
		ev.Verb,
		strCell(ev.Persona),
		intCell(ev.Aggression),
		floatCell(ev.Alignment),
		floatCell(ev.Hazard),
		floatCell(ev.Distance),
		floatCell(ev.StopLevel),
		strCell(ev.Regime),
		floatCell(ev.WinRate),
		floatCell(ev.Score),
		floatCell(ev.ATRMultiple),
		intCell(ev.Mode),
		strCell(ev.Version),
		ev.Raw,
	}
}

// MarketRow formats snap in MarketHeader order.
func MarketRow(snap domain.MarketSnapshot) []string {
	return []string{
		snap.ID,
		snap.ReceivedAt.UTC().Format(time.RFC3339Nano),
		timeCell(snap.EventTime),
		snap.Source,
		snap.Symbol,
		snap.Timeframe,
		floatCell(snap.Price),
		floatCell(snap.Volume),
		floatCell(snap.ATR),
		floatCell(snap.BandWidth),
		floatCell(snap.Alignment),
		floatCell(snap.Hazard),
		strCell(snap.Regime),
		floatCell(snap.Bollinger),
		floatCell(snap.ADX),
		floatCell(snap.Liquidity),
		floatCell(snap.Spread),
		strCell(snap.Session),
		strCell(snap.Fingerprint),
		strCell(snap.Version),
		snap.Raw,
	}
}

// Row formats rec according to its kind.
func Row(rec domain.Record) ([]string, error) {
	switch {
	case rec.Kind == domain.KindTrade && rec.Trade != nil:
		return TradeRow(*rec.Trade), nil
	case rec.Kind == domain.KindMarket && rec.Market != nil:
		return MarketRow(*rec.Market), nil
	}
	return nil, fmt.Errorf("export: record kind %q has no payload", rec.Kind)
}

// WriteTrades writes a header and one row per event to w.
func WriteTrades(w io.Writer, events []domain.TradeEvent) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(TradeHeader); err != nil {
		return fmt.Errorf("export: write trade header: %w", err)
	}
	for _, ev := range events {
		if err := cw.Write(TradeRow(ev)); err != nil {
			return fmt.Errorf("export: write trade %s: %w", ev.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteMarkets writes a header and one row per snapshot to w.
func WriteMarkets(w io.Writer, snaps []domain.MarketSnapshot) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(MarketHeader); err != nil {
		return fmt.Errorf("export: write market header: %w", err)
	}
	for _, s := range snaps {
		if err := cw.Write(MarketRow(s)); err != nil {
			return fmt.Errorf("export: write market %s: %w", s.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func strCell(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func intCell(n *int64) string {
	if n == nil {
		return ""
	}
	return strconv.FormatInt(*n, 10)
}

func floatCell(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func timeCell(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
