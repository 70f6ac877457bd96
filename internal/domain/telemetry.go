package domain

import "time"

// Kind is the semantic category of an ingested telemetry message.
type Kind string

const (
	KindTrade  Kind = "trade"
	KindMarket Kind = "market"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k == KindTrade || k == KindMarket
}

// Sentinel used for symbol and timeframe when the sender omits them. Downstream
// grouping keys on these columns so they are never NULL.
const Unknown = "na"

// Trade action codes sent as the message prefix or in the sig field.
const (
	VerbEntryLong  = "EL"
	VerbEntryShort = "ES"
	VerbExitLong   = "XL"
	VerbExitShort  = "XS"
	VerbExitAll    = "XA"
)

// TradeEvent is the canonical record of a single strategy action. Verb is an
// open set: upstream may introduce new signal codes (heartbeats, custom alerts)
// without a schema change.
type TradeEvent struct {
	ID          string     `json:"id"`
	Source      string     `json:"source"`
	Symbol      string     `json:"sym"`
	Timeframe   string     `json:"tf"`
	Verb        string     `json:"sig"`
	Persona     *string    `json:"sq"`
	Aggression  *int64     `json:"ag"`
	Alignment   *float64   `json:"al"`
	Hazard      *float64   `json:"hz"`
	Distance    *float64   `json:"d"`
	StopLevel   *float64   `json:"sl"`
	Regime      *string    `json:"rs"`
	WinRate     *float64   `json:"wr"`
	Score       *float64   `json:"sc"`
	ATRMultiple *float64   `json:"atrx"`
	Mode        *int64     `json:"m"`
	Version     *string    `json:"v"`
	EventTime   *time.Time `json:"event_time"`
	ReceivedAt  time.Time  `json:"received_at"`
	Raw         string     `json:"raw"`
}

// MarketSnapshot is the canonical record of point-in-time market conditions.
type MarketSnapshot struct {
	ID          string     `json:"id"`
	Source      string     `json:"source"`
	Symbol      string     `json:"sym"`
	Timeframe   string     `json:"tf"`
	Price       *float64   `json:"px"`
	Volume      *float64   `json:"vol"`
	ATR         *float64   `json:"atr"`
	BandWidth   *float64   `json:"bbw"`
	Alignment   *float64   `json:"al"`
	Hazard      *float64   `json:"hz"`
	Regime      *string    `json:"rg"`
	Bollinger   *float64   `json:"bb"`
	ADX         *float64   `json:"adx"`
	Liquidity   *float64   `json:"liq"`
	Spread      *float64   `json:"spr"`
	Session     *string    `json:"sess"`
	Fingerprint *string    `json:"fp"`
	Version     *string    `json:"v"`
	EventTime   *time.Time `json:"event_time"`
	ReceivedAt  time.Time  `json:"received_at"`
	Raw         string     `json:"raw"`
}

// Record carries exactly one canonical record together with its kind. It is
// the value handed to a sink.
type Record struct {
	Kind   Kind            `json:"kind"`
	Trade  *TradeEvent     `json:"trade,omitempty"`
	Market *MarketSnapshot `json:"market,omitempty"`
}

// ID returns the identifier of the wrapped record.
func (r Record) ID() string {
	switch {
	case r.Trade != nil:
		return r.Trade.ID
	case r.Market != nil:
		return r.Market.ID
	}
	return ""
}

// ReceivedAt returns the receive time of the wrapped record.
func (r Record) ReceivedAt() time.Time {
	switch {
	case r.Trade != nil:
		return r.Trade.ReceivedAt
	case r.Market != nil:
		return r.Market.ReceivedAt
	}
	return time.Time{}
}

// Rollup summarises trade events for a symbol over a window.
type Rollup struct {
	Since  time.Time        `json:"-"`
	Count  int64            `json:"count"`
	ByVerb map[string]int64 `json:"by_sig"`
}
