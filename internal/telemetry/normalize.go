package telemetry

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/telemgps/internal/domain"
)

// Normalizer maps tokenized fields onto canonical records.
//
// In the default tolerant mode a missing symbol or timeframe becomes
// domain.Unknown. With Strict set, both are mandatory and their absence is
// reported as a *domain.MissingFieldsError. Optional fields are nil when
// absent, empty or unparsable in either mode.
type Normalizer struct {
	Strict bool
}

// Trade builds a TradeEvent. The verb falls back to the prefix so an action
// envelope such as "EL|sym=..." needs no explicit sig key.
func (n Normalizer) Trade(prefix string, fields Fields, source string) (domain.TradeEvent, error) {
	sym, tf, err := n.identity(domain.KindTrade, fields)
	if err != nil {
		return domain.TradeEvent{}, err
	}

	verb, ok := fields.Lookup("sig", "verb")
	if !ok {
		verb = prefix
	}

	return domain.TradeEvent{
		Source:      source,
		Symbol:      sym,
		Timeframe:   tf,
		Verb:        verb,
		Persona:     optString(fields, "sq", "p"),
		Aggression:  optInt(fields, "ag"),
		Alignment:   optFloat(fields, "al"),
		Hazard:      optFloat(fields, "hz"),
		Distance:    optFloat(fields, "d"),
		StopLevel:   optFloat(fields, "sl"),
		Regime:      optString(fields, "rs", "reg"),
		WinRate:     optFloat(fields, "wr"),
		Score:       optFloat(fields, "sc"),
		ATRMultiple: optFloat(fields, "atrx"),
		Mode:        optInt(fields, "m"),
		Version:     optString(fields, "v"),
		EventTime:   optEpochMillis(fields, "t"),
	}, nil
}

// Market builds a MarketSnapshot. bbw and bb historically carried the same
// band-width metric; bbw wins when both are sent.
func (n Normalizer) Market(prefix string, fields Fields, source string) (domain.MarketSnapshot, error) {
	sym, tf, err := n.identity(domain.KindMarket, fields)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}

	return domain.MarketSnapshot{
		Source:      source,
		Symbol:      sym,
		Timeframe:   tf,
		Price:       optFloat(fields, "px", "price"),
		Volume:      optFloat(fields, "vol"),
		ATR:         optFloat(fields, "atr"),
		BandWidth:   optFloat(fields, "bbw", "bb"),
		Alignment:   optFloat(fields, "al"),
		Hazard:      optFloat(fields, "hz"),
		Regime:      optString(fields, "rg", "regime", "reg"),
		Bollinger:   optFloat(fields, "bb"),
		ADX:         optFloat(fields, "adx"),
		Liquidity:   optFloat(fields, "liq"),
		Spread:      optFloat(fields, "spr"),
		Session:     optString(fields, "sess"),
		Fingerprint: optString(fields, "fp"),
		Version:     optString(fields, "v"),
		EventTime:   optEpochMillis(fields, "t"),
	}, nil
}

func (n Normalizer) identity(kind domain.Kind, fields Fields) (string, string, error) {
	sym, symOK := fields.Lookup("sym")
	tf, tfOK := fields.Lookup("tf")

	if n.Strict && (!symOK || !tfOK) {
		var missing []string
		if !symOK {
			missing = append(missing, "sym")
		}
		if !tfOK {
			missing = append(missing, "tf")
		}
		return "", "", &domain.MissingFieldsError{Kind: kind, Keys: missing}
	}

	if !symOK {
		sym = domain.Unknown
	}
	if !tfOK {
		tf = domain.Unknown
	}
	return sym, tf, nil
}

// ---------------------------------------------------------------------------
// Permissive coercion. Every helper returns nil for absent, empty or
// unparsable input.
// ---------------------------------------------------------------------------

func optString(f Fields, keys ...string) *string {
	v, ok := f.Lookup(keys...)
	if !ok {
		return nil
	}
	return &v
}

// optFloat uses the first present key only; a present but garbage value does
// not fall through to the alias.
func optFloat(f Fields, keys ...string) *float64 {
	v, ok := f.Lookup(keys...)
	if !ok {
		return nil
	}
	x, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(x) || math.IsInf(x, 0) {
		return nil
	}
	return &x
}

// optInt accepts plain integers and integral floats such as "3.0", which
// some chart scripts emit for integer inputs.
func optInt(f Fields, keys ...string) *int64 {
	v, ok := f.Lookup(keys...)
	if !ok {
		return nil
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return &n
	}
	x, err := strconv.ParseFloat(v, 64)
	if err != nil || x != math.Trunc(x) || math.Abs(x) > math.MaxInt64/2 {
		return nil
	}
	n := int64(x)
	return &n
}

func optEpochMillis(f Fields, keys ...string) *time.Time {
	v, ok := f.Lookup(keys...)
	if !ok {
		return nil
	}
	ms, err := strconv.ParseInt(strings.TrimSuffix(v, ".0"), 10, 64)
	if err != nil || ms <= 0 {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}
