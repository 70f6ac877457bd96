package telemetry

import (
	"sort"

	"github.com/alanyoungcy/telemgps/internal/domain"
)

var (
	tradeActions = set(domain.VerbEntryLong, domain.VerbEntryShort, domain.VerbExitLong, domain.VerbExitShort, domain.VerbExitAll)

	tradeEnvelopes  = set("TELEM", "TRADE", "TRD", "SIG")
	marketEnvelopes = set("MKT", "MARKET", "PSY", "SNAP")

	verbKeys = []string{"sig", "verb"}

	// Indicators only market snapshots carry: trend strength, band width,
	// liquidity, fingerprint, spread and session.
	marketOnlyKeys = []string{"adx", "bbw", "bb", "liq", "fp", "spr", "sess"}
)

func set(vals ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		m[v] = struct{}{}
	}
	return m
}

// IsTradeAction reports whether code is one of the known entry/exit codes.
func IsTradeAction(code string) bool {
	_, ok := tradeActions[code]
	return ok
}

// Classify decides the kind of a tokenized message. Known prefixes win;
// otherwise the field set is inspected, a verb key meaning trade and a
// market-only indicator meaning market. Anything else is rejected with an
// *domain.UnrecognizedPayloadError.
func Classify(prefix string, fields Fields) (domain.Kind, error) {
	if _, ok := tradeActions[prefix]; ok {
		return domain.KindTrade, nil
	}
	if _, ok := tradeEnvelopes[prefix]; ok {
		return domain.KindTrade, nil
	}
	if _, ok := marketEnvelopes[prefix]; ok {
		return domain.KindMarket, nil
	}

	if fields.Has(verbKeys...) {
		return domain.KindTrade, nil
	}
	if fields.Has(marketOnlyKeys...) {
		return domain.KindMarket, nil
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return "", &domain.UnrecognizedPayloadError{Prefix: prefix, Keys: keys}
}
