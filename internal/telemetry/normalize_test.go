package telemetry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/telemgps/internal/domain"
)

func mustTokenize(t *testing.T, raw string) (string, Fields) {
	t.Helper()
	prefix, fields, err := Tokenize(raw)
	require.NoError(t, err)
	return prefix, fields
}

func TestTradeSpecScenario(t *testing.T) {
	prefix, fields := mustTokenize(t, "EL|sym=BTCUSDT|tf=5|ag=3|al=7.2|rs=trend")

	ev, err := Normalizer{}.Trade(prefix, fields, "tv")
	require.NoError(t, err)

	assert.Equal(t, "EL", ev.Verb)
	assert.Equal(t, "BTCUSDT", ev.Symbol)
	assert.Equal(t, "5", ev.Timeframe)
	require.NotNil(t, ev.Aggression)
	assert.Equal(t, int64(3), *ev.Aggression)
	require.NotNil(t, ev.Alignment)
	assert.InDelta(t, 7.2, *ev.Alignment, 1e-9)
	require.NotNil(t, ev.Regime)
	assert.Equal(t, "trend", *ev.Regime)
	assert.Equal(t, "tv", ev.Source)

	assert.Nil(t, ev.Persona)
	assert.Nil(t, ev.Hazard)
	assert.Nil(t, ev.WinRate)
	assert.Nil(t, ev.EventTime)
}

func TestTradeVerbPrecedence(t *testing.T) {
	ev, err := Normalizer{}.Trade("TELEM", Fields{"sig": "HB", "verb": "EL"}, "")
	require.NoError(t, err)
	assert.Equal(t, "HB", ev.Verb)

	ev, err = Normalizer{}.Trade("TELEM", Fields{"verb": "XS"}, "")
	require.NoError(t, err)
	assert.Equal(t, "XS", ev.Verb)

	ev, err = Normalizer{}.Trade("XA", Fields{}, "")
	require.NoError(t, err)
	assert.Equal(t, "XA", ev.Verb)
}

func TestTradeDefaultsAndAliases(t *testing.T) {
	ev, err := Normalizer{}.Trade("EL", Fields{"p": "aggressive", "reg": "range", "tf": " "}, "")
	require.NoError(t, err)

	assert.Equal(t, domain.Unknown, ev.Symbol)
	assert.Equal(t, domain.Unknown, ev.Timeframe)
	require.NotNil(t, ev.Persona)
	assert.Equal(t, "aggressive", *ev.Persona)
	require.NotNil(t, ev.Regime)
	assert.Equal(t, "range", *ev.Regime)

	ev, err = Normalizer{}.Trade("EL", Fields{"sq": "C", "p": "ignored", "rs": "X", "reg": "ignored"}, "")
	require.NoError(t, err)
	assert.Equal(t, "C", *ev.Persona)
	assert.Equal(t, "X", *ev.Regime)
}

func TestTradeUnparsableNumericsAreAbsent(t *testing.T) {
	prefix, fields := mustTokenize(t, "EL|sym=BTC|tf=1|al=notanumber|ag=three|hz=NaN|d=Inf|sl= 101.5 |ag2=1")

	ev, err := Normalizer{}.Trade(prefix, fields, "")
	require.NoError(t, err)

	assert.Nil(t, ev.Alignment)
	assert.Nil(t, ev.Aggression)
	assert.Nil(t, ev.Hazard)
	assert.Nil(t, ev.Distance)
	require.NotNil(t, ev.StopLevel)
	assert.InDelta(t, 101.5, *ev.StopLevel, 1e-9)
}

func TestTradeSupplementedFields(t *testing.T) {
	prefix, fields := mustTokenize(t,
		"TELEM|v=2|sym=KUCOIN:SOLUSDT|tf=1|t=1723824000000|sq=C|reg=X|m=1|sc=12.3|d=2.1|al=7.0|atrx=1.12|sig=HB|sec=SECRET")

	ev, err := Normalizer{}.Trade(prefix, fields, "")
	require.NoError(t, err)

	assert.Equal(t, "HB", ev.Verb)
	assert.Equal(t, "2", *ev.Version)
	assert.Equal(t, int64(1), *ev.Mode)
	assert.InDelta(t, 12.3, *ev.Score, 1e-9)
	assert.InDelta(t, 1.12, *ev.ATRMultiple, 1e-9)
	require.NotNil(t, ev.EventTime)
	assert.True(t, ev.EventTime.Equal(time.UnixMilli(1723824000000)))
}

func TestAggressionIntegralFloat(t *testing.T) {
	ev, err := Normalizer{}.Trade("EL", Fields{"ag": "4.0"}, "")
	require.NoError(t, err)
	require.NotNil(t, ev.Aggression)
	assert.Equal(t, int64(4), *ev.Aggression)

	ev, err = Normalizer{}.Trade("EL", Fields{"ag": "4.5"}, "")
	require.NoError(t, err)
	assert.Nil(t, ev.Aggression)
}

func TestMarketSpecScenario(t *testing.T) {
	prefix, fields := mustTokenize(t, "PSY|sym=ETHUSDT|tf=15|adx=22.1|liq=0.8")

	snap, err := Normalizer{}.Market(prefix, fields, "tv")
	require.NoError(t, err)

	assert.Equal(t, "ETHUSDT", snap.Symbol)
	assert.Equal(t, "15", snap.Timeframe)
	require.NotNil(t, snap.ADX)
	assert.InDelta(t, 22.1, *snap.ADX, 1e-9)
	require.NotNil(t, snap.Liquidity)
	assert.InDelta(t, 0.8, *snap.Liquidity, 1e-9)
	assert.Nil(t, snap.Price)
	assert.Nil(t, snap.BandWidth)
	assert.Nil(t, snap.Session)
}

func TestMarketBandWidthAlias(t *testing.T) {
	_, fields := mustTokenize(t, "MKT|sym=X|bbw=0.5|bb=0.9")
	snap, err := Normalizer{}.Market("MKT", fields, "")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, *snap.BandWidth, 1e-9)
	assert.InDelta(t, 0.9, *snap.Bollinger, 1e-9)

	snap, err = Normalizer{}.Market("MKT", Fields{"bb": "0.9"}, "")
	require.NoError(t, err)
	assert.InDelta(t, 0.9, *snap.BandWidth, 1e-9)
}

func TestMarketRegimeAlias(t *testing.T) {
	tests := []struct {
		fields Fields
		want   string
	}{
		{Fields{"rg": "a", "regime": "b", "reg": "c"}, "a"},
		{Fields{"regime": "b", "reg": "c"}, "b"},
		{Fields{"reg": "c"}, "c"},
	}
	for _, tt := range tests {
		snap, err := Normalizer{}.Market("MKT", tt.fields, "")
		require.NoError(t, err)
		require.NotNil(t, snap.Regime)
		assert.Equal(t, tt.want, *snap.Regime)
	}
}

func TestMarketPassThroughStrings(t *testing.T) {
	snap, err := Normalizer{}.Market("MKT", Fields{"sess": "LDN", "fp": "a1b2", "px": "101.25", "vol": "x"}, "")
	require.NoError(t, err)
	assert.Equal(t, "LDN", *snap.Session)
	assert.Equal(t, "a1b2", *snap.Fingerprint)
	assert.InDelta(t, 101.25, *snap.Price, 1e-9)
	assert.Nil(t, snap.Volume)
}

func TestStrictPolicy(t *testing.T) {
	strict := Normalizer{Strict: true}

	_, err := strict.Trade("EL", Fields{"tf": "5"}, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMissingFields)
	var mfe *domain.MissingFieldsError
	require.True(t, errors.As(err, &mfe))
	assert.Equal(t, domain.KindTrade, mfe.Kind)
	assert.Equal(t, []string{"sym"}, mfe.Keys)

	_, err = strict.Market("MKT", Fields{}, "")
	require.True(t, errors.As(err, &mfe))
	assert.Equal(t, []string{"sym", "tf"}, mfe.Keys)

	ev, err := strict.Trade("EL", Fields{"sym": "BTC", "tf": "5", "al": "bad"}, "")
	require.NoError(t, err)
	assert.Nil(t, ev.Alignment)
}
