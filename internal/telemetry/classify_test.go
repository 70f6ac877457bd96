package telemetry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/telemgps/internal/domain"
)

func TestClassifyKnownPrefixes(t *testing.T) {
	tests := []struct {
		prefix string
		fields Fields
		want   domain.Kind
	}{
		{"EL", nil, domain.KindTrade},
		{"ES", Fields{"adx": "30"}, domain.KindTrade},
		{"XL", Fields{"liq": "0.2", "bbw": "1"}, domain.KindTrade},
		{"XS", nil, domain.KindTrade},
		{"XA", nil, domain.KindTrade},
		{"TELEM", Fields{"sess": "ny"}, domain.KindTrade},
		{"TRADE", nil, domain.KindTrade},
		{"MKT", Fields{"sig": "EL"}, domain.KindMarket},
		{"PSY", nil, domain.KindMarket},
		{"MARKET", nil, domain.KindMarket},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			got, err := Classify(tt.prefix, tt.fields)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyFallbackOnFields(t *testing.T) {
	got, err := Classify("V3", Fields{"sig": "HB", "adx": "20"})
	require.NoError(t, err)
	assert.Equal(t, domain.KindTrade, got)

	got, err = Classify("V3", Fields{"verb": "EL"})
	require.NoError(t, err)
	assert.Equal(t, domain.KindTrade, got)

	for _, key := range []string{"adx", "bbw", "bb", "liq", "fp", "spr", "sess"} {
		got, err := Classify("", Fields{"sym": "BTC", key: "1"})
		require.NoError(t, err, key)
		assert.Equal(t, domain.KindMarket, got, key)
	}
}

func TestClassifyUnrecognized(t *testing.T) {
	_, err := Classify("HELLO", Fields{"tf": "5", "sym": "BTC"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnrecognizedPayload)

	var upe *domain.UnrecognizedPayloadError
	require.True(t, errors.As(err, &upe))
	assert.Equal(t, "HELLO", upe.Prefix)
	assert.Equal(t, []string{"sym", "tf"}, upe.Keys)
}

func TestClassifyEmptyVerbValueIsNoSignal(t *testing.T) {
	_, err := Classify("X", Fields{"sig": ""})
	assert.ErrorIs(t, err, domain.ErrUnrecognizedPayload)
}

func TestIsTradeAction(t *testing.T) {
	assert.True(t, IsTradeAction("XA"))
	assert.False(t, IsTradeAction("HB"))
}
