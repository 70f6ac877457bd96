package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/telemgps/internal/domain"
)

func TestRedactRaw(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"EL|sym=BTC|tf=5|sec=hush", "EL|sym=BTC|tf=5|sec=***"},
		{"EL|sec=hush|sym=BTC", "EL|sec=***|sym=BTC"},
		{"EL| sec =a=b|sec=c", "EL| sec =***|sec=***"},
		{"EL|sym=BTC|secx=keep", "EL|sym=BTC|secx=keep"},
		{"sec|sym=BTC", "sec|sym=BTC"},
		{"EL|sym=BTC", "EL|sym=BTC"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RedactRaw(tt.raw), tt.raw)
	}
}

func TestRedactCopiesRecord(t *testing.T) {
	ev := domain.TradeEvent{ID: "1", Raw: "EL|sym=BTC|sec=hush"}
	rec := domain.Record{Kind: domain.KindTrade, Trade: &ev}

	out := Redact(rec)
	assert.Equal(t, "EL|sym=BTC|sec=***", out.Trade.Raw)
	assert.Equal(t, "EL|sym=BTC|sec=hush", rec.Trade.Raw)
	assert.Equal(t, "1", out.Trade.ID)

	snap := RedactMarket(domain.MarketSnapshot{Raw: "MKT|px=1|sec=hush"})
	assert.Equal(t, "MKT|px=1|sec=***", snap.Raw)
}
