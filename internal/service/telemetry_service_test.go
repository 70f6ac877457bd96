package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/telemgps/internal/domain"
)

type fakeStore struct {
	domain.TelemetryStore
	trades  []domain.TradeEvent
	markets []domain.MarketSnapshot
	err     error
	since   time.Time
}

func (f *fakeStore) InsertTrade(_ context.Context, ev domain.TradeEvent) error {
	if f.err != nil {
		return f.err
	}
	f.trades = append(f.trades, ev)
	return nil
}

func (f *fakeStore) InsertMarket(_ context.Context, snap domain.MarketSnapshot) error {
	if f.err != nil {
		return f.err
	}
	f.markets = append(f.markets, snap)
	return nil
}

func (f *fakeStore) Rollup(_ context.Context, _ string, since time.Time) (domain.Rollup, error) {
	f.since = since
	return domain.Rollup{Since: since}, nil
}

func (f *fakeStore) LatestTrade(context.Context, string, string) (domain.TradeEvent, error) {
	if len(f.trades) == 0 {
		return domain.TradeEvent{}, domain.ErrNotFound
	}
	return f.trades[len(f.trades)-1], nil
}

func (f *fakeStore) ListTrades(context.Context, domain.TelemetryFilter) ([]domain.TradeEvent, error) {
	return append([]domain.TradeEvent(nil), f.trades...), nil
}

func (f *fakeStore) ListMarkets(context.Context, domain.TelemetryFilter) ([]domain.MarketSnapshot, error) {
	return append([]domain.MarketSnapshot(nil), f.markets...), nil
}

type fakeFiles struct {
	recs []domain.Record
	err  error
}

func (f *fakeFiles) Append(rec domain.Record) error {
	if f.err != nil {
		return f.err
	}
	f.recs = append(f.recs, rec)
	return nil
}

type fakeBus struct {
	domain.SignalBus
	published map[string][][]byte
	streamed  int
	err       error
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	if b.err != nil {
		return b.err
	}
	if b.published == nil {
		b.published = map[string][][]byte{}
	}
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBus) StreamAppend(context.Context, string, []byte) error {
	if b.err != nil {
		return b.err
	}
	b.streamed++
	return nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	verbs []string
}

func (n *fakeNotifier) NotifyTrade(_ context.Context, ev domain.TradeEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.verbs = append(n.verbs, ev.Verb)
	return nil
}

type fakeAudit struct {
	events  []string
	details []map[string]any
}

func (a *fakeAudit) Log(_ context.Context, event string, detail map[string]any) error {
	a.events = append(a.events, event)
	a.details = append(a.details, detail)
	return nil
}

func (a *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func tradeRecord(verb string) domain.Record {
	return domain.Record{Kind: domain.KindTrade, Trade: &domain.TradeEvent{ID: "t1", Verb: verb, Symbol: "BTC"}}
}

func TestStoreTradeFansOut(t *testing.T) {
	store, files, bus, n := &fakeStore{}, &fakeFiles{}, &fakeBus{}, &fakeNotifier{}
	svc := NewTelemetryService(store, files, bus, n, nil, discard())

	require.NoError(t, svc.Store(context.Background(), tradeRecord("EL")))
	svc.Wait()

	assert.Len(t, store.trades, 1)
	assert.Len(t, files.recs, 1)
	require.Len(t, bus.published[domain.ChannelTrade], 1)
	assert.Equal(t, 1, bus.streamed)
	assert.Equal(t, []string{"EL"}, n.verbs)

	var rec domain.Record
	require.NoError(t, json.Unmarshal(bus.published[domain.ChannelTrade][0], &rec))
	assert.Equal(t, "t1", rec.ID())
}

func TestStoreMarketSkipsAlert(t *testing.T) {
	store, bus, n := &fakeStore{}, &fakeBus{}, &fakeNotifier{}
	svc := NewTelemetryService(store, nil, bus, n, nil, discard())

	rec := domain.Record{Kind: domain.KindMarket, Market: &domain.MarketSnapshot{ID: "m1"}}
	require.NoError(t, svc.Store(context.Background(), rec))
	svc.Wait()

	assert.Len(t, store.markets, 1)
	assert.Len(t, bus.published[domain.ChannelMarket], 1)
	assert.Empty(t, n.verbs)
}

func TestStoreFailures(t *testing.T) {
	boom := errors.New("boom")

	svc := NewTelemetryService(&fakeStore{err: boom}, &fakeFiles{}, nil, nil, nil, discard())
	assert.ErrorIs(t, svc.Store(context.Background(), tradeRecord("EL")), boom)

	svc = NewTelemetryService(&fakeStore{}, &fakeFiles{err: boom}, nil, nil, nil, discard())
	assert.ErrorIs(t, svc.Store(context.Background(), tradeRecord("EL")), boom)

	svc = NewTelemetryService(&fakeStore{}, nil, nil, nil, nil, discard())
	assert.Error(t, svc.Store(context.Background(), domain.Record{Kind: domain.KindTrade}))
}

func TestStoreBusFailureIsBestEffort(t *testing.T) {
	store := &fakeStore{}
	svc := NewTelemetryService(store, nil, &fakeBus{err: errors.New("redis down")}, nil, nil, discard())
	require.NoError(t, svc.Store(context.Background(), tradeRecord("XA")))
	assert.Len(t, store.trades, 1)
}

func TestReject(t *testing.T) {
	audit := &fakeAudit{}
	svc := NewTelemetryService(&fakeStore{}, nil, nil, nil, audit, discard())

	cause := &domain.UnrecognizedPayloadError{Prefix: "????", Keys: []string{"a"}}
	svc.Reject(context.Background(), "????|a=1", "tv", cause)

	require.Equal(t, []string{"ingest.rejected"}, audit.events)
	assert.Equal(t, "????", audit.details[0]["prefix"])
	assert.Equal(t, "????|a=1", audit.details[0]["raw"])
}

func TestSecretStaysInStoreOnly(t *testing.T) {
	const raw = "EL|sym=BTC|tf=5|sec=hush"
	store, files, bus, audit := &fakeStore{}, &fakeFiles{}, &fakeBus{}, &fakeAudit{}
	svc := NewTelemetryService(store, files, bus, nil, audit, discard())
	ctx := context.Background()

	rec := tradeRecord("EL")
	rec.Trade.Raw = raw
	require.NoError(t, svc.Store(ctx, rec))

	assert.Equal(t, raw, store.trades[0].Raw)
	assert.Equal(t, raw, rec.Trade.Raw)
	assert.Equal(t, "EL|sym=BTC|tf=5|sec=***", files.recs[0].Trade.Raw)
	assert.NotContains(t, string(bus.published[domain.ChannelTrade][0]), "hush")

	ev, err := svc.LatestTrade(ctx, "BTC", "5")
	require.NoError(t, err)
	assert.NotContains(t, ev.Raw, "hush")

	events, err := svc.ListTrades(ctx, domain.TelemetryFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.NotContains(t, events[0].Raw, "hush")
	assert.Equal(t, raw, store.trades[0].Raw)

	store.markets = append(store.markets, domain.MarketSnapshot{Raw: "MKT|px=1|sec=hush"})
	snaps, err := svc.ListMarkets(ctx, domain.TelemetryFilter{})
	require.NoError(t, err)
	assert.Equal(t, "MKT|px=1|sec=***", snaps[0].Raw)

	svc.Reject(ctx, "????|sec=hush", "tv", domain.ErrMissingFields)
	assert.Equal(t, "????|sec=***", audit.details[0]["raw"])
}

func TestRollupWindow(t *testing.T) {
	store := &fakeStore{}
	svc := NewTelemetryService(store, nil, nil, nil, nil, discard())

	before := time.Now().UTC()
	_, err := svc.Rollup(context.Background(), "BTC", time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, before.Add(-time.Hour), store.since, 5*time.Second)
}
