package telemetry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/telemgps/internal/domain"
)

type memorySink struct {
	mu      sync.Mutex
	records []domain.Record
	err     error
}

func (s *memorySink) Store(_ context.Context, rec domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func newTestIngestor(cfg IngestorConfig, sink Sink) *Ingestor {
	ing := NewIngestor(cfg, NewDedup(100, 10), sink, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ing.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	ing.newID = func() string { return "id-1" }
	return ing
}

func TestIngestTrade(t *testing.T) {
	sink := &memorySink{}
	ing := newTestIngestor(IngestorConfig{}, sink)

	raw := "EL|sym=BTCUSDT|tf=5|ag=3|al=7.2|rs=trend"
	res, err := ing.Ingest(context.Background(), raw, "")
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, domain.KindTrade, res.Record.Kind)

	require.Len(t, sink.records, 1)
	ev := sink.records[0].Trade
	require.NotNil(t, ev)
	assert.Equal(t, "id-1", ev.ID)
	assert.Equal(t, DefaultSource, ev.Source)
	assert.Equal(t, raw, ev.Raw)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), ev.ReceivedAt)
}

func TestIngestMarket(t *testing.T) {
	sink := &memorySink{}
	ing := newTestIngestor(IngestorConfig{DefaultSource: "pine"}, sink)

	res, err := ing.Ingest(context.Background(), "PSY|sym=ETHUSDT|tf=15|adx=22.1|liq=0.8", "custom")
	require.NoError(t, err)
	assert.Equal(t, domain.KindMarket, res.Record.Kind)
	require.NotNil(t, res.Record.Market)
	assert.Equal(t, "custom", res.Record.Market.Source)
	assert.Nil(t, res.Record.Trade)
}

func TestIngestDuplicateNotStored(t *testing.T) {
	sink := &memorySink{}
	ing := newTestIngestor(IngestorConfig{}, sink)

	raw := "XA|sym=BTC|tf=1"
	_, err := ing.Ingest(context.Background(), raw, "")
	require.NoError(t, err)

	res, err := ing.Ingest(context.Background(), raw, "")
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Len(t, sink.records, 1)
}

func TestIngestRejectsBeforeDedup(t *testing.T) {
	sink := &memorySink{}
	ing := newTestIngestor(IngestorConfig{}, sink)

	_, err := ing.Ingest(context.Background(), "????|a=1", "")
	assert.ErrorIs(t, err, domain.ErrUnrecognizedPayload)
	_, err = ing.Ingest(context.Background(), "   ", "")
	assert.ErrorIs(t, err, domain.ErrEmptyPayload)

	assert.Equal(t, 0, ing.dedup.Len())
	assert.Empty(t, sink.records)
}

func TestIngestSinkErrorPropagatesAndAllowsRetry(t *testing.T) {
	boom := errors.New("disk full")
	sink := &memorySink{err: boom}
	ing := newTestIngestor(IngestorConfig{}, sink)

	raw := "EL|sym=BTC|tf=1"
	_, err := ing.Ingest(context.Background(), raw, "")
	assert.Same(t, boom, err)

	sink.err = nil
	res, err := ing.Ingest(context.Background(), raw, "")
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Len(t, sink.records, 1)
}

// gateSink blocks Store until release is closed, then returns err.
type gateSink struct {
	entered chan struct{}
	release chan struct{}
	err     error
	calls   atomic.Int32
}

func (s *gateSink) Store(context.Context, domain.Record) error {
	if s.calls.Add(1) == 1 {
		close(s.entered)
		<-s.release
	}
	return s.err
}

func TestIngestRetryDuringStoreIsNotAcknowledged(t *testing.T) {
	sink := &gateSink{entered: make(chan struct{}), release: make(chan struct{}), err: errors.New("db down")}
	ing := newTestIngestor(IngestorConfig{}, sink)
	raw := "EL|sym=BTC|tf=1"

	first := make(chan error, 1)
	go func() {
		_, err := ing.Ingest(context.Background(), raw, "")
		first <- err
	}()
	<-sink.entered

	res, err := ing.Ingest(context.Background(), raw, "")
	assert.ErrorIs(t, err, domain.ErrInFlight)
	assert.False(t, res.Duplicate)

	close(sink.release)
	assert.ErrorContains(t, <-first, "db down")

	sink.err = nil
	res, err = ing.Ingest(context.Background(), raw, "")
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, int32(2), sink.calls.Load())

	res, err = ing.Ingest(context.Background(), raw, "")
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
}

func TestIngestSharedSecret(t *testing.T) {
	sink := &memorySink{}
	ing := newTestIngestor(IngestorConfig{SharedSecret: "s3cr3t"}, sink)

	_, err := ing.Ingest(context.Background(), "TELEM|sym=BTC|sig=HB", "")
	assert.ErrorIs(t, err, domain.ErrBadSecret)

	_, err = ing.Ingest(context.Background(), "TELEM|sym=BTC|sig=HB|sec=wrong", "")
	assert.ErrorIs(t, err, domain.ErrBadSecret)

	_, err = ing.Ingest(context.Background(), "TELEM|sym=BTC|sig=HB|sec=s3cr3t", "")
	require.NoError(t, err)
	assert.Len(t, sink.records, 1)
}

func TestIngestStrictMissingFields(t *testing.T) {
	ing := newTestIngestor(IngestorConfig{Strict: true}, &memorySink{})
	_, err := ing.Ingest(context.Background(), "EL|tf=5", "")
	assert.ErrorIs(t, err, domain.ErrMissingFields)
}

func TestParseHasNoSideEffects(t *testing.T) {
	sink := &memorySink{}
	ing := newTestIngestor(IngestorConfig{}, sink)

	rec, err := ing.Parse("EL|sym=BTC", "")
	require.NoError(t, err)
	assert.Empty(t, rec.ID())
	assert.Equal(t, 0, ing.dedup.Len())
	assert.Empty(t, sink.records)
}
