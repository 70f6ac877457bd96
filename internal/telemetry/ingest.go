package telemetry

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/telemgps/internal/domain"
)

// DefaultSource tags records whose sender did not identify itself.
const DefaultSource = "tradingview"

// Sink is the destination of canonical records. Implementations own
// durability; errors are returned to the caller unchanged.
type Sink interface {
	Store(ctx context.Context, rec domain.Record) error
}

// IngestorConfig configures an Ingestor.
type IngestorConfig struct {
	// Strict makes sym and tf mandatory for both kinds.
	Strict bool
	// SharedSecret, when set, must match the message's sec field.
	SharedSecret string
	// DefaultSource is used when Ingest is called with an empty source.
	DefaultSource string
}

// Result describes the outcome of a successful Ingest call.
type Result struct {
	Record    domain.Record
	Duplicate bool
}

// Ingestor runs the full pipeline for one message: tokenize, classify,
// normalize, dedup and store. It holds no per-message state and may be called
// from many goroutines.
type Ingestor struct {
	normalizer    Normalizer
	dedup         *Dedup
	sink          Sink
	secret        string
	defaultSource string
	logger        *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewIngestor creates an Ingestor. dedup may be nil to disable duplicate
// suppression.
func NewIngestor(cfg IngestorConfig, dedup *Dedup, sink Sink, logger *slog.Logger) *Ingestor {
	src := cfg.DefaultSource
	if src == "" {
		src = DefaultSource
	}
	return &Ingestor{
		normalizer:    Normalizer{Strict: cfg.Strict},
		dedup:         dedup,
		sink:          sink,
		secret:        cfg.SharedSecret,
		defaultSource: src,
		logger:        logger.With(slog.String("component", "ingestor")),
		now:           func() time.Time { return time.Now().UTC() },
		newID:         func() string { return uuid.NewString() },
	}
}

// Parse tokenizes, classifies and normalizes raw without side effects. The
// returned record has Raw and Source set but no ID or ReceivedAt.
func (i *Ingestor) Parse(raw, source string) (domain.Record, error) {
	prefix, fields, err := Tokenize(raw)
	if err != nil {
		return domain.Record{}, err
	}
	if i.secret != "" {
		got, _ := fields.Lookup("sec")
		if subtle.ConstantTimeCompare([]byte(got), []byte(i.secret)) != 1 {
			return domain.Record{}, domain.ErrBadSecret
		}
	}
	if source == "" {
		source = i.defaultSource
	}

	kind, err := Classify(prefix, fields)
	if err != nil {
		return domain.Record{}, err
	}

	switch kind {
	case domain.KindTrade:
		ev, err := i.normalizer.Trade(prefix, fields, source)
		if err != nil {
			return domain.Record{}, err
		}
		ev.Raw = raw
		return domain.Record{Kind: kind, Trade: &ev}, nil
	case domain.KindMarket:
		snap, err := i.normalizer.Market(prefix, fields, source)
		if err != nil {
			return domain.Record{}, err
		}
		snap.Raw = raw
		return domain.Record{Kind: kind, Market: &snap}, nil
	}
	return domain.Record{}, fmt.Errorf("telemetry: unhandled kind %q", kind)
}

// Ingest processes one raw message. Duplicates within the dedup window return
// a Result with Duplicate set and a nil error; they are not stored. A copy
// that arrives while the first is still in the sink fails with
// domain.ErrInFlight, so it is never acknowledged before the first outcome is
// known. A sink failure is returned unchanged and the message is dropped from
// the dedup window so that the sender's retry goes through.
func (i *Ingestor) Ingest(ctx context.Context, raw, source string) (Result, error) {
	rec, err := i.Parse(raw, source)
	if err != nil {
		return Result{}, err
	}

	if i.dedup != nil {
		switch i.dedup.Reserve(raw) {
		case MarkDuplicate:
			i.logger.DebugContext(ctx, "duplicate payload suppressed",
				slog.String("kind", string(rec.Kind)),
			)
			return Result{Record: rec, Duplicate: true}, nil
		case MarkPending:
			return Result{}, domain.ErrInFlight
		}
	}

	id, at := i.newID(), i.now()
	switch rec.Kind {
	case domain.KindTrade:
		rec.Trade.ID, rec.Trade.ReceivedAt = id, at
	case domain.KindMarket:
		rec.Market.ID, rec.Market.ReceivedAt = id, at
	}

	if err := i.sink.Store(ctx, rec); err != nil {
		if i.dedup != nil {
			i.dedup.Forget(raw)
		}
		return Result{}, err
	}
	if i.dedup != nil {
		i.dedup.Commit(raw)
	}
	return Result{Record: rec}, nil
}
