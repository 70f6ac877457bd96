// Package notify pushes trade alerts to chat channels. Each alert goes to
// every configured sender; the verb filter decides which trade events
// produce an alert at all.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/alanyoungcy/telemgps/internal/domain"
)

// Sender delivers one notification to a channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans alerts out to its senders.
type Notifier struct {
	senders []Sender
	verbs   map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. Only trade verbs listed in verbs raise an
// alert; an empty list allows every verb.
func NewNotifier(senders []Sender, verbs []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(verbs))
	for _, v := range verbs {
		if v = strings.ToUpper(strings.TrimSpace(v)); v != "" {
			allowed[v] = true
		}
	}
	return &Notifier{
		senders: senders,
		verbs:   allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

// Wants reports whether a trade with this verb should raise an alert.
func (n *Notifier) Wants(verb string) bool {
	return len(n.verbs) == 0 || n.verbs[strings.ToUpper(verb)]
}

// NotifyTrade sends an alert for ev when its verb passes the filter.
func (n *Notifier) NotifyTrade(ctx context.Context, ev domain.TradeEvent) error {
	if !n.Enabled() {
		return nil
	}
	if !n.Wants(ev.Verb) {
		n.logger.DebugContext(ctx, "verb filtered out", slog.String("sig", ev.Verb))
		return nil
	}
	title, message := FormatTrade(ev)
	return n.dispatch(ctx, title, message)
}

// NotifyAll sends a free-form message to every sender.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch delivers to each sender; one failing sender does not stop the
// rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

var verbNames = map[string]string{
	domain.VerbEntryLong:  "Entry long",
	domain.VerbEntryShort: "Entry short",
	domain.VerbExitLong:   "Exit long",
	domain.VerbExitShort:  "Exit short",
	domain.VerbExitAll:    "Exit all",
}

// FormatTrade renders the alert title and body for ev. Absent fields are
// left out of the body.
func FormatTrade(ev domain.TradeEvent) (title, message string) {
	name, ok := verbNames[ev.Verb]
	if !ok {
		name = ev.Verb
	}
	title = fmt.Sprintf("%s %s %s", name, ev.Symbol, ev.Timeframe)

	var lines []string
	add := func(label, val string) {
		lines = append(lines, label+": "+val)
	}
	if ev.Persona != nil {
		add("persona", *ev.Persona)
	}
	if ev.Aggression != nil {
		add("aggression", strconv.FormatInt(*ev.Aggression, 10))
	}
	if ev.Alignment != nil {
		add("alignment", formatFloat(*ev.Alignment))
	}
	if ev.Hazard != nil {
		add("hazard", formatFloat(*ev.Hazard))
	}
	if ev.StopLevel != nil {
		add("stop", formatFloat(*ev.StopLevel))
	}
	if ev.Regime != nil {
		add("regime", *ev.Regime)
	}
	if ev.Score != nil {
		add("score", formatFloat(*ev.Score))
	}
	add("source", ev.Source)
	return title, strings.Join(lines, "\n")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
