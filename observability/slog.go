package observability

import (
	"context"
	"log/slog"
)

// SlogObserver bridges observer events into structured logs: one log record
// per event, using the event type as the message and carrying the source and
// every Data entry as attributes.
type SlogObserver struct {
	logger *slog.Logger
}

// NewSlogObserver wraps a logger as an Observer.
func NewSlogObserver(logger *slog.Logger) *SlogObserver {
	return &SlogObserver{logger: logger}
}

// OnEvent writes the event at its mapped slog level.
func (o *SlogObserver) OnEvent(ctx context.Context, event Event) {
	attrs := make([]slog.Attr, 0, len(event.Data)+1)
	attrs = append(attrs, slog.String("source", event.Source))
	for key, value := range event.Data {
		attrs = append(attrs, slog.Any(key, value))
	}

	o.logger.LogAttrs(ctx, event.Level.SlogLevel(), string(event.Type), attrs...)
}
