package dispatch

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/example/dispatch-engine/internal/models"
	"github.com/example/dispatch-engine/internal/observability"
)

// Sink receives committed trip events, e.g. the Kafka producer.
type Sink interface {
	Publish(ctx context.Context, e models.TripEvent) error
}

type namedSink struct {
	name string
	sink Sink
}

// Fanout delivers every event to the registered sinks and then to the
// WebSocket hub. Delivery failures are logged and counted, never returned:
// the change is already committed and consoles reconcile on their next poll.
type Fanout struct {
	sinks  []namedSink
	hub    *WSRegistry
	logger zerolog.Logger
}

func NewFanout(hub *WSRegistry, logger zerolog.Logger) *Fanout {
	return &Fanout{hub: hub, logger: logger}
}

// AddSink registers s under name; name is the metrics label.
func (f *Fanout) AddSink(name string, s Sink) {
	if s == nil {
		return
	}
	f.sinks = append(f.sinks, namedSink{name: name, sink: s})
}

func (f *Fanout) Notify(ctx context.Context, e models.TripEvent) {
	for _, ns := range f.sinks {
		if err := ns.sink.Publish(ctx, e); err != nil {
			observability.EventsPublished.WithLabelValues(ns.name, "error").Inc()
			f.logger.Warn().Err(err).Str("sink", ns.name).Str("trip_id", e.TripID).Msg("publish trip event failed")
			continue
		}
		observability.EventsPublished.WithLabelValues(ns.name, "ok").Inc()
	}
	if f.hub != nil {
		n := f.hub.Broadcast(e)
		observability.EventsPublished.WithLabelValues("ws", "ok").Add(float64(n))
	}
}
