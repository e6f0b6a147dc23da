package eventbus

import (
	"context"

	"github.com/metamart/marketplace/internal/domain/market"
	"github.com/metamart/marketplace/internal/observability"
)

// Sink adapts a Bus to the engine-facing publisher contract: lifecycle
// operations never fail because delivery did.
type Sink struct {
	bus Bus
}

// NewSink wraps the bus for use as a market.Publisher.
func NewSink(bus Bus) *Sink {
	return &Sink{bus: bus}
}

// Publish forwards the event, logging delivery errors instead of returning them.
func (s *Sink) Publish(ctx context.Context, evt market.Event) {
	if s == nil || s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, evt); err != nil {
		observability.Log().Error("event publish failed",
			observability.Field{Key: "event_type", Value: string(evt.Type)},
			observability.Field{Key: "error", Value: err.Error()})
	}
}
