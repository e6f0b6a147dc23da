// Package eventbus defines pub/sub interfaces for marketplace lifecycle events.
package eventbus

import (
	"context"

	"github.com/metamart/marketplace/internal/domain/market"
)

// SubscriptionID uniquely identifies a bus subscription.
type SubscriptionID string

// Bus delivers lifecycle events to interested subscribers.
type Bus interface {
	Publish(ctx context.Context, evt market.Event) error
	Subscribe(ctx context.Context, types ...market.EventType) (SubscriptionID, <-chan market.Event, error)
	Unsubscribe(id SubscriptionID)
	Close()
}

// MemoryConfig configures the in-memory bus buffers.
type MemoryConfig struct {
	BufferSize    int
	FanoutWorkers int
}

func (c MemoryConfig) normalize() MemoryConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 64
	}
	if c.FanoutWorkers <= 0 {
		c.FanoutWorkers = 4
	}
	return c
}
