package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	concpool "github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/metamart/marketplace/errs"
	"github.com/metamart/marketplace/internal/domain/market"
	"github.com/metamart/marketplace/internal/telemetry"
)

// MemoryBus is an in-memory implementation of Bus. Delivery is best effort:
// a subscriber whose buffer is full misses the event rather than blocking the
// lifecycle operation that produced it.
type MemoryBus struct {
	cfg MemoryConfig

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.RWMutex
	subscribers  map[market.EventType]map[SubscriptionID]*subscriber
	shutdownOnce sync.Once

	published      metric.Int64Counter
	subscriberGa   metric.Int64UpDownCounter
	deliveryMissed metric.Int64Counter
}

type subscriber struct {
	ctx    context.Context
	cancel context.CancelFunc
	ch     chan market.Event
	once   sync.Once

	// sendMu serializes deliveries against close so a fanout goroutine can
	// never send on a channel Unsubscribe has already closed.
	sendMu sync.Mutex
	closed bool
}

// deliver attempts a non-blocking send. delivered reports success; open is
// false once the subscription has been torn down.
func (s *subscriber) deliver(evt market.Event) (delivered, open bool) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed || s.ctx.Err() != nil {
		return false, false
	}
	select {
	case s.ch <- evt:
		return true, true
	default:
		return false, true
	}
}

func (s *subscriber) close() {
	s.once.Do(func() {
		s.cancel()
		s.sendMu.Lock()
		s.closed = true
		close(s.ch)
		s.sendMu.Unlock()
	})
}

// NewMemoryBus constructs a memory-backed event bus.
func NewMemoryBus(cfg MemoryConfig) *MemoryBus {
	cfg = cfg.normalize()
	ctx, cancel := context.WithCancel(context.Background())
	bus := new(MemoryBus)
	bus.cfg = cfg
	bus.ctx = ctx
	bus.cancel = cancel
	bus.subscribers = make(map[market.EventType]map[SubscriptionID]*subscriber)

	meter := otel.Meter("eventbus")
	bus.published, _ = meter.Int64Counter("eventbus.events.published",
		metric.WithDescription("Number of events published to the bus"),
		metric.WithUnit("{event}"))
	bus.subscriberGa, _ = meter.Int64UpDownCounter("eventbus.subscribers",
		metric.WithDescription("Number of active subscribers"),
		metric.WithUnit("{subscriber}"))
	bus.deliveryMissed, _ = meter.Int64Counter("eventbus.delivery.missed",
		metric.WithDescription("Number of deliveries dropped due to subscriber backpressure"),
		metric.WithUnit("{event}"))

	return bus
}

// Publish fans the event out to all subscribers of its type.
func (b *MemoryBus) Publish(ctx context.Context, evt market.Event) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if evt.Type == "" {
		return errs.New("eventbus/publish", errs.CodeInvalid, errs.WithMessage("event type required"))
	}
	if err := b.ctx.Err(); err != nil {
		return errs.New("eventbus/publish", errs.CodeConflict, errs.WithMessage("bus is closed"), errs.WithCause(err))
	}

	b.mu.RLock()
	subMap := b.subscribers[evt.Type]
	targets := make([]*subscriber, 0, len(subMap))
	for _, sub := range subMap {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	if b.published != nil {
		b.published.Add(ctx, 1, metric.WithAttributes(
			telemetry.EventType(string(evt.Type))))
	}
	if len(targets) == 0 {
		return nil
	}

	workers := b.cfg.FanoutWorkers
	if workers > len(targets) {
		workers = len(targets)
	}
	p := concpool.New().WithMaxGoroutines(workers)
	for _, sub := range targets {
		sub := sub
		p.Go(func() {
			delivered, open := sub.deliver(evt)
			if !delivered && open && b.deliveryMissed != nil {
				b.deliveryMissed.Add(ctx, 1, metric.WithAttributes(
					telemetry.EventType(string(evt.Type))))
			}
		})
	}
	p.Wait()
	return nil
}

// Subscribe registers for the given event types and returns a subscription ID
// and a shared delivery channel. No types means all marketplace event types.
func (b *MemoryBus) Subscribe(ctx context.Context, types ...market.EventType) (SubscriptionID, <-chan market.Event, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := b.ctx.Err(); err != nil {
		return "", nil, errs.New("eventbus/subscribe", errs.CodeConflict, errs.WithMessage("bus is closed"), errs.WithCause(err))
	}
	if len(types) == 0 {
		types = []market.EventType{
			market.EventOrderCreated, market.EventOrderCancelled, market.EventOrderSuccessful,
			market.EventAuctionCreated, market.EventAuctionCancelled, market.EventAuctionSuccessful,
		}
	}
	for _, typ := range types {
		if typ == "" {
			return "", nil, errs.New("eventbus/subscribe", errs.CodeInvalid, errs.WithMessage("event type required"))
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := new(subscriber)
	sub.ctx = ctx
	sub.cancel = cancel
	sub.ch = make(chan market.Event, b.cfg.BufferSize)

	id := SubscriptionID(fmt.Sprintf("sub-%s", uuid.NewString()))

	b.mu.Lock()
	for _, typ := range types {
		if _, ok := b.subscribers[typ]; !ok {
			b.subscribers[typ] = make(map[SubscriptionID]*subscriber)
		}
		b.subscribers[typ][id] = sub
	}
	b.mu.Unlock()

	if b.subscriberGa != nil {
		b.subscriberGa.Add(ctx, 1)
	}

	go b.observe(id, sub)
	return id, sub.ch, nil
}

// Unsubscribe removes the subscription and closes its channel.
func (b *MemoryBus) Unsubscribe(id SubscriptionID) {
	if id == "" {
		return
	}
	var removed *subscriber
	b.mu.Lock()
	for typ, subs := range b.subscribers {
		if sub, ok := subs[id]; ok {
			removed = sub
			delete(subs, id)
			if len(subs) == 0 {
				delete(b.subscribers, typ)
			}
		}
	}
	b.mu.Unlock()
	if removed != nil {
		if b.subscriberGa != nil {
			b.subscriberGa.Add(context.Background(), -1)
		}
		removed.close()
	}
}

// Close shuts down the bus and all subscriptions.
func (b *MemoryBus) Close() {
	b.shutdownOnce.Do(func() {
		b.cancel()
		b.mu.Lock()
		seen := make(map[*subscriber]struct{})
		for typ, subs := range b.subscribers {
			for id, sub := range subs {
				if sub != nil {
					seen[sub] = struct{}{}
				}
				delete(subs, id)
			}
			delete(b.subscribers, typ)
		}
		b.mu.Unlock()
		for sub := range seen {
			sub.close()
		}
	})
}

func (b *MemoryBus) observe(id SubscriptionID, sub *subscriber) {
	select {
	case <-sub.ctx.Done():
	case <-b.ctx.Done():
	}
	b.Unsubscribe(id)
}
