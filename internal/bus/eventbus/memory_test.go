package eventbus

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/metamart/marketplace/errs"
	"github.com/metamart/marketplace/internal/domain/market"
)

func testEvent(typ market.EventType) market.Event {
	return market.Event{
		Type:      typ,
		OrderID:   common.HexToHash("0x01"),
		AssetID:   big.NewInt(7),
		Seller:    common.HexToAddress("0x02"),
		Registry:  common.HexToAddress("0x03"),
		Price:     big.NewInt(1000),
		EmittedAt: time.Now(),
	}
}

func waitEvent(t *testing.T, ch <-chan market.Event) market.Event {
	t.Helper()
	select {
	case evt, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed while waiting for event")
		}
		return evt
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return market.Event{}
}

func TestMemoryBusPublishSubscribe(t *testing.T) {
	bus := NewMemoryBus(MemoryConfig{BufferSize: 8, FanoutWorkers: 2})
	defer bus.Close()

	id, ch, err := bus.Subscribe(context.Background(), market.EventOrderCreated)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer bus.Unsubscribe(id)

	if err := bus.Publish(context.Background(), testEvent(market.EventOrderCreated)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	evt := waitEvent(t, ch)
	if evt.Type != market.EventOrderCreated {
		t.Fatalf("unexpected event type %q", evt.Type)
	}
}

func TestMemoryBusTypeFiltering(t *testing.T) {
	bus := NewMemoryBus(MemoryConfig{BufferSize: 8, FanoutWorkers: 2})
	defer bus.Close()

	id, ch, err := bus.Subscribe(context.Background(), market.EventOrderCancelled)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer bus.Unsubscribe(id)

	if err := bus.Publish(context.Background(), testEvent(market.EventOrderCreated)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := bus.Publish(context.Background(), testEvent(market.EventOrderCancelled)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	evt := waitEvent(t, ch)
	if evt.Type != market.EventOrderCancelled {
		t.Fatalf("expected filtered delivery, got %q", evt.Type)
	}
	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra event %q", extra.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemoryBusSubscribeAllTypes(t *testing.T) {
	bus := NewMemoryBus(MemoryConfig{BufferSize: 8, FanoutWorkers: 2})
	defer bus.Close()

	id, ch, err := bus.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer bus.Unsubscribe(id)

	for _, typ := range []market.EventType{
		market.EventOrderCreated, market.EventAuctionSuccessful,
	} {
		if err := bus.Publish(context.Background(), testEvent(typ)); err != nil {
			t.Fatalf("publish %s: %v", typ, err)
		}
		evt := waitEvent(t, ch)
		if evt.Type != typ {
			t.Fatalf("expected %q, got %q", typ, evt.Type)
		}
	}
}

func TestMemoryBusRejectsEmptyType(t *testing.T) {
	bus := NewMemoryBus(MemoryConfig{})
	defer bus.Close()

	if err := bus.Publish(context.Background(), market.Event{}); errs.CodeOf(err) != errs.CodeInvalid {
		t.Fatalf("expected invalid for empty type, got %v", err)
	}
	if _, _, err := bus.Subscribe(context.Background(), market.EventType("")); errs.CodeOf(err) != errs.CodeInvalid {
		t.Fatalf("expected invalid for empty subscribe type, got %v", err)
	}
}

func TestMemoryBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewMemoryBus(MemoryConfig{})
	defer bus.Close()

	id, ch, err := bus.Subscribe(context.Background(), market.EventOrderCreated)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	bus.Unsubscribe(id)

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected closed channel after unsubscribe")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("channel not closed after unsubscribe")
	}
}

func TestMemoryBusPublishAfterClose(t *testing.T) {
	bus := NewMemoryBus(MemoryConfig{})
	bus.Close()

	if err := bus.Publish(context.Background(), testEvent(market.EventOrderCreated)); errs.CodeOf(err) != errs.CodeConflict {
		t.Fatalf("expected conflict after close, got %v", err)
	}
	if _, _, err := bus.Subscribe(context.Background(), market.EventOrderCreated); errs.CodeOf(err) != errs.CodeConflict {
		t.Fatalf("expected conflict subscribing after close, got %v", err)
	}
}

func TestMemoryBusDropsOnBackpressure(t *testing.T) {
	bus := NewMemoryBus(MemoryConfig{BufferSize: 1, FanoutWorkers: 1})
	defer bus.Close()

	id, ch, err := bus.Subscribe(context.Background(), market.EventOrderCreated)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer bus.Unsubscribe(id)

	// Fill the buffer, then publish again without draining: the second
	// delivery is dropped instead of blocking.
	if err := bus.Publish(context.Background(), testEvent(market.EventOrderCreated)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	done := make(chan error, 1)
	go func() {
		done <- bus.Publish(context.Background(), testEvent(market.EventOrderCreated))
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("publish under backpressure: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on full subscriber")
	}

	waitEvent(t, ch)
	select {
	case extra := <-ch:
		t.Fatalf("expected dropped delivery, got %q", extra.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemoryBusUnsubscribeDuringPublish(t *testing.T) {
	bus := NewMemoryBus(MemoryConfig{BufferSize: 1, FanoutWorkers: 4})
	defer bus.Close()

	// Unsubscribing while a fanout is in flight must drop the delivery, not
	// panic the publisher.
	for i := 0; i < 200; i++ {
		id, _, err := bus.Subscribe(context.Background(), market.EventOrderCreated)
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}
		done := make(chan struct{})
		go func() {
			defer close(done)
			for j := 0; j < 10; j++ {
				if err := bus.Publish(context.Background(), testEvent(market.EventOrderCreated)); err != nil {
					t.Errorf("publish: %v", err)
					return
				}
			}
		}()
		bus.Unsubscribe(id)
		<-done
	}
}
