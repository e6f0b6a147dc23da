package httpserver

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/ethereum/go-ethereum/common"

	"github.com/metamart/marketplace/internal/bus/eventbus"
	"github.com/metamart/marketplace/internal/domain/market"
)

func TestEventFeedStreamsEvents(t *testing.T) {
	bus := eventbus.NewMemoryBus(eventbus.MemoryConfig{BufferSize: 16, FanoutWorkers: 2})
	defer bus.Close()

	handler := NewHandler(Options{
		Store: market.NewMemoryStore(),
		Bus:   bus,
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/events/ws?types=ORDER.CREATED"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial event feed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	evt := market.Event{
		Type:      market.EventOrderCreated,
		OrderID:   common.HexToHash("0xbeef"),
		AssetID:   big.NewInt(7),
		Seller:    common.HexToAddress("0x01"),
		Registry:  common.HexToAddress("0x02"),
		Price:     big.NewInt(1000),
		ExpiresAt: time.Now().Add(time.Hour),
		EmittedAt: time.Now(),
	}
	// Subscription registration races the publish; retry until delivered.
	received := make(chan []byte, 1)
	go func() {
		_, data, err := conn.Read(ctx)
		if err == nil {
			received <- data
		}
	}()

	deadline := time.After(3 * time.Second)
	for {
		if err := bus.Publish(ctx, evt); err != nil {
			t.Fatalf("publish: %v", err)
		}
		select {
		case data := <-received:
			var envelope eventEnvelope
			if err := json.Unmarshal(data, &envelope); err != nil {
				t.Fatalf("decode envelope: %v", err)
			}
			if envelope.Type != string(market.EventOrderCreated) {
				t.Fatalf("unexpected event type %q", envelope.Type)
			}
			if envelope.Payload["assetId"] != "7" {
				t.Fatalf("unexpected payload: %v", envelope.Payload)
			}
			return
		case <-deadline:
			t.Fatalf("timed out waiting for event")
		case <-time.After(50 * time.Millisecond):
		}
	}
}
