package market

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// LegacyMarket exposes the lifecycle operations without a registry argument,
// bound to the configured legacy registry. It delegates every decision to the
// engine and only adds the auction-era event schema expected by older
// off-chain indexers.
type LegacyMarket struct {
	engine *Engine
	events Publisher
}

// NewLegacyMarket wraps the engine with the fixed-registry compatibility surface.
func NewLegacyMarket(engine *Engine, events Publisher) *LegacyMarket {
	return &LegacyMarket{engine: engine, events: events}
}

// Registry returns the registry address the shim is currently bound to.
func (m *LegacyMarket) Registry() common.Address {
	return m.engine.Settings().LegacyRegistry
}

// CreateOrder lists an asset on the legacy registry.
func (m *LegacyMarket) CreateOrder(ctx context.Context, caller common.Address, assetID, price *big.Int, expiresAt time.Time) (Order, error) {
	order, err := m.engine.CreateOrder(ctx, caller, m.Registry(), assetID, price, expiresAt)
	if err != nil {
		return Order{}, err
	}
	m.emit(ctx, Event{
		Type:      EventAuctionCreated,
		OrderID:   order.ID,
		AssetID:   order.AssetID,
		Seller:    order.Seller,
		Registry:  order.Registry,
		Price:     order.Price,
		ExpiresAt: order.ExpiresAt,
		EmittedAt: time.Now(),
	})
	return order, nil
}

// CancelOrder withdraws a legacy-registry listing.
func (m *LegacyMarket) CancelOrder(ctx context.Context, caller common.Address, assetID *big.Int) (Order, error) {
	order, err := m.engine.CancelOrder(ctx, caller, m.Registry(), assetID)
	if err != nil {
		return Order{}, err
	}
	m.emit(ctx, Event{
		Type:      EventAuctionCancelled,
		OrderID:   order.ID,
		AssetID:   order.AssetID,
		Seller:    order.Seller,
		Registry:  order.Registry,
		Price:     order.Price,
		EmittedAt: time.Now(),
	})
	return order, nil
}

// ExecuteOrder purchases a legacy-registry listing.
func (m *LegacyMarket) ExecuteOrder(ctx context.Context, caller common.Address, assetID, price *big.Int) (Order, error) {
	order, err := m.engine.ExecuteOrder(ctx, caller, m.Registry(), assetID, price, nil)
	if err != nil {
		return Order{}, err
	}
	m.emit(ctx, Event{
		Type:      EventAuctionSuccessful,
		OrderID:   order.ID,
		AssetID:   order.AssetID,
		Seller:    order.Seller,
		Registry:  order.Registry,
		Price:     order.Price,
		Buyer:     caller,
		EmittedAt: time.Now(),
	})
	return order, nil
}

func (m *LegacyMarket) emit(ctx context.Context, evt Event) {
	if m.events == nil {
		return
	}
	m.events.Publish(ctx, evt)
}
