package market

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType identifies a marketplace lifecycle notification.
type EventType string

const (
	// EventOrderCreated is emitted when a listing is published.
	EventOrderCreated EventType = "ORDER.CREATED"
	// EventOrderCancelled is emitted when a listing is withdrawn.
	EventOrderCancelled EventType = "ORDER.CANCELLED"
	// EventOrderSuccessful is emitted when a listing is purchased.
	EventOrderSuccessful EventType = "ORDER.SUCCESSFUL"

	// Legacy schema consumed by older off-chain indexers. Same transitions,
	// auction-era naming and field layout.

	// EventAuctionCreated mirrors EventOrderCreated in the legacy schema.
	EventAuctionCreated EventType = "AUCTION.CREATED"
	// EventAuctionCancelled mirrors EventOrderCancelled in the legacy schema.
	EventAuctionCancelled EventType = "AUCTION.CANCELLED"
	// EventAuctionSuccessful mirrors EventOrderSuccessful in the legacy schema.
	EventAuctionSuccessful EventType = "AUCTION.SUCCESSFUL"
)

// Legacy reports whether the event type belongs to the auction-era schema.
func (t EventType) Legacy() bool {
	switch t {
	case EventAuctionCreated, EventAuctionCancelled, EventAuctionSuccessful:
		return true
	default:
		return false
	}
}

// Event is a lifecycle notification carried on the event bus and consumed by
// off-chain indexers.
type Event struct {
	Type      EventType
	OrderID   common.Hash
	AssetID   *big.Int
	Seller    common.Address
	Registry  common.Address
	Price     *big.Int
	ExpiresAt time.Time
	// Buyer is set for successful executions only.
	Buyer     common.Address
	EmittedAt time.Time
}

// Payload renders the indexer-facing representation. The legacy schema keeps
// the field names and layout the auction-era indexers expect; the registry
// address is implied by the fixed legacy registry and therefore omitted.
func (e Event) Payload() map[string]any {
	if e.Type.Legacy() {
		p := map[string]any{
			"id":         e.OrderID.Hex(),
			"assetId":    bigString(e.AssetID),
			"seller":     e.Seller.Hex(),
			"priceInWei": bigString(e.Price),
		}
		switch e.Type {
		case EventAuctionCreated:
			p["expiresAt"] = e.ExpiresAt.Unix()
		case EventAuctionSuccessful:
			p["winner"] = e.Buyer.Hex()
		}
		return p
	}

	p := map[string]any{
		"id":         e.OrderID.Hex(),
		"assetId":    bigString(e.AssetID),
		"seller":     e.Seller.Hex(),
		"nftAddress": e.Registry.Hex(),
		"priceInWei": bigString(e.Price),
	}
	switch e.Type {
	case EventOrderCreated:
		p["expiresAt"] = e.ExpiresAt.Unix()
	case EventOrderSuccessful:
		p["buyer"] = e.Buyer.Hex()
	}
	return p
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// Publisher delivers lifecycle events to interested consumers. Publication
// happens after the owning state transition has committed; delivery failures
// never roll back the transition.
type Publisher interface {
	Publish(ctx context.Context, evt Event)
}
