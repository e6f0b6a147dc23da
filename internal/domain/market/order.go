// Package market implements the fixed-price marketplace order lifecycle:
// listing creation, cancellation, and purchase execution against external
// asset registries and an ERC20-compatible payment token.
package market

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/metamart/marketplace/errs"
)

// MinListingDuration is the minimum distance between listing time and
// expiration accepted by CreateOrder.
const MinListingDuration = time.Minute

// Order represents one active listing: an asset offered at a fixed price
// until an expiration timestamp. Orders are immutable; lifecycle transitions
// are create-then-delete, never update.
type Order struct {
	// ID is derived at creation time; the zero hash means "no order".
	ID        common.Hash    `json:"id"`
	Seller    common.Address `json:"seller"`
	Registry  common.Address `json:"registry"`
	AssetID   *big.Int       `json:"assetId"`
	Price     *big.Int       `json:"price"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

// Key identifies the slot an order occupies: at most one active order exists
// per (registry, asset) pair.
type Key struct {
	Registry common.Address
	AssetID  *big.Int
}

// KeyOf returns the store key for an order.
func (o Order) KeyOf() Key {
	return Key{Registry: o.Registry, AssetID: o.AssetID}
}

// Active reports whether the order represents a live listing.
func (o Order) Active() bool {
	return o.ID != (common.Hash{})
}

// Validate checks the structural invariants an order must satisfy before it
// enters the store.
func (o Order) Validate() error {
	if !o.Active() {
		return errs.New("market/order", errs.CodeInvalid, errs.WithMessage("order id required"))
	}
	if o.Seller == (common.Address{}) {
		return errs.New("market/order", errs.CodeInvalid, errs.WithMessage("seller address required"))
	}
	if o.Registry == (common.Address{}) {
		return errs.New("market/order", errs.CodeInvalid, errs.WithMessage("registry address required"))
	}
	if o.AssetID == nil || o.AssetID.Sign() < 0 {
		return errs.New("market/order", errs.CodeInvalid, errs.WithMessage("asset id required"))
	}
	if o.Price == nil || o.Price.Sign() <= 0 {
		return errs.New("market/order", errs.CodeInvalid, errs.WithMessage("price must be greater than zero"))
	}
	if o.ExpiresAt.IsZero() {
		return errs.New("market/order", errs.CodeInvalid, errs.WithMessage("expiration required"))
	}
	return nil
}

// Clone returns a deep copy so callers cannot mutate stored big integers.
func (o Order) Clone() Order {
	out := o
	if o.AssetID != nil {
		out.AssetID = new(big.Int).Set(o.AssetID)
	}
	if o.Price != nil {
		out.Price = new(big.Int).Set(o.Price)
	}
	return out
}

// DeriveOrderID computes the deterministic order identifier from the listing
// inputs. The hash is a unique label, not a cryptographic commitment;
// timestamp and price entropy make collisions negligible.
func DeriveOrderID(at time.Time, seller common.Address, assetID *big.Int, registry common.Address, price *big.Int) common.Hash {
	buf := make([]byte, 0, 8+common.AddressLength*2+64)
	buf = append(buf, big.NewInt(at.Unix()).Bytes()...)
	buf = append(buf, seller.Bytes()...)
	buf = append(buf, common.BigToHash(assetID).Bytes()...)
	buf = append(buf, registry.Bytes()...)
	buf = append(buf, common.BigToHash(price).Bytes()...)
	return crypto.Keccak256Hash(buf)
}
