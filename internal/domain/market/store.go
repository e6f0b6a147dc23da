package market

import "context"

// Query scopes order listings served by the read API.
type Query struct {
	Registry string `json:"registry,omitempty"`
	Seller   string `json:"seller,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// Store is the persistent order state keyed by (registry, asset). The store
// is exclusively owned and mutated by the lifecycle engine; an absent entry
// surfaces as a not_published error.
type Store interface {
	Get(ctx context.Context, key Key) (Order, error)
	// Put inserts the order for its key, overwriting any prior entry.
	Put(ctx context.Context, order Order) error
	// Remove deletes the entry and returns the removed order.
	Remove(ctx context.Context, key Key) (Order, error)
	List(ctx context.Context, query Query) ([]Order, error)
}
