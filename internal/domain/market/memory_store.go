package market

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/metamart/marketplace/errs"
)

// MemoryStore is an in-memory implementation of Store guarded by a single
// RWMutex: no operation observes another's half-applied write.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[memoryKey]Order
}

type memoryKey struct {
	registry common.Address
	assetID  string
}

func keyOf(key Key) (memoryKey, error) {
	if key.Registry == (common.Address{}) {
		return memoryKey{}, errs.New("market/store", errs.CodeInvalid, errs.WithMessage("registry address required"))
	}
	if key.AssetID == nil || key.AssetID.Sign() < 0 {
		return memoryKey{}, errs.New("market/store", errs.CodeInvalid, errs.WithMessage("asset id required"))
	}
	return memoryKey{registry: key.Registry, assetID: key.AssetID.String()}, nil
}

// NewMemoryStore creates a memory-backed order store.
func NewMemoryStore() *MemoryStore {
	store := new(MemoryStore)
	store.orders = make(map[memoryKey]Order)
	return store
}

// Get returns the active order for the key.
func (s *MemoryStore) Get(ctx context.Context, key Key) (Order, error) {
	k, err := keyOf(key)
	if err != nil {
		return Order{}, err
	}
	if ctx != nil {
		select {
		case <-ctx.Done():
			return Order{}, fmt.Errorf("memory store get context: %w", ctx.Err())
		default:
		}
	}
	s.mu.RLock()
	order, ok := s.orders[k]
	s.mu.RUnlock()
	if !ok {
		return Order{}, errs.New("market/store", errs.CodeNotPublished, errs.WithMessage("asset not published"))
	}
	return order.Clone(), nil
}

// Put inserts the order, overwriting any prior entry for the key.
func (s *MemoryStore) Put(ctx context.Context, order Order) error {
	if err := order.Validate(); err != nil {
		return err
	}
	k, err := keyOf(order.KeyOf())
	if err != nil {
		return err
	}
	if ctx != nil {
		select {
		case <-ctx.Done():
			return fmt.Errorf("memory store put context: %w", ctx.Err())
		default:
		}
	}
	s.mu.Lock()
	s.orders[k] = order.Clone()
	s.mu.Unlock()
	return nil
}

// Remove deletes the entry for the key and returns the removed order.
func (s *MemoryStore) Remove(ctx context.Context, key Key) (Order, error) {
	k, err := keyOf(key)
	if err != nil {
		return Order{}, err
	}
	if ctx != nil {
		select {
		case <-ctx.Done():
			return Order{}, fmt.Errorf("memory store remove context: %w", ctx.Err())
		default:
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[k]
	if !ok {
		return Order{}, errs.New("market/store", errs.CodeNotPublished, errs.WithMessage("asset not published"))
	}
	delete(s.orders, k)
	return order, nil
}

// List returns active orders matching the query in unspecified order.
func (s *MemoryStore) List(ctx context.Context, query Query) ([]Order, error) {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("memory store list context: %w", ctx.Err())
		default:
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Order, 0, len(s.orders))
	for _, order := range s.orders {
		if query.Registry != "" && !strings.EqualFold(query.Registry, order.Registry.Hex()) {
			continue
		}
		if query.Seller != "" && !strings.EqualFold(query.Seller, order.Seller.Hex()) {
			continue
		}
		out = append(out, order.Clone())
		if query.Limit > 0 && len(out) >= query.Limit {
			break
		}
	}
	return out, nil
}
