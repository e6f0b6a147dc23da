package market

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/metamart/marketplace/errs"
)

func storeOrder(asset int64) Order {
	return Order{
		ID:        common.BigToHash(big.NewInt(asset + 1)),
		Seller:    common.HexToAddress("0x02"),
		Registry:  common.HexToAddress("0x03"),
		AssetID:   big.NewInt(asset),
		Price:     big.NewInt(1000),
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	order := storeOrder(7)

	if err := store.Put(ctx, order); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := store.Get(ctx, order.KeyOf())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != order.ID {
		t.Fatalf("expected id %s, got %s", order.ID, got.ID)
	}

	removed, err := store.Remove(ctx, order.KeyOf())
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if removed.ID != order.ID {
		t.Fatalf("removed wrong order")
	}
	if _, err := store.Get(ctx, order.KeyOf()); errs.CodeOf(err) != errs.CodeNotPublished {
		t.Fatalf("expected not_published after remove, got %v", err)
	}
	if _, err := store.Remove(ctx, order.KeyOf()); errs.CodeOf(err) != errs.CodeNotPublished {
		t.Fatalf("expected not_published on double remove, got %v", err)
	}
}

func TestMemoryStorePutOverwrites(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	first := storeOrder(7)
	second := storeOrder(7)
	second.ID = common.BigToHash(big.NewInt(999))
	second.Price = big.NewInt(2000)

	if err := store.Put(ctx, first); err != nil {
		t.Fatalf("put first: %v", err)
	}
	if err := store.Put(ctx, second); err != nil {
		t.Fatalf("put second: %v", err)
	}
	got, err := store.Get(ctx, first.KeyOf())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != second.ID {
		t.Fatalf("expected overwrite, got id %s", got.ID)
	}
}

func TestMemoryStoreRejectsInvalidOrder(t *testing.T) {
	store := NewMemoryStore()
	bad := storeOrder(7)
	bad.ID = common.Hash{}
	if err := store.Put(context.Background(), bad); errs.CodeOf(err) != errs.CodeInvalid {
		t.Fatalf("expected invalid_request for zero id, got %v", err)
	}
}

func TestMemoryStoreGetIsolation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	order := storeOrder(7)
	if err := store.Put(ctx, order); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := store.Get(ctx, order.KeyOf())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.Price.SetInt64(1)

	again, err := store.Get(ctx, order.KeyOf())
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	if again.Price.Int64() != 1000 {
		t.Fatalf("caller mutation leaked into the store")
	}
}

func TestMemoryStoreList(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	otherRegistry := common.HexToAddress("0x09")
	for i := int64(1); i <= 5; i++ {
		order := storeOrder(i)
		if i%2 == 0 {
			order.Registry = otherRegistry
		}
		if err := store.Put(ctx, order); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}

	all, err := store.List(ctx, Query{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 orders, got %d", len(all))
	}

	filtered, err := store.List(ctx, Query{Registry: otherRegistry.Hex()})
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(filtered) != 2 {
		t.Fatalf("expected 2 orders for registry filter, got %d", len(filtered))
	}

	limited, err := store.List(ctx, Query{Limit: 3})
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 3 {
		t.Fatalf("expected 3 orders with limit, got %d", len(limited))
	}
}

func TestMemoryStoreConcurrentAccess(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := int64(0); i < 50; i++ {
		wg.Add(1)
		go func(i int64) {
			defer wg.Done()
			order := storeOrder(i)
			if err := store.Put(ctx, order); err != nil {
				t.Errorf("put %d: %v", i, err)
				return
			}
			if _, err := store.Get(ctx, order.KeyOf()); err != nil {
				t.Errorf("get %d: %v", i, err)
			}
			if _, err := store.Remove(ctx, order.KeyOf()); err != nil {
				t.Errorf("remove %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	remaining, err := store.List(ctx, Query{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected empty store, got %d orders", len(remaining))
	}
}
