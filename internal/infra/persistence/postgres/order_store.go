// Package postgres provides the PostgreSQL-backed order store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/metamart/marketplace/errs"
	"github.com/metamart/marketplace/internal/domain/market"
)

// OrderStore persists active listings keyed by (registry, asset).
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore constructs an OrderStore backed by the provided pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const (
	orderUpsertSQL = `
INSERT INTO orders (
    id,
    registry,
    asset_id,
    seller,
    price,
    expires_at,
    created_at
)
VALUES (
    @id,
    @registry,
    @asset_id::numeric,
    @seller,
    @price::numeric,
    @expires_at,
    NOW()
)
ON CONFLICT (registry, asset_id) DO UPDATE SET
    id = EXCLUDED.id,
    seller = EXCLUDED.seller,
    price = EXCLUDED.price,
    expires_at = EXCLUDED.expires_at,
    created_at = NOW();
`

	orderSelectSQL = `
SELECT
    o.id,
    o.registry,
    o.asset_id::text,
    o.seller,
    o.price::text,
    o.expires_at
FROM orders o
WHERE o.registry = @registry AND o.asset_id = @asset_id::numeric;
`

	orderDeleteSQL = `
DELETE FROM orders
WHERE registry = @registry AND asset_id = @asset_id::numeric
RETURNING id, registry, asset_id::text, seller, price::text, expires_at;
`

	orderListBase = `
SELECT
    o.id,
    o.registry,
    o.asset_id::text,
    o.seller,
    o.price::text,
    o.expires_at
FROM orders o
`

	defaultListLimit = 50
	maxListLimit     = 500
)

func (s *OrderStore) ensurePool() (*pgxpool.Pool, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("order store: nil pool")
	}
	return s.pool, nil
}

// Get returns the active order for the key.
func (s *OrderStore) Get(ctx context.Context, key market.Key) (market.Order, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return market.Order{}, err
	}
	args, err := keyArgs(key)
	if err != nil {
		return market.Order{}, err
	}
	row := pool.QueryRow(ctx, orderSelectSQL, args)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return market.Order{}, errs.New("market/store", errs.CodeNotPublished, errs.WithMessage("asset not published"))
		}
		return market.Order{}, fmt.Errorf("order store: select order: %w", err)
	}
	return order, nil
}

// Put inserts the order, overwriting any prior entry for the key.
func (s *OrderStore) Put(ctx context.Context, order market.Order) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	if err := order.Validate(); err != nil {
		return err
	}
	args := pgx.NamedArgs{
		"id":         strings.ToLower(order.ID.Hex()),
		"registry":   strings.ToLower(order.Registry.Hex()),
		"asset_id":   order.AssetID.String(),
		"seller":     strings.ToLower(order.Seller.Hex()),
		"price":      order.Price.String(),
		"expires_at": order.ExpiresAt.UTC(),
	}
	if _, err := pool.Exec(ctx, orderUpsertSQL, args); err != nil {
		return fmt.Errorf("order store: upsert order: %w", err)
	}
	return nil
}

// Remove deletes the entry for the key and returns the removed order.
func (s *OrderStore) Remove(ctx context.Context, key market.Key) (market.Order, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return market.Order{}, err
	}
	args, err := keyArgs(key)
	if err != nil {
		return market.Order{}, err
	}
	row := pool.QueryRow(ctx, orderDeleteSQL, args)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return market.Order{}, errs.New("market/store", errs.CodeNotPublished, errs.WithMessage("asset not published"))
		}
		return market.Order{}, fmt.Errorf("order store: delete order: %w", err)
	}
	return order, nil
}

// List returns active orders matching the query, newest first.
func (s *OrderStore) List(ctx context.Context, query market.Query) ([]market.Order, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}

	clauses := make([]string, 0, 2)
	args := pgx.NamedArgs{}
	if registry := strings.TrimSpace(query.Registry); registry != "" {
		clauses = append(clauses, "o.registry = @registry")
		args["registry"] = strings.ToLower(registry)
	}
	if seller := strings.TrimSpace(query.Seller); seller != "" {
		clauses = append(clauses, "o.seller = @seller")
		args["seller"] = strings.ToLower(seller)
	}

	sql := orderListBase
	if len(clauses) > 0 {
		sql += "WHERE " + strings.Join(clauses, " AND ") + "\n"
	}
	sql += "ORDER BY o.created_at DESC\nLIMIT @limit;"
	args["limit"] = normalizeLimit(query.Limit)

	rows, err := pool.Query(ctx, sql, args)
	if err != nil {
		return nil, fmt.Errorf("order store: list orders: %w", err)
	}
	defer rows.Close()

	out := make([]market.Order, 0, defaultListLimit)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("order store: scan order: %w", err)
		}
		out = append(out, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order store: iterate orders: %w", err)
	}
	return out, nil
}

func keyArgs(key market.Key) (pgx.NamedArgs, error) {
	if key.Registry == (common.Address{}) {
		return nil, errs.New("market/store", errs.CodeInvalid, errs.WithMessage("registry address required"))
	}
	if key.AssetID == nil || key.AssetID.Sign() < 0 {
		return nil, errs.New("market/store", errs.CodeInvalid, errs.WithMessage("asset id required"))
	}
	return pgx.NamedArgs{
		"registry": strings.ToLower(key.Registry.Hex()),
		"asset_id": key.AssetID.String(),
	}, nil
}

func scanOrder(row pgx.Row) (market.Order, error) {
	var (
		id        string
		registry  string
		assetID   string
		seller    string
		price     string
		expiresAt time.Time
	)
	if err := row.Scan(&id, &registry, &assetID, &seller, &price, &expiresAt); err != nil {
		return market.Order{}, err
	}

	asset, ok := new(big.Int).SetString(assetID, 10)
	if !ok {
		return market.Order{}, fmt.Errorf("invalid asset id %q", assetID)
	}
	value, ok := new(big.Int).SetString(price, 10)
	if !ok {
		return market.Order{}, fmt.Errorf("invalid price %q", price)
	}

	return market.Order{
		ID:        common.HexToHash(id),
		Registry:  common.HexToAddress(registry),
		AssetID:   asset,
		Seller:    common.HexToAddress(seller),
		Price:     value,
		ExpiresAt: expiresAt,
	}, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
