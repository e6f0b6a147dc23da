package persistence_test

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/metamart/marketplace/errs"
	"github.com/metamart/marketplace/internal/domain/market"
	pgstore "github.com/metamart/marketplace/internal/infra/persistence/postgres"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
)

var (
	testPool    *pgxpool.Pool
	pgContainer testcontainers.Container
	setupErr    error
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_PASSWORD": "secret", "POSTGRES_USER": "postgres", "POSTGRES_DB": "metamart"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
		os.Exit(1)
	}
	pgContainer = container

	setupErr = initialiseDatabase(ctx)
	exitCode := 0
	if setupErr != nil {
		fmt.Fprintf(os.Stderr, "postgres contract tests skipped: %v\n", setupErr)
	} else {
		exitCode = m.Run()
	}

	if testPool != nil {
		testPool.Close()
	}
	if pgContainer != nil {
		_ = pgContainer.Terminate(ctx)
	}
	os.Exit(exitCode)
}

func initialiseDatabase(ctx context.Context) error {
	host, err := pgContainer.Host(ctx)
	if err != nil {
		return fmt.Errorf("container host: %w", err)
	}
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return fmt.Errorf("container port: %w", err)
	}
	dsn := fmt.Sprintf("postgres://postgres:secret@%s:%s/metamart?sslmode=disable", host, port.Port())

	if err := applyMigrations(dsn); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("pgx pool: %w", err)
	}
	testPool = pool
	return nil
}

func applyMigrations(dsn string) error {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return fmt.Errorf("runtime caller lookup failed")
	}
	root := filepath.Clean(filepath.Join(filepath.Dir(file), "..", "..", ".."))
	migrationsDir := filepath.Join(root, "db", "migrations")
	sourceURL := fmt.Sprintf("file://%s", migrationsDir)

	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open sql connection: %w", err)
	}
	defer sqlDB.Close()

	driver, err := pgxmigrate.WithInstance(sqlDB, &pgxmigrate.Config{})
	if err != nil {
		return fmt.Errorf("postgres driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(sourceURL, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate instance: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

func testOrder(registry common.Address, assetID int64, seller common.Address, price int64) market.Order {
	asset := big.NewInt(assetID)
	priceWei := big.NewInt(price)
	order := market.Order{
		Registry:  registry,
		AssetID:   asset,
		Seller:    seller,
		Price:     priceWei,
		ExpiresAt: time.Now().Add(2 * time.Hour).Truncate(time.Microsecond),
	}
	order.ID = market.DeriveOrderID(time.Now(), seller, asset, registry, priceWei)
	return order
}

func TestPostgresOrderStore(t *testing.T) {
	if setupErr != nil {
		t.Skipf("postgres contract setup unavailable: %v", setupErr)
	}
	ctx := context.Background()
	store := pgstore.NewOrderStore(testPool)

	registry := common.HexToAddress("0x00000000000000000000000000000000000000b1")
	otherRegistry := common.HexToAddress("0x00000000000000000000000000000000000000b2")
	seller := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	otherSeller := common.HexToAddress("0x00000000000000000000000000000000000000c2")

	order := testOrder(registry, 7, seller, 1000)
	if err := store.Put(ctx, order); err != nil {
		t.Fatalf("put order: %v", err)
	}

	key := market.Key{Registry: registry, AssetID: big.NewInt(7)}
	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.ID != order.ID || got.Seller != seller || got.Price.Cmp(order.Price) != 0 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if !got.ExpiresAt.Equal(order.ExpiresAt) {
		t.Fatalf("expiry mismatch: want %v, got %v", order.ExpiresAt, got.ExpiresAt)
	}

	// Relisting overwrites the previous entry for the key.
	relisted := testOrder(registry, 7, otherSeller, 2500)
	if err := store.Put(ctx, relisted); err != nil {
		t.Fatalf("relist order: %v", err)
	}
	got, err = store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get relisted order: %v", err)
	}
	if got.ID != relisted.ID || got.Seller != otherSeller || got.Price.Int64() != 2500 {
		t.Fatalf("expected relisted order, got %+v", got)
	}

	if err := store.Put(ctx, testOrder(otherRegistry, 7, seller, 500)); err != nil {
		t.Fatalf("put second registry order: %v", err)
	}

	listed, err := store.List(ctx, market.Query{Registry: registry.Hex()})
	if err != nil {
		t.Fatalf("list by registry: %v", err)
	}
	if len(listed) != 1 || listed[0].Registry != registry {
		t.Fatalf("expected 1 order for registry, got %d", len(listed))
	}

	listed, err = store.List(ctx, market.Query{Seller: otherSeller.Hex()})
	if err != nil {
		t.Fatalf("list by seller: %v", err)
	}
	if len(listed) != 1 || listed[0].Seller != otherSeller {
		t.Fatalf("expected 1 order for seller, got %d", len(listed))
	}

	removed, err := store.Remove(ctx, key)
	if err != nil {
		t.Fatalf("remove order: %v", err)
	}
	if removed.ID != relisted.ID {
		t.Fatalf("expected removed order %s, got %s", relisted.ID.Hex(), removed.ID.Hex())
	}

	if _, err := store.Get(ctx, key); errs.CodeOf(err) != errs.CodeNotPublished {
		t.Fatalf("expected not_published after removal, got %v", err)
	}
	if _, err := store.Remove(ctx, key); errs.CodeOf(err) != errs.CodeNotPublished {
		t.Fatalf("expected not_published on double removal, got %v", err)
	}

	if _, err := store.Remove(ctx, market.Key{Registry: otherRegistry, AssetID: big.NewInt(7)}); err != nil {
		t.Fatalf("cleanup second registry order: %v", err)
	}
}

func TestPostgresOrderStoreLargeNumbers(t *testing.T) {
	if setupErr != nil {
		t.Skipf("postgres contract setup unavailable: %v", setupErr)
	}
	ctx := context.Background()
	store := pgstore.NewOrderStore(testPool)

	registry := common.HexToAddress("0x00000000000000000000000000000000000000b3")
	seller := common.HexToAddress("0x00000000000000000000000000000000000000c3")

	// uint256-scale asset ID and price must survive NUMERIC(78,0) round trips.
	assetID, _ := new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)
	price, _ := new(big.Int).SetString("340282366920938463463374607431768211455", 10)

	order := market.Order{
		Registry:  registry,
		AssetID:   assetID,
		Seller:    seller,
		Price:     price,
		ExpiresAt: time.Now().Add(time.Hour).Truncate(time.Microsecond),
	}
	order.ID = market.DeriveOrderID(time.Now(), seller, assetID, registry, price)

	if err := store.Put(ctx, order); err != nil {
		t.Fatalf("put order: %v", err)
	}
	got, err := store.Get(ctx, market.Key{Registry: registry, AssetID: assetID})
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.AssetID.Cmp(assetID) != 0 {
		t.Fatalf("asset id mismatch: %s", got.AssetID)
	}
	if got.Price.Cmp(price) != 0 {
		t.Fatalf("price mismatch: %s", got.Price)
	}
	if _, err := store.Remove(ctx, market.Key{Registry: registry, AssetID: assetID}); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
}
