// Command marketd launches the metamart marketplace service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sourcegraph/conc"

	"github.com/metamart/marketplace/internal/bus/eventbus"
	"github.com/metamart/marketplace/internal/domain/market"
	"github.com/metamart/marketplace/internal/infra/adapters/evm"
	"github.com/metamart/marketplace/internal/infra/config"
	"github.com/metamart/marketplace/internal/infra/persistence/migrations"
	"github.com/metamart/marketplace/internal/infra/persistence/postgres"
	httpserver "github.com/metamart/marketplace/internal/infra/server/http"
	"github.com/metamart/marketplace/internal/observability"
	"github.com/metamart/marketplace/internal/telemetry"
)

const (
	defaultConfigPath        = "config/app.yaml"
	marketdLoggerPrefix      = "marketd "
	shutdownTimeout          = 30 * time.Second
	serverShutdownTimeout    = 5 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
)

func main() {
	cfgPath := flag.String("config", defaultConfigPath, "Path to application configuration file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(os.Stdout, marketdLoggerPrefix, log.LstdFlags|log.Lmicroseconds)

	appCfg, err := config.Load(ctx, *cfgPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	observability.SetLogger(observability.NewStdLogger(logger, appCfg.Environment == config.EnvDev))
	logger.Printf("configuration initialised: env=%s, addr=%s", appCfg.Environment, appCfg.APIServer.Addr)

	telemetryProvider, err := initTelemetry(ctx, logger, appCfg)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}

	store, pool, err := buildStore(ctx, logger, appCfg.Database)
	if err != nil {
		logger.Fatalf("initialise store: %v", err)
	}

	chainClient, err := evm.Dial(ctx, evm.Config{
		RPCEndpoint:     appCfg.Chain.RPCEndpoint,
		ChainID:         appCfg.Chain.ChainID,
		PrivateKey:      appCfg.Chain.PrivateKey,
		DialTimeout:     appCfg.Chain.DialTimeout,
		CallTimeout:     appCfg.Chain.CallTimeout,
		RetryMaxElapsed: appCfg.Chain.RetryMaxElapsed,
	})
	if err != nil {
		logger.Fatalf("connect chain node: %v", err)
	}
	logger.Printf("chain node connected: endpoint=%s, sender=%s", appCfg.Chain.RPCEndpoint, chainClient.Sender().Hex())

	bus := eventbus.NewMemoryBus(eventbus.MemoryConfig{
		BufferSize:    appCfg.Eventbus.BufferSize,
		FanoutWorkers: appCfg.Eventbus.FanoutWorkerCount(),
	})

	engine, legacy, err := buildEngine(appCfg.Market, store, chainClient, bus)
	if err != nil {
		logger.Fatalf("initialise engine: %v", err)
	}

	server := httpserver.NewServer(appCfg.APIServer, httpserver.Options{
		Engine:        engine,
		Legacy:        legacy,
		Store:         store,
		Bus:           bus,
		TokenDecimals: appCfg.Market.TokenDecimals,
	})

	var lifecycle conc.WaitGroup
	lifecycle.Go(func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("api server: %v", err)
		}
	})
	logger.Printf("marketplace API listening on %s", server.Addr)

	logger.Print("marketd started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownStart := time.Now()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	serverCtx, serverCancel := context.WithTimeout(shutdownCtx, serverShutdownTimeout)
	if err := server.Shutdown(serverCtx); err != nil {
		logger.Printf("api server shutdown: %v", err)
	}
	serverCancel()
	lifecycle.Wait()

	bus.Close()
	chainClient.Close()
	if pool != nil {
		pool.Close()
	}
	if telemetryProvider != nil {
		telemetryCtx, telemetryCancel := context.WithTimeout(shutdownCtx, telemetryShutdownTimeout)
		if err := telemetryProvider.Shutdown(telemetryCtx); err != nil {
			logger.Printf("telemetry shutdown: %v", err)
		}
		telemetryCancel()
	}

	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}

func initTelemetry(ctx context.Context, logger *log.Logger, appCfg config.AppConfig) (*telemetry.Provider, error) {
	telemetryCfg := telemetry.DefaultConfig()
	if appCfg.Telemetry.OTLPEndpoint != "" {
		telemetryCfg.OTLPEndpoint = appCfg.Telemetry.OTLPEndpoint
	}
	if appCfg.Telemetry.ServiceName != "" {
		telemetryCfg.ServiceName = appCfg.Telemetry.ServiceName
	}
	telemetryCfg.Environment = string(appCfg.Environment)
	telemetryCfg.OTLPInsecure = appCfg.Telemetry.OTLPInsecure
	telemetryCfg.Enabled = appCfg.Telemetry.EnableMetrics

	provider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry provider: %w", err)
	}
	if telemetryCfg.Enabled {
		logger.Printf("telemetry initialized: endpoint=%s, service=%s", telemetryCfg.OTLPEndpoint, telemetryCfg.ServiceName)
	} else {
		logger.Printf("telemetry disabled")
	}
	return provider, nil
}

// buildStore selects postgres persistence when a DSN is configured and falls
// back to the in-memory store otherwise.
func buildStore(ctx context.Context, logger *log.Logger, cfg config.DatabaseConfig) (market.Store, *pgxpool.Pool, error) {
	if cfg.DSN == "" {
		logger.Print("no database configured; using in-memory order store")
		return market.NewMemoryStore(), nil, nil
	}

	if cfg.RunMigrations {
		// Empty path selects the orders schema embedded into the binary.
		if err := migrations.Apply(ctx, cfg.DSN, "", logger); err != nil {
			return nil, nil, fmt.Errorf("apply migrations: %w", err)
		}
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("parse database dsn: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	logger.Print("postgres order store initialised")
	return postgres.NewOrderStore(pool), pool, nil
}

func buildEngine(cfg config.MarketConfig, store market.Store, client *evm.Client, bus eventbus.Bus) (*market.Engine, *market.LegacyMarket, error) {
	fee, err := cfg.PublicationFeeWei()
	if err != nil {
		return nil, nil, err
	}

	sink := eventbus.NewSink(bus)
	engine, err := market.NewEngine(
		store,
		evm.NewResolver(client),
		evm.NewToken(client, common.HexToAddress(cfg.PaymentToken)),
		sink,
		market.Config{
			Marketplace:        common.HexToAddress(cfg.Marketplace),
			Operator:           common.HexToAddress(cfg.Operator),
			FeeCollector:       common.HexToAddress(cfg.FeeCollector),
			PublicationFee:     fee,
			OwnerCutPerMillion: uint64(cfg.OwnerCutPerMillion),
			LegacyRegistry:     common.HexToAddress(cfg.LegacyRegistry),
		},
	)
	if err != nil {
		return nil, nil, err
	}

	var legacy *market.LegacyMarket
	if cfg.LegacyRegistry != "" {
		legacy = market.NewLegacyMarket(engine, sink)
	}
	return engine, legacy, nil
}
