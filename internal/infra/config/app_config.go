// Package config manages application configuration loading and validation.
package config

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Environment identifies the runtime environment where metamart operates.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// EventbusConfig sets in-memory event bus sizing characteristics.
type EventbusConfig struct {
	BufferSize    int                 `yaml:"bufferSize"`
	FanoutWorkers FanoutWorkerSetting `yaml:"fanoutWorkers"`
}

type fanoutWorkerKind int

const (
	fanoutWorkerUnset fanoutWorkerKind = iota
	fanoutWorkerExplicit
	fanoutWorkerAuto
	fanoutWorkerDefault
)

// FanoutWorkerSetting encapsulates the fanout worker configuration allowing both numeric and symbolic values.
type FanoutWorkerSetting struct {
	kind  fanoutWorkerKind
	value int
}

// UnmarshalYAML supports integer, "auto", and "default" values for fanout workers.
func (s *FanoutWorkerSetting) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = FanoutWorkerSetting{kind: fanoutWorkerUnset, value: 0}
		return nil
	}

	text := strings.TrimSpace(node.Value)
	if text == "" {
		s.kind = fanoutWorkerUnset
		s.value = 0
		return nil
	}

	switch strings.ToLower(text) {
	case "auto":
		s.kind = fanoutWorkerAuto
		s.value = 0
		return nil
	case "default":
		s.kind = fanoutWorkerDefault
		s.value = 0
		return nil
	}

	val, err := strconv.Atoi(text)
	if err != nil {
		return fmt.Errorf("fanoutWorkers: invalid value %q", node.Value)
	}
	if val <= 0 {
		return fmt.Errorf("fanoutWorkers: numeric value must be > 0")
	}
	s.kind = fanoutWorkerExplicit
	s.value = val
	return nil
}

func (s FanoutWorkerSetting) resolve() int {
	switch s.kind {
	case fanoutWorkerExplicit:
		return s.value
	case fanoutWorkerAuto:
		if cores := runtime.NumCPU(); cores > 0 {
			return cores
		}
		return 4
	default:
		return 4
	}
}

// FanoutWorkerCount returns the resolved worker count for use by runtime components.
func (c EventbusConfig) FanoutWorkerCount() int {
	return c.FanoutWorkers.resolve()
}

// APIServerConfig configures the marketplace HTTP surface.
type APIServerConfig struct {
	Addr           string  `yaml:"addr"`
	RateLimit      float64 `yaml:"rateLimit"`
	RateBurst      int     `yaml:"rateBurst"`
	EnableAdminAPI bool    `yaml:"enableAdminApi"`
}

// MarketConfig carries the marketplace fee schedule and privileged addresses.
type MarketConfig struct {
	Marketplace        string `yaml:"marketplace"`
	Operator           string `yaml:"operator"`
	FeeCollector       string `yaml:"feeCollector"`
	PaymentToken       string `yaml:"paymentToken"`
	LegacyRegistry     string `yaml:"legacyRegistry"`
	PublicationFee     string `yaml:"publicationFee"`
	OwnerCutPerMillion uint32 `yaml:"ownerCutPerMillion"`
	TokenDecimals      int32  `yaml:"tokenDecimals"`
}

// PublicationFeeWei parses the configured publication fee as a base-unit amount.
func (c MarketConfig) PublicationFeeWei() (*big.Int, error) {
	text := strings.TrimSpace(c.PublicationFee)
	if text == "" {
		return big.NewInt(0), nil
	}
	fee, ok := new(big.Int).SetString(text, 10)
	if !ok || fee.Sign() < 0 {
		return nil, fmt.Errorf("publicationFee must be a non-negative integer, got %q", c.PublicationFee)
	}
	return fee, nil
}

// ChainConfig controls EVM node connectivity for the on-chain adapters.
type ChainConfig struct {
	RPCEndpoint     string        `yaml:"rpcEndpoint"`
	ChainID         int64         `yaml:"chainId"`
	PrivateKey      string        `yaml:"privateKey"`
	DialTimeout     time.Duration `yaml:"dialTimeout"`
	CallTimeout     time.Duration `yaml:"callTimeout"`
	RetryMaxElapsed time.Duration `yaml:"retryMaxElapsed"`
}

func (c *ChainConfig) applyDefaults() {
	c.RPCEndpoint = strings.TrimSpace(c.RPCEndpoint)
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 5 * time.Second
	}
	if c.RetryMaxElapsed <= 0 {
		c.RetryMaxElapsed = time.Minute
	}
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	OTLPEndpoint  string `yaml:"otlpEndpoint"`
	ServiceName   string `yaml:"serviceName"`
	OTLPInsecure  bool   `yaml:"otlpInsecure"`
	EnableMetrics bool   `yaml:"enableMetrics"`
}

// DatabaseConfig controls PostgreSQL connectivity and migration behaviour.
type DatabaseConfig struct {
	DSN               string        `yaml:"dsn"`
	MaxConns          int32         `yaml:"maxConns"`
	MinConns          int32         `yaml:"minConns"`
	MaxConnLifetime   time.Duration `yaml:"maxConnLifetime"`
	MaxConnIdleTime   time.Duration `yaml:"maxConnIdleTime"`
	HealthCheckPeriod time.Duration `yaml:"healthCheckPeriod"`
	RunMigrations     bool          `yaml:"runMigrations"`
}

func (c *DatabaseConfig) applyDefaults() {
	c.DSN = strings.TrimSpace(c.DSN)
	if c.MaxConns <= 0 {
		c.MaxConns = 16
	}
	if c.MinConns <= 0 {
		c.MinConns = 1
	}
	if c.MinConns > c.MaxConns {
		c.MinConns = c.MaxConns
	}
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = 30 * time.Minute
	}
	if c.MaxConnIdleTime <= 0 {
		c.MaxConnIdleTime = 5 * time.Minute
	}
	if c.HealthCheckPeriod <= 0 {
		c.HealthCheckPeriod = 30 * time.Second
	}
}

func (c DatabaseConfig) validate() error {
	if c.MaxConns <= 0 {
		return fmt.Errorf("maxConns must be >0")
	}
	if c.MinConns < 0 {
		return fmt.Errorf("minConns must be >=0")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("minConns must be <= maxConns")
	}
	if c.MaxConnLifetime <= 0 {
		return fmt.Errorf("maxConnLifetime must be >0")
	}
	if c.MaxConnIdleTime <= 0 {
		return fmt.Errorf("maxConnIdleTime must be >0")
	}
	if c.HealthCheckPeriod <= 0 {
		return fmt.Errorf("healthCheckPeriod must be >0")
	}
	return nil
}

// AppConfig is the unified metamart application configuration sourced from YAML.
type AppConfig struct {
	Environment Environment     `yaml:"environment"`
	Market      MarketConfig    `yaml:"market"`
	Chain       ChainConfig     `yaml:"chain"`
	Eventbus    EventbusConfig  `yaml:"eventbus"`
	APIServer   APIServerConfig `yaml:"apiServer"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Database    DatabaseConfig  `yaml:"database"`
}

// Load reads and validates an AppConfig from the provided YAML file.
// Environment variables prefixed METAMART_ override file values.
func Load(ctx context.Context, configPath string) (AppConfig, error) {
	_ = ctx

	reader, closer, err := openConfigFile(configPath)
	if err != nil {
		return AppConfig{}, err
	}
	defer closer()

	bytes, err := io.ReadAll(reader)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(bytes, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.normalise(); err != nil {
		return AppConfig{}, err
	}

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c *AppConfig) applyEnvOverrides() {
	overrideString := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	overrideString(&c.Database.DSN, "METAMART_DB_DSN")
	overrideString(&c.APIServer.Addr, "METAMART_HTTP_ADDR")
	overrideString(&c.Chain.RPCEndpoint, "METAMART_RPC_ENDPOINT")
	overrideString(&c.Chain.PrivateKey, "METAMART_CHAIN_KEY")
	overrideString(&c.Market.Marketplace, "METAMART_MARKETPLACE_ADDRESS")
	overrideString(&c.Market.Operator, "METAMART_OPERATOR_ADDRESS")
	overrideString(&c.Market.FeeCollector, "METAMART_FEE_COLLECTOR_ADDRESS")
	overrideString(&c.Market.PaymentToken, "METAMART_PAYMENT_TOKEN_ADDRESS")
	overrideString(&c.Market.LegacyRegistry, "METAMART_LEGACY_REGISTRY_ADDRESS")
	overrideString(&c.Market.PublicationFee, "METAMART_PUBLICATION_FEE")
	overrideString(&c.Telemetry.OTLPEndpoint, "METAMART_OTLP_ENDPOINT")

	if v, ok := os.LookupEnv("METAMART_OWNER_CUT_PER_MILLION"); ok {
		if cut, err := strconv.ParseUint(strings.TrimSpace(v), 10, 32); err == nil {
			c.Market.OwnerCutPerMillion = uint32(cut)
		}
	}
	if v, ok := os.LookupEnv("METAMART_ENV"); ok && strings.TrimSpace(v) != "" {
		c.Environment = Environment(strings.TrimSpace(v))
	}
}

func (c *AppConfig) normalise() error {
	c.Environment = Environment(strings.ToLower(strings.TrimSpace(string(c.Environment))))
	c.APIServer.Addr = strings.TrimSpace(c.APIServer.Addr)
	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)

	c.Market.Marketplace = strings.TrimSpace(c.Market.Marketplace)
	c.Market.Operator = strings.TrimSpace(c.Market.Operator)
	c.Market.FeeCollector = strings.TrimSpace(c.Market.FeeCollector)
	c.Market.PaymentToken = strings.TrimSpace(c.Market.PaymentToken)
	c.Market.LegacyRegistry = strings.TrimSpace(c.Market.LegacyRegistry)
	c.Market.PublicationFee = strings.TrimSpace(c.Market.PublicationFee)
	if c.Market.TokenDecimals <= 0 {
		c.Market.TokenDecimals = 18
	}

	if c.APIServer.Addr == "" {
		c.APIServer.Addr = ":8080"
	}
	if c.APIServer.RateLimit <= 0 {
		c.APIServer.RateLimit = 50
	}
	if c.APIServer.RateBurst <= 0 {
		c.APIServer.RateBurst = 100
	}

	if c.Eventbus.BufferSize <= 0 {
		c.Eventbus.BufferSize = 64
	}

	c.Chain.applyDefaults()
	c.Database.applyDefaults()

	return nil
}

// Validate performs semantic validation on the configuration.
func (c AppConfig) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod")
	}

	if err := requireAddress("market.marketplace", c.Market.Marketplace); err != nil {
		return err
	}
	if err := requireAddress("market.operator", c.Market.Operator); err != nil {
		return err
	}
	if err := requireAddress("market.feeCollector", c.Market.FeeCollector); err != nil {
		return err
	}
	if err := requireAddress("market.paymentToken", c.Market.PaymentToken); err != nil {
		return err
	}
	if c.Market.LegacyRegistry != "" && !common.IsHexAddress(c.Market.LegacyRegistry) {
		return fmt.Errorf("market.legacyRegistry must be a hex address")
	}
	if c.Market.OwnerCutPerMillion > 999_999 {
		return fmt.Errorf("market.ownerCutPerMillion must be < 1000000")
	}
	if _, err := c.Market.PublicationFeeWei(); err != nil {
		return fmt.Errorf("market: %w", err)
	}

	if c.Eventbus.BufferSize <= 0 {
		return fmt.Errorf("eventbus bufferSize must be >0")
	}
	if c.Eventbus.FanoutWorkerCount() <= 0 {
		return fmt.Errorf("eventbus fanoutWorkers must be >0")
	}

	if strings.TrimSpace(c.APIServer.Addr) == "" {
		return fmt.Errorf("apiServer addr required")
	}
	if c.APIServer.RateLimit <= 0 {
		return fmt.Errorf("apiServer rateLimit must be > 0")
	}
	if c.APIServer.RateBurst <= 0 {
		return fmt.Errorf("apiServer rateBurst must be > 0")
	}

	if strings.TrimSpace(c.Telemetry.ServiceName) == "" {
		return fmt.Errorf("telemetry serviceName required")
	}

	if err := c.Database.validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	return nil
}

func requireAddress(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s required", field)
	}
	if !common.IsHexAddress(value) {
		return fmt.Errorf("%s must be a hex address", field)
	}
	return nil
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := strings.TrimSpace(path)
	candidate = filepath.Clean(candidate)

	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open app config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
