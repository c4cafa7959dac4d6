// Package config loads the settlement engine configuration from a YAML file
// with environment variable overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/settlement_engine/pkg/logger"
)

// Config is the root configuration for the gateway process.
type Config struct {
	Server   ServerConfig         `yaml:"server"`
	Database DatabaseConfig       `yaml:"database"`
	Logging  logger.LoggingConfig `yaml:"logging"`
	Market   MarketConfig         `yaml:"market"`
	Chain    ChainConfig          `yaml:"chain"`
	Events   EventsConfig         `yaml:"events"`
	Audit    AuditConfig          `yaml:"audit"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RateLimitPerSec float64       `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
}

// DatabaseConfig controls the optional Postgres mirror. When Host is empty
// the engine runs on the in-memory stores only.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

// DSN renders the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, sslMode)
}

// MarketConfig holds the settlement parameters.
type MarketConfig struct {
	// FeeBps is the marketplace fee in basis points applied to every sale.
	FeeBps uint32 `yaml:"fee_bps"`
	// FeeCapBps bounds both the marketplace fee and collection royalties.
	FeeCapBps uint32 `yaml:"fee_cap_bps"`
	// FeeReceiver receives the marketplace fee share.
	FeeReceiver string `yaml:"fee_receiver"`
	// Admin may change the fee and fee receiver at runtime.
	Admin string `yaml:"admin"`
	// APIKeys maps API keys to caller addresses for gateway authentication.
	APIKeys map[string]string `yaml:"api_keys"`
	// JWTSecret enables Bearer token authentication when non-empty.
	JWTSecret string `yaml:"jwt_secret"`
}

// ChainConfig points at the asset contract's node.
type ChainConfig struct {
	RPCURL  string        `yaml:"rpc_url"`
	Timeout time.Duration `yaml:"timeout"`
	// EngineAddress is the engine's on-chain agent account: sellers grant it
	// transfer approval, and it signs item transfers.
	EngineAddress string `yaml:"engine_address"`
}

// EventsConfig controls the market event fan-out.
type EventsConfig struct {
	// RedisAddr enables the Redis pub/sub sink when non-empty.
	RedisAddr    string `yaml:"redis_addr"`
	RedisChannel string `yaml:"redis_channel"`
	// BufferSize is the per-subscriber event queue depth.
	BufferSize int `yaml:"buffer_size"`
}

// AuditConfig controls the escrow conservation auditor.
type AuditConfig struct {
	// Schedule is a cron expression; empty disables the auditor.
	Schedule string `yaml:"schedule"`
}

// Default returns the configuration used when no file or overrides are given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimitPerSec: 50,
			RateLimitBurst:  100,
		},
		Logging: logger.LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Market: MarketConfig{
			FeeBps:    500,
			FeeCapBps: 2000,
		},
		Chain: ChainConfig{Timeout: 30 * time.Second},
		Events: EventsConfig{
			RedisChannel: "settlement.events",
			BufferSize:   64,
		},
		Audit: AuditConfig{Schedule: "@every 1m"},
	}
}

// Load reads SETTLEMENT_CONFIG (default config/settlement.yaml) if the file
// exists, then applies environment overrides.
func Load() (*Config, error) {
	path := os.Getenv("SETTLEMENT_CONFIG")
	if path == "" {
		path = "config/settlement.yaml"
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from an explicit path. A missing file is
// not an error; the defaults plus environment overrides are used.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// defaults only
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Market.FeeCapBps > 10000 {
		return fmt.Errorf("market.fee_cap_bps %d exceeds 10000", c.Market.FeeCapBps)
	}
	if c.Market.FeeBps > c.Market.FeeCapBps {
		return fmt.Errorf("market.fee_bps %d exceeds cap %d", c.Market.FeeBps, c.Market.FeeCapBps)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SETTLEMENT_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SETTLEMENT_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("SETTLEMENT_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("SETTLEMENT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SETTLEMENT_FEE_RECEIVER"); v != "" {
		cfg.Market.FeeReceiver = v
	}
	if v := os.Getenv("SETTLEMENT_ADMIN"); v != "" {
		cfg.Market.Admin = v
	}
	if v := os.Getenv("SETTLEMENT_JWT_SECRET"); v != "" {
		cfg.Market.JWTSecret = v
	}
	if v := os.Getenv("SETTLEMENT_CHAIN_RPC_URL"); v != "" {
		cfg.Chain.RPCURL = v
	}
	if v := os.Getenv("SETTLEMENT_REDIS_ADDR"); v != "" {
		cfg.Events.RedisAddr = v
	}
}
