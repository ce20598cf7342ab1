// Package config loads process configuration from the environment (and
// an optional .env file), matching the teacher's caarlos0/env +
// godotenv LoadConfig/Validate pattern (config.go).
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Core holds everything the core process needs.
type Core struct {
	FeedAddr  string `env:"TELEMETRY_FEED_ADDR" envDefault:":8000"`
	ShardAddr string `env:"TELEMETRY_SHARD_ADDR" envDefault:":8001"`

	Denylist           []string `env:"TELEMETRY_DENYLIST" envSeparator:","`
	MaxThirdPartyNodes int      `env:"TELEMETRY_MAX_THIRD_PARTY_NODES" envDefault:"500"`
	FirstPartyChains   []string `env:"TELEMETRY_FIRST_PARTY_CHAINS" envSeparator:"," envDefault:"Polkadot,Kusama,Westend,Rococo"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Shard holds everything a shard process needs.
type Shard struct {
	ListenAddr string `env:"TELEMETRY_SHARD_LISTEN_ADDR" envDefault:":8002"`
	CoreURL    string `env:"TELEMETRY_CORE_URL" envDefault:"ws://localhost:8001/shard_submit"`

	MaxNodesPerConnection int           `env:"TELEMETRY_MAX_NODES_PER_CONNECTION" envDefault:"20"`
	MaxBytesPerSecond     float64       `env:"TELEMETRY_MAX_BYTES_PER_SECOND" envDefault:"262144"`
	BlockDuration         time.Duration `env:"TELEMETRY_BLOCK_DURATION" envDefault:"600s"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// LoadCore reads Core configuration, tolerating a missing .env file.
func LoadCore() (*Core, error) {
	_ = godotenv.Load()
	cfg := &Core{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse core config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate core config: %w", err)
	}
	return cfg, nil
}

// Validate checks Core for obviously broken values.
func (c *Core) Validate() error {
	if c.FeedAddr == "" {
		return fmt.Errorf("TELEMETRY_FEED_ADDR is required")
	}
	if c.ShardAddr == "" {
		return fmt.Errorf("TELEMETRY_SHARD_ADDR is required")
	}
	if c.MaxThirdPartyNodes < 1 {
		return fmt.Errorf("TELEMETRY_MAX_THIRD_PARTY_NODES must be > 0, got %d", c.MaxThirdPartyNodes)
	}
	return validLogLevel(c.LogLevel)
}

// LoadShard reads Shard configuration, tolerating a missing .env file.
func LoadShard() (*Shard, error) {
	_ = godotenv.Load()
	cfg := &Shard{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse shard config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate shard config: %w", err)
	}
	return cfg, nil
}

// Validate checks Shard for obviously broken values.
func (c *Shard) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("TELEMETRY_SHARD_LISTEN_ADDR is required")
	}
	if c.CoreURL == "" {
		return fmt.Errorf("TELEMETRY_CORE_URL is required")
	}
	if c.MaxNodesPerConnection < 1 {
		return fmt.Errorf("TELEMETRY_MAX_NODES_PER_CONNECTION must be > 0, got %d", c.MaxNodesPerConnection)
	}
	if c.MaxBytesPerSecond <= 0 {
		return fmt.Errorf("TELEMETRY_MAX_BYTES_PER_SECOND must be > 0, got %f", c.MaxBytesPerSecond)
	}
	return validLogLevel(c.LogLevel)
}

func validLogLevel(level string) error {
	switch level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error (got: %s)", level)
	}
}
