// Package config loads indexer settings from the environment, with
// optional command line overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all runtime settings. Values come from environment
// variables (RPC_URL, DATABASE_URL, ...); a set flag with the matching
// dashed name wins over the environment.
type Config struct {
	RPCURL         string
	DatabaseURL    string
	ChainID        uint64
	FactoryAddress string
	BatchSize      uint64
	PollInterval   time.Duration
	SafetyLag      uint64
	RewindOnBoot   uint64
	ReorgRewind    uint64
	LogLevel       string
}

// Load merges environment variables and flags into Config and validates
// it. flags may be nil.
func Load(flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("chain-id", uint64(1))
	v.SetDefault("batch-size", uint64(100))
	v.SetDefault("poll-interval-ms", uint64(1000))
	v.SetDefault("safety-lag", uint64(3))
	v.SetDefault("rewind-on-boot", uint64(100))
	v.SetDefault("reorg-rewind", uint64(12))
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	cfg := Config{
		RPCURL:         v.GetString("rpc-url"),
		DatabaseURL:    v.GetString("database-url"),
		ChainID:        v.GetUint64("chain-id"),
		FactoryAddress: v.GetString("factory-address"),
		BatchSize:      v.GetUint64("batch-size"),
		PollInterval:   time.Duration(v.GetUint64("poll-interval-ms")) * time.Millisecond,
		SafetyLag:      v.GetUint64("safety-lag"),
		RewindOnBoot:   v.GetUint64("rewind-on-boot"),
		ReorgRewind:    v.GetUint64("reorg-rewind"),
		LogLevel:       v.GetString("log-level"),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.FactoryAddress == "" {
		return fmt.Errorf("FACTORY_ADDRESS is required")
	}
	if !common.IsHexAddress(c.FactoryAddress) {
		return fmt.Errorf("FACTORY_ADDRESS is not a valid address: %s", c.FactoryAddress)
	}
	if c.BatchSize == 0 {
		return fmt.Errorf("BATCH_SIZE must be greater than zero")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL_MS must be greater than zero")
	}
	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error: %s", c.LogLevel)
	}
	return nil
}
