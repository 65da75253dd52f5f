// Package config loads the docflow application configuration: the server
// registry, the mapping directory, the counter store selection, logging, and
// engine tuning. Mapping definitions themselves live in the mappings
// directory and are loaded by mapstore.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/docflowhq/docflow/internal/dbconn"
)

// CounterStoreConfig selects where the centralized consecutive counters live.
type CounterStoreConfig struct {
	// Backend is "memory", "sql", or "mongodb". sql/mongodb name a server key
	// from the servers block.
	Backend string `mapstructure:"backend"`
	Server  string `mapstructure:"server"`
	Table   string `mapstructure:"table"`
}

// ExecutionStoreConfig selects where execution records are persisted.
type ExecutionStoreConfig struct {
	// Backend is "memory" or "sql".
	Backend string `mapstructure:"backend"`
	Server  string `mapstructure:"server"`
	Table   string `mapstructure:"table"`
}

// LogConfig tunes the zap logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`
	// File, when set, also writes JSON logs there with rotation.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"maxSizeMb"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAgeDays"`
}

// EngineConfig tunes the execution engine.
type EngineConfig struct {
	WatchdogTimeout time.Duration `mapstructure:"watchdogTimeout"`
	SweepInterval   time.Duration `mapstructure:"sweepInterval"`
	ReservationTTL  time.Duration `mapstructure:"reservationTtl"`
}

// Config is the root application configuration.
type Config struct {
	Servers        map[string]dbconn.ServerConfig `mapstructure:"servers"`
	MappingsDir    string                         `mapstructure:"mappingsDir"`
	CounterStore   CounterStoreConfig             `mapstructure:"counterStore"`
	ExecutionStore ExecutionStoreConfig           `mapstructure:"executionStore"`
	Log            LogConfig                      `mapstructure:"log"`
	Engine         EngineConfig                   `mapstructure:"engine"`
}

// Load reads the config file (explicit path, or docflow.yaml in the working
// directory / $HOME/.docflow) with DOCFLOW_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("docflow")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.docflow")
	}
	v.SetEnvPrefix("DOCFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mappingsDir", "mappings")
	v.SetDefault("counterStore.backend", "memory")
	v.SetDefault("executionStore.backend", "memory")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.maxSizeMb", 50)
	v.SetDefault("log.maxBackups", 5)
	v.SetDefault("log.maxAgeDays", 30)
	v.SetDefault("engine.watchdogTimeout", "120s")
	v.SetDefault("engine.sweepInterval", "30s")
	v.SetDefault("engine.reservationTtl", "5m")

	if err := v.ReadInConfig(); err != nil {
		// A missing default config is fine: env vars and defaults still apply.
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errorsAs(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-references between sections.
func (c *Config) Validate() error {
	for key, server := range c.Servers {
		if _, err := dbconn.ParseDialect(server.Driver); err != nil {
			return fmt.Errorf("config: server %q: %w", key, err)
		}
		if server.DSN == "" {
			return fmt.Errorf("config: server %q has no dsn", key)
		}
	}
	switch c.CounterStore.Backend {
	case "", "memory":
	case "sql", "mongodb":
		if _, ok := c.Servers[c.CounterStore.Server]; !ok {
			return fmt.Errorf("config: counterStore references unknown server %q", c.CounterStore.Server)
		}
	default:
		return fmt.Errorf("config: unknown counterStore backend %q", c.CounterStore.Backend)
	}
	switch c.ExecutionStore.Backend {
	case "", "memory":
	case "sql":
		if _, ok := c.Servers[c.ExecutionStore.Server]; !ok {
			return fmt.Errorf("config: executionStore references unknown server %q", c.ExecutionStore.Server)
		}
	default:
		return fmt.Errorf("config: unknown executionStore backend %q", c.ExecutionStore.Backend)
	}
	return nil
}

// errorsAs is a tiny wrapper so the viper sentinel check reads cleanly above.
func errorsAs(err error, target *viper.ConfigFileNotFoundError) bool {
	if e, ok := err.(viper.ConfigFileNotFoundError); ok {
		*target = e
		return true
	}
	return false
}
