package config

import (
	"time"

	"github.com/vietddude/watchledger/internal/audit"
	"github.com/vietddude/watchledger/internal/core/domain"
	"github.com/vietddude/watchledger/internal/infra/redis"
	"github.com/vietddude/watchledger/internal/infra/storage/postgres"
	"github.com/vietddude/watchledger/internal/ledger"
	"github.com/vietddude/watchledger/internal/session"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig    `yaml:"server"`
	Database postgres.Config `yaml:"database"`
	Redis    redis.Config    `yaml:"redis"`
	Logging  LoggingConfig   `yaml:"logging"`
	Session  session.Config  `yaml:"session"`
	Ledger   ledger.Config   `yaml:"ledger"`
	Audit    audit.Config    `yaml:"audit"`
	Store    StoreConfig     `yaml:"store"`
	Workers  WorkersConfig   `yaml:"workers"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// StoreConfig bounds every component operation against the store.
type StoreConfig struct {
	OpTimeout time.Duration `yaml:"op_timeout"`
}

// WorkersConfig holds background job settings.
type WorkersConfig struct {
	SessionSweepInterval time.Duration      `yaml:"session_sweep_interval"`
	PollInterval         time.Duration      `yaml:"poll_interval"`    // 0 disables the poller
	PollBatchSize        int                `yaml:"poll_batch_size"`  // watches per page
	PollConcurrency      int                `yaml:"poll_concurrency"` // chain lookups in flight
	Networks             []domain.NetworkID `yaml:"networks"`         // empty = every network
}
