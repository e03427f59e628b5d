package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/watchledger/internal/core/domain"
	"github.com/vietddude/watchledger/internal/infra/storage"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML content, expanding ${VAR} references from the
// environment, and applies defaults.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Store.OpTimeout <= 0 {
		c.Store.OpTimeout = storage.DefaultOpTimeout
	}
	c.Session.Defaults()
	c.Ledger.Defaults()
	if c.Audit.WriteTimeout <= 0 {
		c.Audit.WriteTimeout = 2 * time.Second
	}
	if c.Workers.SessionSweepInterval <= 0 {
		c.Workers.SessionSweepInterval = time.Hour
	}
	if c.Workers.PollBatchSize <= 0 {
		c.Workers.PollBatchSize = 200
	}
	if c.Workers.PollConcurrency <= 0 {
		c.Workers.PollConcurrency = 8
	}
}

// Validate checks values that have no sensible default.
func (c *AppConfig) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be debug, info, warn or error", c.Logging.Level)
	}
	if !c.Ledger.StalePolicy.Valid() {
		return fmt.Errorf("ledger.stale_policy %q must be reject or archive", c.Ledger.StalePolicy)
	}
	for _, n := range c.Workers.Networks {
		if _, ok := domain.Networks[n]; !ok {
			return fmt.Errorf("workers.networks: unknown network %q", n)
		}
	}
	return nil
}
