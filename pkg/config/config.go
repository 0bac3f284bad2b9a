// Package config provides configuration management for slotmap.
//
// This package handles:
// - Configuration file parsing (YAML/JSON)
// - Environment variable overrides
// - Configuration validation
//
// Configuration Priority (highest to lowest):
// 1. Environment variables (SLOTMAP_*)
// 2. Configuration file
// 3. Default values
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jiayi-1994/slotmap/pkg/enrich"
)

// Config is the global configuration structure
type Config struct {
	// Universe describes the claimable slot numbers
	Universe UniverseConfig `json:"universe" yaml:"universe"`

	// Index contains presence index sizing
	Index IndexConfig `json:"index" yaml:"index"`

	// Store selects where the index bytes are persisted
	Store StoreConfig `json:"store" yaml:"store"`

	// Enrichment configures the post-claim collaborator
	Enrichment EnrichmentConfig `json:"enrichment" yaml:"enrichment"`

	// Server contains HTTP server settings
	Server ServerConfig `json:"server" yaml:"server"`

	// Logging contains logging configuration
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// UniverseConfig describes the slot universe
type UniverseConfig struct {
	// TotalSlots is the exclusive upper bound on slot numbers
	// Default: 240042
	TotalSlots uint64 `json:"totalSlots" yaml:"totalSlots"`

	// EligibilityStride is the counter increment that reveals one more slot.
	// Slot n is eligible once counter >= (n+1) * EligibilityStride.
	// Default: 1000
	EligibilityStride uint64 `json:"eligibilityStride" yaml:"eligibilityStride"`

	// GoLive is the instant before which no claim is permitted (RFC 3339)
	// Default: Unix epoch
	GoLive time.Time `json:"goLive" yaml:"goLive"`
}

// IndexConfig contains presence index sizing
type IndexConfig struct {
	// BlockSize is the growth increment of the index in bytes
	// Default: 10240
	BlockSize int `json:"blockSize" yaml:"blockSize"`

	// InitialCapacityBits is provisioned by the init command when no
	// explicit size is given. Zero means TotalSlots.
	InitialCapacityBits uint64 `json:"initialCapacityBits" yaml:"initialCapacityBits"`
}

// StoreConfig selects the persistence backend
type StoreConfig struct {
	// Backend is "file" or "badger"
	// Default: "file"
	Backend string `json:"backend" yaml:"backend"`

	// Path is the file path (file) or database directory (badger)
	// Default: "/var/lib/slotmap/slot_index.bin"
	Path string `json:"path" yaml:"path"`

	// SyncWrites fsyncs after every write
	// Default: true
	SyncWrites bool `json:"syncWrites" yaml:"syncWrites"`

	// InMemory keeps badger data in RAM only (testing)
	InMemory bool `json:"inMemory" yaml:"inMemory"`
}

// EnrichmentConfig configures what happens after a successful claim
type EnrichmentConfig struct {
	// Enabled turns enrichment on
	// Default: true
	Enabled bool `json:"enabled" yaml:"enabled"`

	// NameTemplate formats the slot number into the artifact name
	// Default: "%d.slot"
	NameTemplate string `json:"nameTemplate" yaml:"nameTemplate"`

	// WebhookURL receives a JSON POST per claimed slot.
	// If empty, artifacts are only logged.
	WebhookURL string `json:"webhookURL" yaml:"webhookURL"`

	// RequestTimeout bounds one webhook call
	// Default: 10s
	RequestTimeout time.Duration `json:"requestTimeout" yaml:"requestTimeout"`

	// InitialInterval is the first retry delay
	// Default: 500ms
	InitialInterval time.Duration `json:"initialInterval" yaml:"initialInterval"`

	// MaxElapsedTime bounds all retries of one enrichment
	// Default: 1m
	MaxElapsedTime time.Duration `json:"maxElapsedTime" yaml:"maxElapsedTime"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	// ListenAddress is the bind address of the HTTP API
	// Default: ":8080"
	ListenAddress string `json:"listenAddress" yaml:"listenAddress"`

	// ShutdownTimeout bounds graceful shutdown
	// Default: 10s
	ShutdownTimeout time.Duration `json:"shutdownTimeout" yaml:"shutdownTimeout"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `json:"level" yaml:"level"`

	// Format is the log format: "json" or "text"
	// Default: "json"
	Format string `json:"format" yaml:"format"`

	// File is the log file path (optional)
	// If empty, logs to stderr
	File string `json:"file" yaml:"file"`
}

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	return &Config{
		Universe: UniverseConfig{
			TotalSlots:        240_042,
			EligibilityStride: 1000,
			GoLive:            time.Unix(0, 0).UTC(),
		},
		Index: IndexConfig{
			BlockSize: 10240,
		},
		Store: StoreConfig{
			Backend:    "file",
			Path:       "/var/lib/slotmap/slot_index.bin",
			SyncWrites: true,
		},
		Enrichment: EnrichmentConfig{
			Enabled:         true,
			NameTemplate:    "%d.slot",
			RequestTimeout:  10 * time.Second,
			InitialInterval: 500 * time.Millisecond,
			MaxElapsedTime:  time.Minute,
		},
		Server: ServerConfig{
			ListenAddress:   ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig loads configuration from file and environment variables
//
// Configuration is loaded in the following order:
// 1. Default values
// 2. Configuration file (if specified via SLOTMAP_CONFIG_FILE env var)
// 3. Environment variable overrides
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	if configFile := os.Getenv("SLOTMAP_CONFIG_FILE"); configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configFile, err)
		}
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a YAML or JSON file
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// YAML is a superset of JSON
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// ApplyEnvOverrides applies environment variable overrides to the configuration
//
// Examples:
//   - SLOTMAP_TOTAL_SLOTS=240042
//   - SLOTMAP_ELIGIBILITY_STRIDE=1000
//   - SLOTMAP_GO_LIVE=2023-12-20T21:40:00Z
//   - SLOTMAP_STORE_BACKEND=badger
//   - SLOTMAP_STORE_PATH=/var/lib/slotmap/db
//   - SLOTMAP_WEBHOOK_URL=https://example.invalid/artifacts
//   - SLOTMAP_LISTEN_ADDRESS=:9090
//   - SLOTMAP_LOG_LEVEL=debug
func (c *Config) ApplyEnvOverrides() {
	// Universe settings
	if v := os.Getenv("SLOTMAP_TOTAL_SLOTS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.Universe.TotalSlots = n
		}
	}
	if v := os.Getenv("SLOTMAP_ELIGIBILITY_STRIDE"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.Universe.EligibilityStride = n
		}
	}
	if v := os.Getenv("SLOTMAP_GO_LIVE"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			c.Universe.GoLive = ts
		}
	}

	// Index settings
	if v := os.Getenv("SLOTMAP_INDEX_BLOCK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Index.BlockSize = n
		}
	}

	// Store settings
	if v := os.Getenv("SLOTMAP_STORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("SLOTMAP_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("SLOTMAP_STORE_SYNC_WRITES"); v != "" {
		c.Store.SyncWrites = strings.ToLower(v) == "true"
	}

	// Enrichment settings
	if v := os.Getenv("SLOTMAP_ENRICHMENT_ENABLED"); v != "" {
		c.Enrichment.Enabled = strings.ToLower(v) == "true"
	}
	if v := os.Getenv("SLOTMAP_WEBHOOK_URL"); v != "" {
		c.Enrichment.WebhookURL = v
	}
	if v := os.Getenv("SLOTMAP_NAME_TEMPLATE"); v != "" {
		c.Enrichment.NameTemplate = v
	}

	// Server settings
	if v := os.Getenv("SLOTMAP_LISTEN_ADDRESS"); v != "" {
		c.Server.ListenAddress = v
	}

	// Logging settings
	if v := os.Getenv("SLOTMAP_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SLOTMAP_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errors []string

	// Validate universe
	if c.Universe.TotalSlots == 0 {
		errors = append(errors, "totalSlots must be positive")
	}
	if c.Universe.EligibilityStride == 0 {
		errors = append(errors, "eligibilityStride must be positive")
	}

	// Validate index sizing
	if c.Index.BlockSize <= 0 {
		errors = append(errors, fmt.Sprintf("invalid index blockSize: %d (must be > 0)", c.Index.BlockSize))
	}

	// Validate store
	if c.Store.Backend != "file" && c.Store.Backend != "badger" {
		errors = append(errors, fmt.Sprintf("invalid store backend: %s (must be 'file' or 'badger')", c.Store.Backend))
	}
	if c.Store.Path == "" && !(c.Store.Backend == "badger" && c.Store.InMemory) {
		errors = append(errors, "store path is required")
	}
	if c.Store.InMemory && c.Store.Backend != "badger" {
		errors = append(errors, "inMemory is only supported by the badger backend")
	}

	// Validate enrichment
	if c.Enrichment.Enabled {
		if !enrich.ValidTemplate(c.Enrichment.NameTemplate) {
			errors = append(errors, fmt.Sprintf("invalid nameTemplate: %q (must contain exactly one %%d and no other %%)", c.Enrichment.NameTemplate))
		}
		if c.Enrichment.WebhookURL != "" &&
			!strings.HasPrefix(c.Enrichment.WebhookURL, "http://") &&
			!strings.HasPrefix(c.Enrichment.WebhookURL, "https://") {
			errors = append(errors, fmt.Sprintf("invalid webhookURL: %s (must be http or https)", c.Enrichment.WebhookURL))
		}
		if c.Enrichment.RequestTimeout <= 0 {
			errors = append(errors, "enrichment requestTimeout must be positive")
		}
	}

	// Validate server
	if c.Server.ListenAddress == "" {
		errors = append(errors, "server listenAddress is required")
	}

	// Validate log level
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		errors = append(errors, fmt.Sprintf("invalid log level: %s (must be 'debug', 'info', 'warn', or 'error')", c.Logging.Level))
	}

	// Validate log format
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		errors = append(errors, fmt.Sprintf("invalid log format: %s (must be 'json' or 'text')", c.Logging.Format))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

// ProvisionBits returns the number of bits the init command provisions
// when no explicit size is given
func (c *Config) ProvisionBits() uint64 {
	if c.Index.InitialCapacityBits > 0 {
		return c.Index.InitialCapacityBits
	}
	return c.Universe.TotalSlots
}

// IsLive returns true if claiming is open at now
func (c *Config) IsLive(now time.Time) bool {
	return !now.Before(c.Universe.GoLive)
}
