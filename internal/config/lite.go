// Package config provides configuration management for the servers and the
// command line tool. This file contains the lightweight configuration for
// the standalone MCP server.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/phenovariant-server/internal/domain"
)

// LiteConfig is a simplified configuration for standalone operation.
// It requires no external databases and uses sensible defaults.
type LiteConfig struct {
	// Data storage
	DataDir string // Base directory for the SQLite database and exports

	// Ontology and mappings
	OBOPath      string // HPO snapshot in OBO format
	MappingsPath string // YAML schema mappings
	MaxWindow    int    // Longest phrase considered by the recognizer

	// Cache settings
	CacheMaxItems int           // Maximum items in memory cache
	CacheTTL      time.Duration // Default cache TTL

	// Validator settings
	ValidatorURL     string // VariantValidator base URL
	ValidatorEnabled bool   // Whether descriptors are sent out for validation

	// Transport settings
	Transport string // Transport type: stdio, http
	HTTPPort  int    // HTTP port (if transport is http)

	// Logging
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: json, text
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".phenovariant")

	return &LiteConfig{
		DataDir:          dataDir,
		OBOPath:          filepath.Join(dataDir, "hp.obo"),
		MappingsPath:     filepath.Join(dataDir, "mappings.yaml"),
		MaxWindow:        8,
		CacheMaxItems:    1000,
		CacheTTL:         24 * time.Hour,
		ValidatorURL:     "https://rest.variantvalidator.org",
		ValidatorEnabled: true,
		Transport:        "stdio",
		HTTPPort:         8080,
		LogLevel:         "info",
		LogFormat:        "json",
	}
}

// LoadLiteConfig loads configuration from PV_* environment variables.
// Falls back to defaults if not set.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	if v := os.Getenv("PV_DATA_DIR"); v != "" {
		cfg.DataDir = v
		cfg.OBOPath = filepath.Join(v, "hp.obo")
		cfg.MappingsPath = filepath.Join(v, "mappings.yaml")
	}
	if v := os.Getenv("PV_OBO_PATH"); v != "" {
		cfg.OBOPath = v
	}
	if v := os.Getenv("PV_MAPPINGS_PATH"); v != "" {
		cfg.MappingsPath = v
	}
	if v := os.Getenv("PV_MAX_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxWindow = n
		}
	}

	// Cache settings
	if v := os.Getenv("PV_CACHE_MAX_ITEMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CacheMaxItems = n
		}
	}
	if v := os.Getenv("PV_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CacheTTL = d
		}
	}

	// Validator
	if v := os.Getenv("PV_VALIDATOR_URL"); v != "" {
		cfg.ValidatorURL = v
	}
	if v := os.Getenv("PV_VALIDATOR_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.ValidatorEnabled = b
		}
	}

	// Transport
	if v := os.Getenv("PV_TRANSPORT"); v != "" {
		cfg.Transport = v
	}
	if v := os.Getenv("PV_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HTTPPort = n
		}
	}

	// Logging
	if v := os.Getenv("PV_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PV_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}

// DBPath returns the path to the SQLite database.
func (c *LiteConfig) DBPath() string {
	return filepath.Join(c.DataDir, "phenovariant.db")
}

// ExportDir returns the directory for report exports.
func (c *LiteConfig) ExportDir() string {
	return filepath.Join(c.DataDir, "exports")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.ExportDir(), 0755)
}

// Config expands the lite settings into a full application configuration
// with a single storage location and no PostgreSQL or Redis.
func (c *LiteConfig) Config() *domain.Config {
	return &domain.Config{
		Server: domain.ServerConfig{
			Host:         "127.0.0.1",
			Port:         c.HTTPPort,
			ExportScopes: []string{"internal"},
		},
		Storage: domain.StorageConfig{
			DataDir:    c.DataDir,
			SQLitePath: c.DBPath(),
		},
		Ontology: domain.OntologyConfig{
			OBOPath:     c.OBOPath,
			MaxWindow:   c.MaxWindow,
			UseArtifact: true,
		},
		Validator: domain.ValidatorConfig{
			Enabled:   c.ValidatorEnabled,
			BaseURL:   c.ValidatorURL,
			Timeout:   30 * time.Second,
			RateLimit: 2,
		},
		Cache: domain.CacheConfig{
			DefaultTTL: c.CacheTTL,
			MaxItems:   c.CacheMaxItems,
		},
		Harmonizer: domain.HarmonizerConfig{
			MaxParallelBatches: 4,
			MappingsPath:       c.MappingsPath,
		},
		Locations: []domain.StorageLocation{{Name: "default", Scope: "internal"}},
		Logging: domain.LoggingConfig{
			Level:  c.LogLevel,
			Format: c.LogFormat,
			Output: "stderr",
		},
	}
}
