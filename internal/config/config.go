package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/phenovariant-server/internal/domain"
)

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	v          *viper.Viper
	configFile string
	config     *domain.Config
}

var _ domain.ConfigManager = (*Manager)(nil)

// NewManager creates a new configuration manager. configFile may be empty,
// in which case config.yaml is searched for in the usual places.
func NewManager(configFile string) (*Manager, error) {
	m := &Manager{configFile: configFile}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from file, environment and defaults
func (m *Manager) loadConfig() error {
	v := viper.New()
	if m.configFile != "" {
		v.SetConfigFile(m.configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/phenovariant/")
	}

	v.SetEnvPrefix("PHENOVARIANT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Config file is optional unless named explicitly
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if m.configFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	if config.Storage.SQLitePath == "" {
		config.Storage.SQLitePath = filepath.Join(config.Storage.DataDir, "phenovariant.db")
	}

	m.v = v
	m.config = config
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.export_scopes", []string{"internal"})

	// Database defaults; an empty host disables PostgreSQL
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "phenovariant")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.migrations_path", "migrations")

	// Storage defaults
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.sqlite_path", "")

	// Ontology defaults
	v.SetDefault("ontology.obo_path", "hp.obo")
	v.SetDefault("ontology.max_window", 8)
	v.SetDefault("ontology.allow_partial", false)
	v.SetDefault("ontology.use_artifact", true)

	// Validator defaults
	v.SetDefault("validator.enabled", true)
	v.SetDefault("validator.base_url", "https://rest.variantvalidator.org")
	v.SetDefault("validator.genome_build", "GRCh38")
	v.SetDefault("validator.timeout", "30s")
	v.SetDefault("validator.rate_limit", 2)
	v.SetDefault("validator.breaker_max_requests", 3)
	v.SetDefault("validator.breaker_interval", "30s")
	v.SetDefault("validator.breaker_timeout", "60s")

	// Cache defaults; an empty redis_url keeps results in memory
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.default_ttl", "24h")
	v.SetDefault("cache.max_items", 1000)
	v.SetDefault("cache.max_retries", 3)
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.pool_timeout", "4s")

	// Harmonizer defaults
	v.SetDefault("harmonizer.max_parallel_batches", 4)
	v.SetDefault("harmonizer.mappings_path", "mappings.yaml")

	v.SetDefault("locations", []map[string]string{
		{"name": "default", "scope": "internal"},
	})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// GetDatabaseConfig returns database configuration
func (m *Manager) GetDatabaseConfig() *domain.DatabaseConfig {
	return &m.config.Database
}

// GetValidatorConfig returns validator configuration
func (m *Manager) GetValidatorConfig() *domain.ValidatorConfig {
	return &m.config.Validator
}

// Locations returns the configured storage locations
func (m *Manager) Locations() []domain.StorageLocation {
	return m.config.Locations
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Database.Host != "" {
		if config.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if config.Database.Username == "" {
			return fmt.Errorf("database username is required")
		}
	}

	if config.Ontology.MaxWindow <= 0 {
		return fmt.Errorf("ontology max_window must be positive: %d", config.Ontology.MaxWindow)
	}

	if config.Validator.Enabled && config.Validator.BaseURL == "" {
		return fmt.Errorf("validator base URL is required when the validator is enabled")
	}
	if config.Validator.RateLimit < 0 {
		return fmt.Errorf("invalid validator rate limit: %d", config.Validator.RateLimit)
	}

	if config.Harmonizer.MaxParallelBatches <= 0 {
		return fmt.Errorf("harmonizer max_parallel_batches must be positive: %d", config.Harmonizer.MaxParallelBatches)
	}

	seen := make(map[string]bool, len(config.Locations))
	for _, loc := range config.Locations {
		if loc.Name == "" {
			return fmt.Errorf("storage location name is required")
		}
		if seen[loc.Name] {
			return fmt.Errorf("duplicate storage location: %s", loc.Name)
		}
		seen[loc.Name] = true
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}
	if f := strings.ToLower(config.Logging.Format); f != "json" && f != "text" {
		return fmt.Errorf("invalid log format: %s", config.Logging.Format)
	}

	return nil
}

// GetDatabaseConnectionString returns a formatted database connection string
func (m *Manager) GetDatabaseConnectionString() string {
	db := m.config.Database
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.v.GetString("environment")) == "production"
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(m.v.GetString("environment"))
	return env == "development" || env == "dev" || env == ""
}
