package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Server     ServerConfig      `mapstructure:"server"`
	Database   DatabaseConfig    `mapstructure:"database"`
	Storage    StorageConfig     `mapstructure:"storage"`
	Ontology   OntologyConfig    `mapstructure:"ontology"`
	Validator  ValidatorConfig   `mapstructure:"validator"`
	Cache      CacheConfig       `mapstructure:"cache"`
	Harmonizer HarmonizerConfig  `mapstructure:"harmonizer"`
	Locations  []StorageLocation `mapstructure:"locations"`
	Logging    LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	// ExportScopes lists the access scopes this deployment may export.
	ExportScopes []string `mapstructure:"export_scopes"`
}

// DatabaseConfig represents PostgreSQL connection configuration. Postgres is
// optional; an empty Host means records are kept in SQLite only.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// StorageConfig represents local storage configuration
type StorageConfig struct {
	DataDir    string `mapstructure:"data_dir"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// OntologyConfig represents ontology snapshot and recognizer configuration
type OntologyConfig struct {
	OBOPath      string `mapstructure:"obo_path"`
	MaxWindow    int    `mapstructure:"max_window"`
	AllowPartial bool   `mapstructure:"allow_partial"`
	UseArtifact  bool   `mapstructure:"use_artifact"`
}

// ValidatorConfig represents the variant nomenclature validator configuration
type ValidatorConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	GenomeBuild   string        `mapstructure:"genome_build"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RateLimit     int           `mapstructure:"rate_limit"`
	MaxRequests   uint32        `mapstructure:"breaker_max_requests"`
	BreakerWindow time.Duration `mapstructure:"breaker_interval"`
	BreakerReset  time.Duration `mapstructure:"breaker_timeout"`
	Enabled       bool          `mapstructure:"enabled"`
}

// CacheConfig represents validation result cache configuration
type CacheConfig struct {
	RedisURL    string        `mapstructure:"redis_url"`
	DefaultTTL  time.Duration `mapstructure:"default_ttl"`
	MaxItems    int           `mapstructure:"max_items"`
	MaxRetries  int           `mapstructure:"max_retries"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`
}

// HarmonizerConfig represents batch harmonization configuration
type HarmonizerConfig struct {
	MaxParallelBatches int    `mapstructure:"max_parallel_batches"`
	MappingsPath       string `mapstructure:"mappings_path"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
