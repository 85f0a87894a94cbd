package domain

import (
	"context"
)

// ValidationOutcome is the validator's answer for a single descriptor.
type ValidationOutcome struct {
	Valid      bool     `json:"valid"`
	Normalized string   `json:"normalized,omitempty"`
	GeneSymbol string   `json:"gene_symbol,omitempty"`
	Errors     []string `json:"errors,omitempty"`
}

// VariantValidator is the call contract of the external nomenclature
// validation service. Implementations must honor ctx deadlines and return a
// *ValidationUnavailableError for transport failures and a
// *ValidationRejectedError for invalid descriptors.
type VariantValidator interface {
	Validate(ctx context.Context, descriptor string) (*ValidationOutcome, error)
	ResolveTranscripts(ctx context.Context, gene string) ([]string, error)
}

// RecordStore persists harmonized records. Persistence is a caller concern;
// the core only produces record sequences.
type RecordStore interface {
	SaveRecords(ctx context.Context, records []VariantRecord) error
	ListRecords(ctx context.Context, location string) ([]VariantRecord, error)
	Close() error
}

// IndexArtifactStore persists serialized ontology indexes keyed by snapshot
// version so recognition can start without re-parsing the ontology.
type IndexArtifactStore interface {
	SaveIndexArtifact(ctx context.Context, version string, data []byte) error
	LoadIndexArtifact(ctx context.Context, version string) ([]byte, error)
	LatestIndexVersion(ctx context.Context) (string, error)
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetServerConfig() *ServerConfig
	GetDatabaseConfig() *DatabaseConfig
	GetValidatorConfig() *ValidatorConfig
	Locations() []StorageLocation
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	IsProduction() bool
	IsDevelopment() bool
}
