// Package app assembles the services behind the HTTP API, the MCP server
// and the command line tool from one configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/phenovariant-server/internal/config"
	"github.com/phenovariant-server/internal/database"
	"github.com/phenovariant-server/internal/domain"
	"github.com/phenovariant-server/internal/export"
	"github.com/phenovariant-server/internal/metrics"
	"github.com/phenovariant-server/internal/repository"
	"github.com/phenovariant-server/internal/service"
	"github.com/phenovariant-server/internal/store"
	"github.com/phenovariant-server/pkg/external"
)

// App holds the wired services
type App struct {
	Config   *domain.Config
	Logger   *logrus.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Catalog    *service.Catalog
	Recognizer *service.ConceptRecognizer
	Indexes    *service.IndexLoader
	Annotator  *service.Annotator
	Harmonizer *service.Harmonizer
	Importer   *service.ImportService
	Query      *service.QueryEngine
	// Validation is nil when the validator is disabled.
	Validation *service.ValidationService
	Exporter   *export.ScopedWriter
	Mappings   config.Mappings

	Records   domain.RecordStore
	Artifacts domain.IndexArtifactStore
	Cache     external.ResultCache

	validator       domain.VariantValidator
	skipPersistence bool
	closers         []func() error
}

// Option is a functional option for App.
type Option func(*App) error

// WithLogger sets a custom logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(a *App) error {
		a.Logger = logger
		return nil
	}
}

// WithRecordStore sets the record and artifact stores instead of opening
// the configured ones. Either may be nil.
func WithRecordStore(records domain.RecordStore, artifacts domain.IndexArtifactStore) Option {
	return func(a *App) error {
		a.Records = records
		a.Artifacts = artifacts
		a.skipPersistence = true
		return nil
	}
}

// WithValidator replaces the VariantValidator client.
func WithValidator(v domain.VariantValidator) Option {
	return func(a *App) error {
		a.validator = v
		return nil
	}
}

// WithMappings sets the schema mappings instead of reading the mappings
// file.
func WithMappings(m config.Mappings) Option {
	return func(a *App) error {
		a.Mappings = m
		return nil
	}
}

// New wires the application. Stores, cache and validator are opened from
// cfg unless replaced by options.
func New(ctx context.Context, cfg *domain.Config, opts ...Option) (*App, error) {
	a := &App{Config: cfg}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	if a.Logger == nil {
		logger, err := config.NewLogger(cfg.Logging)
		if err != nil {
			return nil, err
		}
		a.Logger = logger
	}

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)

	a.Catalog = service.NewCatalog(a.Logger)
	a.Recognizer = service.NewConceptRecognizer(service.RecognizeOptions{
		MaxWindow:    cfg.Ontology.MaxWindow,
		AllowPartial: cfg.Ontology.AllowPartial,
	})
	a.Annotator = service.NewAnnotator(a.Catalog, a.Recognizer, a.Metrics, a.Logger)
	a.Harmonizer = service.NewHarmonizer(a.Logger, cfg.Harmonizer.MaxParallelBatches)
	a.Query = service.NewQueryEngine(a.Logger)
	a.Exporter = export.NewScopedWriter(cfg.Server.ExportScopes, a.Logger)

	if !a.skipPersistence {
		if err := a.openStores(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	a.Indexes = service.NewIndexLoader(a.Catalog, a.Artifacts, a.Metrics, a.Logger)
	a.Importer = service.NewImportService(a.Harmonizer, a.Catalog, a.Records, cfg.Locations, a.Metrics, a.Logger)

	if a.validator != nil {
		a.Validation = service.NewValidationService(a.validator, a.Catalog, a.Metrics, a.Logger)
	} else if cfg.Validator.Enabled {
		if err := a.openValidator(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	if a.Mappings == nil {
		mappings, err := loadMappings(cfg.Harmonizer.MappingsPath, a.Logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Mappings = mappings
	}

	return a, nil
}

func (a *App) openStores(ctx context.Context) error {
	cfg := a.Config
	if cfg.Database.Host != "" {
		dbCfg := database.ConfigFromDomain(cfg.Database)
		db, err := database.NewConnection(ctx, dbCfg, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		if cfg.Database.MigrationsPath != "" {
			runner, err := database.NewMigrationRunner(dbCfg.URL(), cfg.Database.MigrationsPath, a.Logger)
			if err != nil {
				db.Close()
				return err
			}
			err = runner.Up(ctx)
			runner.Close()
			if err != nil {
				db.Close()
				return err
			}
		}
		repo := repository.NewRecordRepository(db, a.Logger)
		a.Records, a.Artifacts = repo, repo
		a.closers = append(a.closers, repo.Close)
		return nil
	}

	if cfg.Storage.SQLitePath == "" {
		return nil
	}
	sqlite, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return fmt.Errorf("failed to open record store: %w", err)
	}
	a.Records, a.Artifacts = sqlite, sqlite
	a.closers = append(a.closers, sqlite.Close)
	return nil
}

func (a *App) openValidator(ctx context.Context) error {
	cfg := a.Config
	var cache external.ResultCache
	if cfg.Cache.RedisURL != "" {
		redisCache, err := external.NewRedisResultCache(ctx, cfg.Cache)
		if err != nil {
			return fmt.Errorf("failed to connect to result cache: %w", err)
		}
		cache = redisCache
	} else {
		memCache, err := external.NewMemoryResultCache(cfg.Cache.MaxItems, cfg.Cache.DefaultTTL)
		if err != nil {
			return fmt.Errorf("failed to create result cache: %w", err)
		}
		cache = memCache
	}
	a.Cache = cache
	a.closers = append(a.closers, cache.Close)

	client := external.NewVariantValidatorClient(external.VariantValidatorConfig{
		BaseURL:     cfg.Validator.BaseURL,
		GenomeBuild: cfg.Validator.GenomeBuild,
		Timeout:     cfg.Validator.Timeout,
		RateLimit:   cfg.Validator.RateLimit,
		CacheTTL:    cfg.Cache.DefaultTTL,
		Breaker: external.CircuitBreakerConfig{
			MaxRequests: cfg.Validator.MaxRequests,
			Interval:    cfg.Validator.BreakerWindow,
			Timeout:     cfg.Validator.BreakerReset,
		},
	}, cache, a.Logger)
	a.Validation = service.NewValidationService(client, a.Catalog, a.Metrics, a.Logger)
	return nil
}

func loadMappings(path string, logger *logrus.Logger) (config.Mappings, error) {
	if path == "" {
		return config.Mappings{}, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.WithField("path", path).Warn("Schema mappings file not found, only inline schemas accepted")
		return config.Mappings{}, nil
	}
	return config.LoadSchemaMappings(path)
}

// Bootstrap loads the ontology index and the persisted records of every
// configured location.
func (a *App) Bootstrap(ctx context.Context) error {
	if a.Config.Ontology.OBOPath != "" {
		if _, err := a.Indexes.Load(ctx, a.Config.Ontology.OBOPath, a.Config.Ontology.UseArtifact); err != nil {
			return fmt.Errorf("failed to load ontology index: %w", err)
		}
	}
	names := make([]string, 0, len(a.Config.Locations))
	for _, loc := range a.Config.Locations {
		names = append(names, loc.Name)
	}
	if _, err := a.Importer.LoadLocations(ctx, names); err != nil {
		return err
	}
	return nil
}

// Schema resolves a named schema mapping
func (a *App) Schema(name string) (domain.SchemaMapping, error) {
	return a.Mappings.Get(name)
}

// QueryResult is the outcome of a query over the active record set
type QueryResult struct {
	SetVersion   uint64                 `json:"set_version"`
	IndexVersion string                 `json:"index_version,omitempty"`
	Count        int                    `json:"count"`
	Records      []domain.VariantRecord `json:"records"`
}

// RunQuery filters the active record set. Phenotype predicates need a
// loaded index; other predicates work without one.
func (a *App) RunQuery(ctx context.Context, expr domain.FilterExpression) (*QueryResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	set := a.Catalog.Records()
	ix, _ := a.Catalog.Index()

	records, err := a.Query.Filter(set.Records, expr, ix)
	a.Metrics.ObserveQuery(err, time.Since(start))
	if err != nil {
		return nil, err
	}

	result := &QueryResult{SetVersion: set.Version, Count: len(records), Records: records}
	if ix != nil {
		result.IndexVersion = ix.Version()
	}
	return result, nil
}

// Export writes the records matching expr, restricted to the exportable
// scopes. With strict set any out-of-scope match fails the export.
func (a *App) Export(ctx context.Context, w io.Writer, expr domain.FilterExpression, format export.Format, strict bool) (*export.ScopeReport, error) {
	result, err := a.RunQuery(ctx, expr)
	if err != nil {
		return nil, err
	}
	writer := *a.Exporter
	writer.Strict = strict
	return writer.Write(w, result.Records, format)
}

// Close releases stores and caches in reverse order of opening
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// IndexInfo describes the active ontology index
type IndexInfo struct {
	Loaded      bool     `json:"loaded"`
	Version     string   `json:"version,omitempty"`
	Concepts    int      `json:"concepts"`
	MaxWords    int      `json:"max_term_words,omitempty"`
	Warnings    []string `json:"warnings"`
	RecordCount int      `json:"record_count"`
	SetVersion  uint64   `json:"set_version"`
}

// IndexInfo reports the active index and record set
func (a *App) IndexInfo() *IndexInfo {
	set := a.Catalog.Records()
	info := &IndexInfo{Warnings: []string{}, RecordCount: set.Len(), SetVersion: set.Version}
	ix, err := a.Catalog.Index()
	if err != nil {
		return info
	}
	info.Loaded = true
	info.Version = ix.Version()
	info.Concepts = ix.Len()
	info.MaxWords = ix.MaxTermWords()
	for _, w := range ix.Warnings() {
		info.Warnings = append(info.Warnings, w.String())
	}
	return info
}

// ConceptView is an ontology concept with its hierarchy resolved
type ConceptView struct {
	ID          string   `json:"id"`
	Label       string   `json:"label"`
	Definition  string   `json:"definition,omitempty"`
	Synonyms    []string `json:"synonyms"`
	Parents     []string `json:"parents"`
	Ancestors   []string `json:"ancestors"`
	Descendants int      `json:"descendants"`
	Obsolete    bool     `json:"obsolete,omitempty"`
	ReplacedBy  string   `json:"replaced_by,omitempty"`
}

// Concept looks up a concept by primary or alternate id
func (a *App) Concept(id string) (*ConceptView, error) {
	ix, err := a.Catalog.Index()
	if err != nil {
		return nil, err
	}
	primary, ok := ix.Resolve(id)
	if !ok {
		return nil, fmt.Errorf("concept %q: %w", id, domain.ErrNotFound)
	}
	c, ok := ix.Concept(primary)
	if !ok {
		return nil, fmt.Errorf("concept %q: %w", id, domain.ErrNotFound)
	}
	view := &ConceptView{
		ID:          c.ID,
		Label:       c.Label,
		Definition:  c.Definition,
		Synonyms:    append([]string{}, c.Synonyms...),
		Parents:     append([]string{}, c.Parents...),
		Ancestors:   append([]string{}, ix.Ancestors(c.ID)...),
		Descendants: len(ix.Descendants(c.ID)),
		Obsolete:    c.Obsolete,
		ReplacedBy:  c.ReplacedBy,
	}
	return view, nil
}

// ErrValidatorDisabled is returned by validation entry points when no
// validator is configured.
var ErrValidatorDisabled = fmt.Errorf("validator is disabled: %w", domain.ErrValidationUnavailable)

// Validator returns the validation service or ErrValidatorDisabled
func (a *App) Validator() (*service.ValidationService, error) {
	if a.Validation == nil {
		return nil, ErrValidatorDisabled
	}
	return a.Validation, nil
}
