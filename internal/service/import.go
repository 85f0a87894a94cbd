package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/phenovariant-server/internal/domain"
	"github.com/phenovariant-server/internal/metrics"
)

// ImportResult is the outcome of importing one or more batches
type ImportResult struct {
	Records    int                           `json:"records"`
	Rows       int                           `json:"rows"`
	Merged     int                           `json:"merged"`
	Warnings   []domain.HarmonizationWarning `json:"warnings"`
	SetVersion uint64                        `json:"set_version"`
}

// ImportService harmonizes raw batches, merges the records into the catalog
// and persists them when a store is configured
type ImportService struct {
	harmonizer *Harmonizer
	catalog    *Catalog
	store      domain.RecordStore
	locations  map[string]domain.StorageLocation
	metrics    *metrics.Metrics
	logger     *logrus.Logger
}

// NewImportService creates a new import service. store may be nil. When
// locations is non-empty only those locations accept imports.
func NewImportService(h *Harmonizer, catalog *Catalog, store domain.RecordStore, locations []domain.StorageLocation, m *metrics.Metrics, logger *logrus.Logger) *ImportService {
	known := make(map[string]domain.StorageLocation, len(locations))
	for _, l := range locations {
		known[l.Name] = l
	}
	return &ImportService{
		harmonizer: h,
		catalog:    catalog,
		store:      store,
		locations:  known,
		metrics:    m,
		logger:     logger,
	}
}

// Location resolves a configured location by name
func (s *ImportService) Location(name string) (domain.StorageLocation, error) {
	if len(s.locations) == 0 {
		return domain.StorageLocation{Name: name}, nil
	}
	loc, ok := s.locations[name]
	if !ok {
		return domain.StorageLocation{}, fmt.Errorf("storage location %q: %w", name, domain.ErrNotFound)
	}
	return loc, nil
}

// Import harmonizes one batch into a configured location. Nothing is
// published when harmonization fails or is cancelled.
func (s *ImportService) Import(ctx context.Context, batch domain.RawBatch, schema domain.SchemaMapping, location string) (*ImportResult, error) {
	loc, err := s.Location(location)
	if err != nil {
		return nil, err
	}
	res, err := s.harmonizer.Harmonize(ctx, batch, schema, loc)
	if err != nil {
		return nil, err
	}
	return s.publish(ctx, []*HarmonizeResult{res})
}

// ImportBatches harmonizes several batches concurrently and publishes them
// in one merge.
func (s *ImportService) ImportBatches(ctx context.Context, jobs []HarmonizeJob) (*ImportResult, error) {
	for i := range jobs {
		loc, err := s.Location(jobs[i].Location.Name)
		if err != nil {
			return nil, err
		}
		jobs[i].Location = loc
	}
	results, err := s.harmonizer.HarmonizeBatches(ctx, jobs)
	if err != nil {
		return nil, err
	}
	return s.publish(ctx, results)
}

// LoadLocations reads persisted records into the catalog
func (s *ImportService) LoadLocations(ctx context.Context, locations []string) (*RecordSet, error) {
	if s.store == nil {
		return s.catalog.Records(), nil
	}
	var records []domain.VariantRecord
	for _, name := range locations {
		recs, err := s.store.ListRecords(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to load records for %s: %w", name, err)
		}
		records = append(records, recs...)
	}
	set := s.catalog.MergeRecords(records)
	s.logger.WithFields(logrus.Fields{
		"locations": len(locations),
		"records":   len(records),
	}).Info("Loaded persisted records")
	return set, nil
}

func (s *ImportService) publish(ctx context.Context, results []*HarmonizeResult) (*ImportResult, error) {
	out := &ImportResult{Warnings: []domain.HarmonizationWarning{}}
	var incoming []domain.VariantRecord
	for _, res := range results {
		incoming = append(incoming, res.Records...)
		out.Rows += res.Rows
		out.Merged += res.Merged
		out.Warnings = append(out.Warnings, res.Warnings...)

		skipped := 0
		for _, w := range res.Warnings {
			s.metrics.IncrementHarmonizationWarning(w.Field)
			if w.Skipped {
				skipped++
			}
		}
		s.metrics.AddHarmonizedRows("record", len(res.Records))
		s.metrics.AddHarmonizedRows("merged", res.Merged)
		s.metrics.AddHarmonizedRows("skipped", skipped)
	}
	out.Records = len(incoming)

	set := s.catalog.MergeRecords(incoming)
	out.SetVersion = set.Version

	if s.store != nil && len(incoming) > 0 {
		keys := make(map[domain.RecordKey]bool, len(incoming))
		for i := range incoming {
			keys[incoming[i].Key()] = true
		}
		toSave := make([]domain.VariantRecord, 0, len(keys))
		for _, r := range set.Records {
			if keys[r.Key()] {
				toSave = append(toSave, r)
			}
		}
		if err := s.store.SaveRecords(ctx, toSave); err != nil {
			return out, fmt.Errorf("failed to persist imported records: %w", err)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"batches":     len(results),
		"rows":        out.Rows,
		"records":     out.Records,
		"warnings":    len(out.Warnings),
		"set_version": out.SetVersion,
	}).Info("Imported batches")

	return out, nil
}
