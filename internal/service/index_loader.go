package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/phenovariant-server/internal/domain"
	"github.com/phenovariant-server/internal/metrics"
	"github.com/phenovariant-server/pkg/ontology"
)

// Index sources reported in IndexSummary
const (
	IndexSourceOBO      = "obo"
	IndexSourceArtifact = "artifact"
)

// IndexSummary describes a published index
type IndexSummary struct {
	Version  string   `json:"version"`
	Concepts int      `json:"concepts"`
	Source   string   `json:"source"`
	Warnings []string `json:"warnings"`
}

// IndexLoader builds ontology indexes and publishes them on the catalog.
// Built indexes are saved as artifacts when a store is configured.
type IndexLoader struct {
	catalog   *Catalog
	artifacts domain.IndexArtifactStore
	metrics   *metrics.Metrics
	logger    *logrus.Logger
}

// NewIndexLoader creates a new index loader. artifacts may be nil.
func NewIndexLoader(catalog *Catalog, artifacts domain.IndexArtifactStore, m *metrics.Metrics, logger *logrus.Logger) *IndexLoader {
	return &IndexLoader{
		catalog:   catalog,
		artifacts: artifacts,
		metrics:   m,
		logger:    logger,
	}
}

// LoadOBO parses an OBO snapshot, builds its index and publishes it. A
// failed parse or build leaves the active index in place.
func (l *IndexLoader) LoadOBO(ctx context.Context, r io.Reader) (*IndexSummary, error) {
	snap, err := ontology.ParseOBO(r)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ix, err := ontology.Build(snap)
	if err != nil {
		return nil, err
	}

	if l.artifacts != nil {
		var buf bytes.Buffer
		if err := ix.Encode(&buf); err != nil {
			return nil, err
		}
		if err := l.artifacts.SaveIndexArtifact(ctx, ix.Version(), buf.Bytes()); err != nil {
			// The index is still usable without its artifact
			l.logger.WithError(err).WithField("version", ix.Version()).Warn("Failed to save index artifact")
		}
	}

	return l.publish(ix, IndexSourceOBO), nil
}

// LoadOBOFile is LoadOBO over a file path
func (l *IndexLoader) LoadOBOFile(ctx context.Context, path string) (*IndexSummary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ontology snapshot: %w", err)
	}
	defer f.Close()
	return l.LoadOBO(ctx, f)
}

// LoadArtifact publishes a stored index. An empty version selects the most
// recently saved artifact.
func (l *IndexLoader) LoadArtifact(ctx context.Context, version string) (*IndexSummary, error) {
	if l.artifacts == nil {
		return nil, fmt.Errorf("index artifact store: %w", domain.ErrNotFound)
	}
	if version == "" {
		latest, err := l.artifacts.LatestIndexVersion(ctx)
		if err != nil {
			return nil, err
		}
		version = latest
	}
	data, err := l.artifacts.LoadIndexArtifact(ctx, version)
	if err != nil {
		return nil, err
	}
	ix, err := ontology.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return l.publish(ix, IndexSourceArtifact), nil
}

// Load publishes the latest stored artifact when preferArtifact is set and
// one exists, and otherwise builds the index from the OBO file at path.
func (l *IndexLoader) Load(ctx context.Context, path string, preferArtifact bool) (*IndexSummary, error) {
	if preferArtifact && l.artifacts != nil {
		summary, err := l.LoadArtifact(ctx, "")
		if err == nil {
			return summary, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			l.logger.WithError(err).Warn("Stored index artifact unusable, rebuilding from snapshot")
		}
	}
	return l.LoadOBOFile(ctx, path)
}

func (l *IndexLoader) publish(ix *ontology.Index, source string) *IndexSummary {
	l.catalog.PublishIndex(ix)
	l.metrics.SetIndexConcepts(ix.Len())

	summary := &IndexSummary{
		Version:  ix.Version(),
		Concepts: ix.Len(),
		Source:   source,
		Warnings: []string{},
	}
	for _, w := range ix.Warnings() {
		summary.Warnings = append(summary.Warnings, w.String())
	}

	l.logger.WithFields(logrus.Fields{
		"version":  summary.Version,
		"concepts": summary.Concepts,
		"source":   source,
		"warnings": len(summary.Warnings),
	}).Info("Ontology index loaded")
	return summary
}
