package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/phenovariant-server/internal/domain"
	"github.com/phenovariant-server/internal/metrics"
	"github.com/phenovariant-server/pkg/ontology"
)

// UnresolvedSpan is a recognized span that could not be reported as a
// concept match.
type UnresolvedSpan struct {
	Start      int    `json:"start"`
	End        int    `json:"end"`
	Text       string `json:"text"`
	ConceptID  string `json:"concept_id"`
	Reason     string `json:"reason"`
	ReplacedBy string `json:"replaced_by,omitempty"`
}

// AnnotationResult is the outcome of annotating one text
type AnnotationResult struct {
	IndexVersion string                `json:"index_version"`
	Matches      []domain.ConceptMatch `json:"matches"`
	Unresolved   []UnresolvedSpan      `json:"unresolved"`
}

// AnnotateRecordsResult summarizes a notes annotation pass
type AnnotateRecordsResult struct {
	IndexVersion   string `json:"index_version"`
	RecordsScanned int    `json:"records_scanned"`
	RecordsUpdated int    `json:"records_updated"`
	ConceptsAdded  int    `json:"concepts_added"`
	SetVersion     uint64 `json:"set_version"`
}

// Annotator runs concept recognition against the catalog's active index
type Annotator struct {
	catalog    *Catalog
	recognizer *ConceptRecognizer
	metrics    *metrics.Metrics
	logger     *logrus.Logger
}

// NewAnnotator creates a new annotator
func NewAnnotator(catalog *Catalog, recognizer *ConceptRecognizer, m *metrics.Metrics, logger *logrus.Logger) *Annotator {
	return &Annotator{
		catalog:    catalog,
		recognizer: recognizer,
		metrics:    m,
		logger:     logger,
	}
}

// Annotate recognizes concepts in text. Obsolete concepts never compete
// for a span unless the recognizer is configured to include them. Spans
// naming an obsolete concept that no accepted match covers are reported as
// unresolved together with the replacement term when the ontology names one.
func (a *Annotator) Annotate(ctx context.Context, text string) (*AnnotationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ix, err := a.catalog.Index()
	if err != nil {
		return nil, err
	}

	result := &AnnotationResult{
		IndexVersion: ix.Version(),
		Matches:      []domain.ConceptMatch{},
		Unresolved:   []UnresolvedSpan{},
	}
	for m := range a.recognizer.Scan(text, ix) {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Matches = append(result.Matches, m)
		a.metrics.IncrementRecognition(string(m.Class))
	}

	opts := a.recognizer.Options()
	if !opts.IncludeObsolete {
		opts.IncludeObsolete = true
		for m := range a.recognizer.WithOptions(opts).Scan(text, ix) {
			concept, ok := ix.Concept(m.ConceptID)
			if !ok || !concept.Obsolete || overlapsAny(m, result.Matches) {
				continue
			}
			result.Unresolved = append(result.Unresolved, UnresolvedSpan{
				Start:      m.Start,
				End:        m.End,
				Text:       m.Text,
				ConceptID:  m.ConceptID,
				Reason:     "obsolete concept",
				ReplacedBy: concept.ReplacedBy,
			})
		}
	}

	a.logger.WithFields(logrus.Fields{
		"index_version": result.IndexVersion,
		"matches":       len(result.Matches),
		"unresolved":    len(result.Unresolved),
	}).Debug("Annotated text")

	return result, nil
}

// AnnotateRecords recognizes concepts in the notes of every record in the
// active set and unions them into the record phenotype sets. The updated
// set is published as a whole; on cancellation nothing is published.
func (a *Annotator) AnnotateRecords(ctx context.Context) (*AnnotateRecordsResult, error) {
	ix, err := a.catalog.Index()
	if err != nil {
		return nil, err
	}

	result := &AnnotateRecordsResult{IndexVersion: ix.Version()}
	set, err := a.catalog.UpdateRecords(func(records []domain.VariantRecord) ([]domain.VariantRecord, error) {
		for i := range records {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("annotating record %d: %w", i, err)
			}
			if records[i].Notes == "" {
				continue
			}
			result.RecordsScanned++
			added := a.annotateRecord(&records[i], ix)
			if added > 0 {
				result.RecordsUpdated++
				result.ConceptsAdded += added
			}
		}
		return records, nil
	})
	if err != nil {
		return nil, err
	}
	result.SetVersion = set.Version

	a.logger.WithFields(logrus.Fields{
		"index_version":   result.IndexVersion,
		"records_scanned": result.RecordsScanned,
		"records_updated": result.RecordsUpdated,
		"concepts_added":  result.ConceptsAdded,
	}).Info("Annotated record notes")

	return result, nil
}

func (a *Annotator) annotateRecord(rec *domain.VariantRecord, ix *ontology.Index) int {
	before := len(rec.PhenotypeIDs)
	var found []string
	for m := range a.recognizer.Scan(rec.Notes, ix) {
		found = append(found, m.ConceptID)
		a.metrics.IncrementRecognition(string(m.Class))
	}
	if len(found) == 0 {
		return 0
	}
	rec.AddPhenotypes(found...)
	return len(rec.PhenotypeIDs) - before
}

func overlapsAny(m domain.ConceptMatch, accepted []domain.ConceptMatch) bool {
	for _, other := range accepted {
		if m.Overlaps(other) {
			return true
		}
	}
	return false
}
