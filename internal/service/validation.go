package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/phenovariant-server/internal/domain"
	"github.com/phenovariant-server/internal/metrics"
	"github.com/phenovariant-server/pkg/hgvs"
)

// ValidateOptions selects which records are sent to the validator
type ValidateOptions struct {
	// Location restricts validation to one storage location when set.
	Location string `json:"location,omitempty"`
	// Revalidate also re-checks records already VALID or REJECTED.
	Revalidate bool `json:"revalidate,omitempty"`
}

// ValidationFailure describes one record the validator did not accept
type ValidationFailure struct {
	RecordID   string                 `json:"record_id"`
	Descriptor string                 `json:"descriptor"`
	State      domain.ValidationState `json:"state"`
	Error      string                 `json:"error"`
}

// ValidationReport summarizes a validation pass
type ValidationReport struct {
	Checked      int                 `json:"checked"`
	Valid        int                 `json:"valid"`
	Rejected     int                 `json:"rejected"`
	Unavailable  int                 `json:"unavailable"`
	Skipped      int                 `json:"skipped"`
	GeneMismatch int                 `json:"gene_mismatch"`
	Failures     []ValidationFailure `json:"failures"`
	SetVersion   uint64              `json:"set_version"`
}

// ValidationService sends record descriptors to the external validator and
// publishes the outcomes on the catalog
type ValidationService struct {
	validator domain.VariantValidator
	catalog   *Catalog
	metrics   *metrics.Metrics
	logger    *logrus.Logger
	now       func() time.Time
}

// NewValidationService creates a new validation service
func NewValidationService(validator domain.VariantValidator, catalog *Catalog, m *metrics.Metrics, logger *logrus.Logger) *ValidationService {
	return &ValidationService{
		validator: validator,
		catalog:   catalog,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// ValidateDescriptor checks a single descriptor without touching records
func (s *ValidationService) ValidateDescriptor(ctx context.Context, descriptor string) (*domain.ValidationOutcome, error) {
	start := time.Now()
	outcome, err := s.validator.Validate(ctx, descriptor)
	s.metrics.ObserveValidation(string(stateFor(err)), time.Since(start))
	return outcome, err
}

// ResolveTranscripts lists the transcripts the validator knows for a gene
func (s *ValidationService) ResolveTranscripts(ctx context.Context, gene string) ([]string, error) {
	return s.validator.ResolveTranscripts(ctx, gene)
}

// ValidateRecords validates the selected records of the active set. A
// failing record is recorded and the pass continues. The statuses gathered
// so far are published even when ctx ends the pass early, in which case
// the context error is returned with the report.
func (s *ValidationService) ValidateRecords(ctx context.Context, opts ValidateOptions) (*ValidationReport, error) {
	snapshot := s.catalog.Records()
	report := &ValidationReport{Failures: []ValidationFailure{}}
	statuses := make(map[string]*domain.ValidationStatus)

	var runErr error
	for i := range snapshot.Records {
		rec := &snapshot.Records[i]
		if opts.Location != "" && rec.Provenance.Location.Name != opts.Location {
			continue
		}
		if rec.Validation != nil && !rec.Validation.State.Retryable() && !opts.Revalidate {
			report.Skipped++
			continue
		}
		if err := ctx.Err(); err != nil {
			runErr = fmt.Errorf("validation stopped after %d records: %w", report.Checked, err)
			break
		}

		status := s.validateRecord(ctx, rec, report)
		statuses[rec.ID] = status
	}

	if len(statuses) > 0 {
		set, err := s.catalog.UpdateRecords(func(records []domain.VariantRecord) ([]domain.VariantRecord, error) {
			for i := range records {
				if st, ok := statuses[records[i].ID]; ok {
					records[i].Validation = st
				}
			}
			return records, nil
		})
		if err != nil {
			return report, err
		}
		report.SetVersion = set.Version
	} else {
		report.SetVersion = snapshot.Version
	}

	s.logger.WithFields(logrus.Fields{
		"checked":       report.Checked,
		"valid":         report.Valid,
		"rejected":      report.Rejected,
		"unavailable":   report.Unavailable,
		"skipped":       report.Skipped,
		"gene_mismatch": report.GeneMismatch,
	}).Info("Validated records")

	return report, runErr
}

func (s *ValidationService) validateRecord(ctx context.Context, rec *domain.VariantRecord, report *ValidationReport) *domain.ValidationStatus {
	descriptor := QualifiedDescriptor(rec)
	report.Checked++

	start := time.Now()
	outcome, err := s.validator.Validate(ctx, descriptor)
	state := stateFor(err)
	s.metrics.ObserveValidation(string(state), time.Since(start))

	status := &domain.ValidationStatus{State: state, CheckedAt: s.now().UTC()}
	switch state {
	case domain.VALIDATION_VALID:
		report.Valid++
		if outcome != nil {
			status.Normalized = outcome.Normalized
			if outcome.GeneSymbol != "" && !strings.EqualFold(outcome.GeneSymbol, rec.GeneSymbol) {
				report.GeneMismatch++
				status.Messages = append(status.Messages, fmt.Sprintf(
					"gene mismatch: record has %s, validator reports %s", rec.GeneSymbol, outcome.GeneSymbol))
			}
		}
	case domain.VALIDATION_REJECTED:
		report.Rejected++
		var rejected *domain.ValidationRejectedError
		if errors.As(err, &rejected) {
			status.Messages = append(status.Messages, rejected.Messages...)
		}
	default:
		report.Unavailable++
		status.Messages = []string{err.Error()}
	}

	if err != nil {
		report.Failures = append(report.Failures, ValidationFailure{
			RecordID:   rec.ID,
			Descriptor: descriptor,
			State:      state,
			Error:      err.Error(),
		})
		s.logger.WithFields(logrus.Fields{
			"record_id":  rec.ID,
			"descriptor": descriptor,
			"state":      state,
		}).WithError(err).Debug("Descriptor not validated")
	}
	return status
}

// QualifiedDescriptor joins a record's transcript and local descriptor
// into the form the validator expects. Already qualified descriptors are
// returned as they are.
func QualifiedDescriptor(rec *domain.VariantRecord) string {
	if _, _, ok := hgvs.SplitTranscript(rec.Descriptor); ok || rec.Transcript == "" {
		return rec.Descriptor
	}
	return rec.Transcript + ":" + rec.Descriptor
}

// stateFor maps a validator error onto a validation state. Anything that
// is not a rejection is treated as unavailability, which callers may retry.
func stateFor(err error) domain.ValidationState {
	switch {
	case err == nil:
		return domain.VALIDATION_VALID
	case errors.Is(err, domain.ErrValidationRejected):
		return domain.VALIDATION_REJECTED
	default:
		return domain.VALIDATION_UNAVAILABLE
	}
}
