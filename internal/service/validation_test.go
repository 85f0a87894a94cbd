package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/phenovariant-server/internal/domain"
)

// MockVariantValidator is a mock implementation of domain.VariantValidator
type MockVariantValidator struct {
	mock.Mock
}

func (m *MockVariantValidator) Validate(ctx context.Context, descriptor string) (*domain.ValidationOutcome, error) {
	args := m.Called(ctx, descriptor)
	outcome, _ := args.Get(0).(*domain.ValidationOutcome)
	return outcome, args.Error(1)
}

func (m *MockVariantValidator) ResolveTranscripts(ctx context.Context, gene string) ([]string, error) {
	args := m.Called(ctx, gene)
	transcripts, _ := args.Get(0).([]string)
	return transcripts, args.Error(1)
}

func validationCatalog(t *testing.T) *Catalog {
	t.Helper()
	c := NewCatalog(newTestLogger())
	brca1 := catalogRecord("BRCA1", "c.68_69delAG", internalDrive)
	brca1.Transcript = "NM_007294.4"
	brca2 := catalogRecord("BRCA2", "NM_000059.4:c.5946delT", internalDrive)
	tp53 := catalogRecord("TP53", "c.215C>G", researchDrive)
	tp53.Transcript = "NM_000546.6"
	c.MergeRecords([]domain.VariantRecord{brca1, brca2, tp53})
	return c
}

func TestValidateRecordsContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	c := validationCatalog(t)
	v := new(MockVariantValidator)
	v.On("Validate", ctx, "NM_007294.4:c.68_69delAG").Return(&domain.ValidationOutcome{
		Valid: true, Normalized: "NM_007294.4:c.68_69del", GeneSymbol: "BRCA1",
	}, nil)
	v.On("Validate", ctx, "NM_000059.4:c.5946delT").Return(nil, &domain.ValidationUnavailableError{
		Descriptor: "NM_000059.4:c.5946delT", Cause: errors.New("connection refused"),
	})
	v.On("Validate", ctx, "NM_000546.6:c.215C>G").Return(nil, &domain.ValidationRejectedError{
		Descriptor: "NM_000546.6:c.215C>G", Messages: []string{"reference mismatch"},
	})

	svc := NewValidationService(v, c, nil, newTestLogger())
	report, err := svc.ValidateRecords(ctx, ValidateOptions{})
	require.NoError(t, err)

	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, 1, report.Valid)
	assert.Equal(t, 1, report.Unavailable)
	assert.Equal(t, 1, report.Rejected)
	assert.Len(t, report.Failures, 2)
	v.AssertNumberOfCalls(t, "Validate", 3)

	records := c.Records().Records
	require.NotNil(t, records[0].Validation)
	assert.Equal(t, domain.VALIDATION_VALID, records[0].Validation.State)
	assert.Equal(t, "NM_007294.4:c.68_69del", records[0].Validation.Normalized)
	assert.Equal(t, domain.VALIDATION_UNAVAILABLE, records[1].Validation.State)
	assert.Equal(t, domain.VALIDATION_REJECTED, records[2].Validation.State)
	assert.Equal(t, []string{"reference mismatch"}, records[2].Validation.Messages)
	assert.Equal(t, c.Records().Version, report.SetVersion)

	t.Run("second pass only retries unavailable records", func(t *testing.T) {
		report, err := svc.ValidateRecords(ctx, ValidateOptions{})
		require.NoError(t, err)
		assert.Equal(t, 1, report.Checked)
		assert.Equal(t, 2, report.Skipped)
		v.AssertNumberOfCalls(t, "Validate", 4)
	})
}

func TestValidateRecordsByLocationAndGeneMismatch(t *testing.T) {
	ctx := context.Background()
	c := validationCatalog(t)
	v := new(MockVariantValidator)
	v.On("Validate", ctx, "NM_000546.6:c.215C>G").Return(&domain.ValidationOutcome{
		Valid: true, Normalized: "NM_000546.6:c.215C>G", GeneSymbol: "TP63",
	}, nil)

	svc := NewValidationService(v, c, nil, newTestLogger())
	report, err := svc.ValidateRecords(ctx, ValidateOptions{Location: researchDrive.Name})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 1, report.GeneMismatch)
	records := c.Records().Records
	assert.Nil(t, records[0].Validation)
	require.NotNil(t, records[2].Validation)
	assert.Equal(t, domain.VALIDATION_VALID, records[2].Validation.State)
	assert.Contains(t, records[2].Validation.Messages[0], "gene mismatch")
}

func TestValidateRecordsCancelled(t *testing.T) {
	c := validationCatalog(t)
	v := new(MockVariantValidator)
	svc := NewValidationService(v, c, nil, newTestLogger())
	before := c.Records()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := svc.ValidateRecords(ctx, ValidateOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, report.Checked)
	assert.Same(t, before, c.Records())
	v.AssertNotCalled(t, "Validate", mock.Anything, mock.Anything)
}

func TestQualifiedDescriptor(t *testing.T) {
	assert.Equal(t, "NM_007294.4:c.68_69del", QualifiedDescriptor(&domain.VariantRecord{Transcript: "NM_007294.4", Descriptor: "c.68_69del"}))
	assert.Equal(t, "NM_000059.4:c.5946delT", QualifiedDescriptor(&domain.VariantRecord{Transcript: "NM_999.1", Descriptor: "NM_000059.4:c.5946delT"}))
	assert.Equal(t, "c.1A>G", QualifiedDescriptor(&domain.VariantRecord{Descriptor: "c.1A>G"}))
}

func TestValidationServiceResolveTranscripts(t *testing.T) {
	ctx := context.Background()
	v := new(MockVariantValidator)
	v.On("ResolveTranscripts", ctx, "BRCA1").Return([]string{"NM_007294.4"}, nil)

	svc := NewValidationService(v, NewCatalog(newTestLogger()), nil, newTestLogger())
	got, err := svc.ResolveTranscripts(ctx, "BRCA1")
	require.NoError(t, err)
	assert.Equal(t, []string{"NM_007294.4"}, got)
	v.AssertExpectations(t)
}
