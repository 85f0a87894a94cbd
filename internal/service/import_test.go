package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/phenovariant-server/internal/domain"
	"github.com/phenovariant-server/internal/metrics"
)

// MockRecordStore is a mock implementation of domain.RecordStore
type MockRecordStore struct {
	mock.Mock
}

func (m *MockRecordStore) SaveRecords(ctx context.Context, records []domain.VariantRecord) error {
	return m.Called(ctx, records).Error(0)
}

func (m *MockRecordStore) ListRecords(ctx context.Context, location string) ([]domain.VariantRecord, error) {
	args := m.Called(ctx, location)
	records, _ := args.Get(0).([]domain.VariantRecord)
	return records, args.Error(1)
}

func (m *MockRecordStore) Close() error { return m.Called().Error(0) }

func importBatch() domain.RawBatch {
	return domain.RawBatch{
		SourceID: "lab-export.csv",
		Rows: []domain.RawRow{
			{"Gene": "BRCA1", "Variant (HGVSc)": "c.68_69delAG", "Phenotype": "HP:0001629"},
			{"Gene": "", "Variant (HGVSc)": "c.1A>G"},
			{"Gene": "TP53", "Variant (HGVSc)": "c.215C>G"},
		},
	}
}

func TestImportServiceImport(t *testing.T) {
	ctx := context.Background()
	catalog := NewCatalog(newTestLogger())
	store := new(MockRecordStore)
	store.On("SaveRecords", ctx, mock.MatchedBy(func(recs []domain.VariantRecord) bool {
		return len(recs) == 2
	})).Return(nil)
	m := metrics.New(prometheus.NewRegistry())

	svc := NewImportService(fixedHarmonizer(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)), catalog, store,
		[]domain.StorageLocation{internalDrive, researchDrive}, m, newTestLogger())

	res, err := svc.Import(ctx, importBatch(), labSchema(), internalDrive.Name)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, 2, res.Records)
	require.Len(t, res.Warnings, 1)
	assert.True(t, res.Warnings[0].Skipped)
	assert.Equal(t, 2, catalog.Records().Len())
	assert.Equal(t, internalDrive.Scope, catalog.Records().Records[0].Provenance.Location.Scope)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.HarmonizedRows.WithLabelValues("record")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HarmonizedRows.WithLabelValues("skipped")))
	store.AssertExpectations(t)

	t.Run("reimport merges instead of duplicating", func(t *testing.T) {
		_, err := svc.Import(ctx, importBatch(), labSchema(), internalDrive.Name)
		require.NoError(t, err)
		assert.Equal(t, 2, catalog.Records().Len())
	})
}

func TestImportServiceUnknownLocation(t *testing.T) {
	svc := NewImportService(NewHarmonizer(newTestLogger(), 1), NewCatalog(newTestLogger()), nil,
		[]domain.StorageLocation{internalDrive}, nil, newTestLogger())

	_, err := svc.Import(context.Background(), importBatch(), labSchema(), "usb-stick")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestImportServiceSchemaErrorPublishesNothing(t *testing.T) {
	catalog := NewCatalog(newTestLogger())
	svc := NewImportService(NewHarmonizer(newTestLogger(), 1), catalog, nil, nil, nil, newTestLogger())
	before := catalog.Records()

	schema := labSchema()
	delete(schema.Fields, domain.FieldDescriptor)
	_, err := svc.Import(context.Background(), importBatch(), schema, internalDrive.Name)
	assert.ErrorIs(t, err, domain.ErrSchemaValidation)
	assert.Same(t, before, catalog.Records())
}

func TestImportServiceStoreFailure(t *testing.T) {
	ctx := context.Background()
	store := new(MockRecordStore)
	store.On("SaveRecords", ctx, mock.Anything).Return(errors.New("disk full"))
	svc := NewImportService(NewHarmonizer(newTestLogger(), 1), NewCatalog(newTestLogger()), store, nil, nil, newTestLogger())

	res, err := svc.Import(ctx, importBatch(), labSchema(), internalDrive.Name)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 2, res.Records)
}

func TestImportServiceLoadLocations(t *testing.T) {
	ctx := context.Background()
	store := new(MockRecordStore)
	store.On("ListRecords", ctx, internalDrive.Name).Return([]domain.VariantRecord{
		catalogRecord("BRCA1", "c.68_69delAG", internalDrive),
	}, nil)
	store.On("ListRecords", ctx, researchDrive.Name).Return(nil, errors.New("locked"))
	catalog := NewCatalog(newTestLogger())
	svc := NewImportService(NewHarmonizer(newTestLogger(), 1), catalog, store, nil, nil, newTestLogger())

	set, err := svc.LoadLocations(ctx, []string{internalDrive.Name})
	require.NoError(t, err)
	assert.Equal(t, 1, set.Len())

	_, err = svc.LoadLocations(ctx, []string{researchDrive.Name})
	assert.Error(t, err)
}
