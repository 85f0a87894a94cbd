package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/phenovariant-server/internal/database"
	"github.com/phenovariant-server/internal/domain"
)

// generateTestPassword creates a random password for test databases
func generateTestPassword() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "test_fallback_password_123"
	}
	return "test_" + hex.EncodeToString(bytes)
}

func setupTestRepository(t *testing.T) *RecordRepository {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostgreSQL container test in short mode")
	}
	ctx := context.Background()
	testPassword := generateTestPassword()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword(testPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate PostgreSQL container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	config := database.Config{
		Host:        host,
		Port:        port.Int(),
		Database:    "testdb",
		Username:    "testuser",
		Password:    testPassword,
		MaxConns:    10,
		MinConns:    2,
		MaxConnLife: time.Hour,
		MaxConnIdle: time.Minute * 30,
		SSLMode:     "disable",
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	db, err := database.NewConnection(ctx, config, logger)
	require.NoError(t, err)

	runner, err := database.NewMigrationRunner(config.URL(), "../../migrations", logger)
	require.NoError(t, err)
	require.NoError(t, runner.Up(ctx))
	require.NoError(t, runner.Close())

	repo := NewRecordRepository(db, logger)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func repoRecord(location, gene, descriptor string, phenotypes ...string) domain.VariantRecord {
	rec := domain.VariantRecord{
		GeneSymbol:   gene,
		Descriptor:   descriptor,
		VariantType:  domain.SNV,
		Solved:       domain.SOLVED,
		PhenotypeIDs: phenotypes,
		Provenance: domain.Provenance{
			SourceID: "lab-export.xlsx",
			Location: domain.StorageLocation{Name: location, Scope: "clinical"},
		},
		HarmonizedAt: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
	}
	rec.ID = rec.Key().ID()
	return rec
}

func TestRecordRepository_SaveAndList(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	records := []domain.VariantRecord{
		repoRecord("internal", "TP53", "c.215C>G", "HP:0001250"),
		repoRecord("internal", "BRCA1", "c.68_69delAG", "HP:0001629"),
		repoRecord("research", "BRCA2", "c.5946delT"),
	}
	require.NoError(t, repo.SaveRecords(ctx, records))

	internal, err := repo.ListRecords(ctx, "internal")
	require.NoError(t, err)
	require.Len(t, internal, 2)
	assert.Equal(t, records[1], internal[0])

	page, err := repo.ListByLocation(ctx, "internal", 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "TP53", page[0].GeneSymbol)

	all, err := repo.ListRecords(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byPhenotype, err := repo.ListByPhenotype(ctx, []string{"HP:0001250", "HP:9999999"})
	require.NoError(t, err)
	require.Len(t, byPhenotype, 1)
	assert.Equal(t, "TP53", byPhenotype[0].GeneSymbol)
}

func TestRecordRepository_Upsert(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	rec := repoRecord("internal", "BRCA1", "c.68_69delAG")
	require.NoError(t, repo.SaveRecords(ctx, []domain.VariantRecord{rec}))

	rec.Validation = &domain.ValidationStatus{
		State:      domain.VALIDATION_VALID,
		Normalized: "NM_007294.4:c.68_69del",
		CheckedAt:  time.Date(2024, 6, 2, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repo.SaveRecords(ctx, []domain.VariantRecord{rec}))

	got, err := repo.ListRecords(ctx, "internal")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].Validation)
	assert.Equal(t, "NM_007294.4:c.68_69del", got[0].Validation.Normalized)
}

func TestRecordRepository_Delete(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	rec := repoRecord("internal", "BRCA1", "c.68_69delAG")
	require.NoError(t, repo.SaveRecords(ctx, []domain.VariantRecord{rec}))
	require.NoError(t, repo.Delete(ctx, rec.ID))

	err := repo.Delete(ctx, rec.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRecordRepository_IndexArtifacts(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	_, err := repo.LatestIndexVersion(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, repo.SaveIndexArtifact(ctx, "2024-04-26", []byte{0x1f, 0x8b, 0x00}))

	version, err := repo.LatestIndexVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2024-04-26", version)

	data, err := repo.LoadIndexArtifact(ctx, version)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x1f, 0x8b, 0x00}, data)

	_, err = repo.LoadIndexArtifact(ctx, "1999-01-01")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
