package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/phenovariant-server/internal/database"
	"github.com/phenovariant-server/internal/domain"
)

// RecordRepository handles variant record persistence in PostgreSQL. The
// whole record is kept as a JSONB document; the remaining columns exist for
// SQL-side filtering.
type RecordRepository struct {
	db  *database.DB
	log *logrus.Logger
}

var (
	_ domain.RecordStore        = (*RecordRepository)(nil)
	_ domain.IndexArtifactStore = (*RecordRepository)(nil)
)

// NewRecordRepository creates a new record repository. The repository takes
// ownership of db and closes it in Close.
func NewRecordRepository(db *database.DB, logger *logrus.Logger) *RecordRepository {
	return &RecordRepository{
		db:  db,
		log: logger,
	}
}

const upsertRecord = `
	INSERT INTO records (
		id, location, scope, gene_symbol, descriptor, transcript,
		variant_type, solved, phenotype_ids, validation_state, document, harmonized_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
	)
	ON CONFLICT (id) DO UPDATE SET
		location = EXCLUDED.location,
		scope = EXCLUDED.scope,
		gene_symbol = EXCLUDED.gene_symbol,
		descriptor = EXCLUDED.descriptor,
		transcript = EXCLUDED.transcript,
		variant_type = EXCLUDED.variant_type,
		solved = EXCLUDED.solved,
		phenotype_ids = EXCLUDED.phenotype_ids,
		validation_state = EXCLUDED.validation_state,
		document = EXCLUDED.document,
		harmonized_at = EXCLUDED.harmonized_at,
		updated_at = NOW()`

// SaveRecords upserts records by id in one transaction
func (r *RecordRepository) SaveRecords(ctx context.Context, records []domain.VariantRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i := range records {
		rec := records[i]
		if rec.ID == "" {
			rec.ID = rec.Key().ID()
		}
		doc, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("encoding record %s: %w", rec.ID, err)
		}
		var state *string
		if rec.Validation != nil {
			s := string(rec.Validation.State)
			state = &s
		}
		phenotypes := rec.PhenotypeIDs
		if phenotypes == nil {
			phenotypes = []string{}
		}
		batch.Queue(upsertRecord,
			rec.ID,
			rec.Provenance.Location.Name,
			rec.Provenance.Location.Scope,
			rec.GeneSymbol,
			rec.Descriptor,
			rec.Transcript,
			string(rec.VariantType),
			string(rec.Solved),
			phenotypes,
			state,
			doc,
			rec.HarmonizedAt,
		)
	}

	err := r.db.InTx(ctx, func(tx pgx.Tx) error {
		results := tx.SendBatch(ctx, batch)
		defer results.Close()
		for i := range records {
			if _, err := results.Exec(); err != nil {
				r.log.WithFields(logrus.Fields{
					"record_index": i,
					"error":        err,
				}).Error("Failed to save record")
				return fmt.Errorf("saving record %d: %w", i, err)
			}
		}
		return results.Close()
	})
	if err != nil {
		return err
	}

	r.log.WithFields(logrus.Fields{
		"records": len(records),
	}).Debug("Records saved")

	return nil
}

// ListRecords returns the records of one location, or every record when
// location is empty
func (r *RecordRepository) ListRecords(ctx context.Context, location string) ([]domain.VariantRecord, error) {
	if location == "" {
		return r.query(ctx, `SELECT document FROM records ORDER BY location, gene_symbol, descriptor`)
	}
	return r.ListByLocation(ctx, location, 0, 0)
}

// ListByLocation retrieves the records of one location with pagination. A
// limit of zero returns every record.
func (r *RecordRepository) ListByLocation(ctx context.Context, location string, limit, offset int) ([]domain.VariantRecord, error) {
	if limit <= 0 {
		return r.query(ctx, `
			SELECT document FROM records
			WHERE location = $1
			ORDER BY gene_symbol, descriptor
			OFFSET $2`, location, offset)
	}
	return r.query(ctx, `
		SELECT document FROM records
		WHERE location = $1
		ORDER BY gene_symbol, descriptor
		LIMIT $2 OFFSET $3`, location, limit, offset)
}

// ListByPhenotype retrieves records annotated with any of the given concept
// ids. Ids are matched as stored; descendant expansion is the caller's job.
func (r *RecordRepository) ListByPhenotype(ctx context.Context, conceptIDs []string) ([]domain.VariantRecord, error) {
	return r.query(ctx, `
		SELECT document FROM records
		WHERE phenotype_ids && $1
		ORDER BY location, gene_symbol, descriptor`, conceptIDs)
}

// Delete removes a record by id
func (r *RecordRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM records WHERE id = $1`, id)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"record_id": id,
			"error":     err,
		}).Error("Failed to delete record")
		return fmt.Errorf("deleting record: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("record not found: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *RecordRepository) query(ctx context.Context, sql string, args ...any) ([]domain.VariantRecord, error) {
	rows, err := r.db.Pool.Query(ctx, sql, args...)
	if err != nil {
		r.log.WithError(err).Error("Failed to query records")
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	records := []domain.VariantRecord{}
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scanning record row: %w", err)
		}
		var rec domain.VariantRecord
		if err := json.Unmarshal(doc, &rec); err != nil {
			return nil, fmt.Errorf("decoding record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating record rows: %w", err)
	}
	return records, nil
}

// SaveIndexArtifact stores a serialized index under its snapshot version
func (r *RecordRepository) SaveIndexArtifact(ctx context.Context, version string, data []byte) error {
	if version == "" {
		return domain.NewValidationError("version", "index version is required", version)
	}
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO index_artifacts (version, data) VALUES ($1, $2)
		ON CONFLICT (version) DO UPDATE SET data = EXCLUDED.data, created_at = NOW()`,
		version, data)
	if err != nil {
		return fmt.Errorf("saving index artifact %s: %w", version, err)
	}
	return nil
}

// LoadIndexArtifact returns the artifact stored for version
func (r *RecordRepository) LoadIndexArtifact(ctx context.Context, version string) ([]byte, error) {
	var data []byte
	err := r.db.Pool.QueryRow(ctx, `SELECT data FROM index_artifacts WHERE version = $1`, version).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("index artifact %s: %w", version, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading index artifact %s: %w", version, err)
	}
	return data, nil
}

// LatestIndexVersion returns the most recently saved artifact version
func (r *RecordRepository) LatestIndexVersion(ctx context.Context) (string, error) {
	var version string
	err := r.db.Pool.QueryRow(ctx,
		`SELECT version FROM index_artifacts ORDER BY created_at DESC LIMIT 1`).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("index artifact: %w", domain.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("querying latest index version: %w", err)
	}
	return version, nil
}

// Close releases the connection pool
func (r *RecordRepository) Close() error {
	r.db.Close()
	return nil
}
