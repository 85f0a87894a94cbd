// Package store persists harmonized variant records and serialized ontology
// index artifacts in a local SQLite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/phenovariant-server/internal/domain"
)

// SQLiteStore implements domain.RecordStore and domain.IndexArtifactStore
// using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	now    func() time.Time
}

var (
	_ domain.RecordStore        = (*SQLiteStore)(nil)
	_ domain.IndexArtifactStore = (*SQLiteStore)(nil)
)

// NewSQLiteStore opens the database at dbPath, creating the file and the
// schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL lets readers proceed while an import is writing
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	s := newSQLiteStore(db)
	s.dbPath = dbPath
	return s, nil
}

func newSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		location TEXT NOT NULL,
		gene_symbol TEXT NOT NULL,
		descriptor TEXT NOT NULL,
		document TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_records_location ON records(location);
	CREATE INDEX IF NOT EXISTS idx_records_gene ON records(gene_symbol);

	CREATE TABLE IF NOT EXISTS index_artifacts (
		version TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := db.Exec(schema)
	return err
}

// SaveRecords upserts records by id in a single transaction.
func (s *SQLiteStore) SaveRecords(ctx context.Context, records []domain.VariantRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (id, location, gene_symbol, descriptor, document, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			location = excluded.location,
			gene_symbol = excluded.gene_symbol,
			descriptor = excluded.descriptor,
			document = excluded.document,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := s.now().UTC()
	for i := range records {
		r := records[i]
		if r.ID == "" {
			r.ID = r.Key().ID()
		}
		doc, err := json.Marshal(&r)
		if err != nil {
			return fmt.Errorf("failed to encode record %s: %w", r.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			r.ID,
			r.Provenance.Location.Name,
			r.GeneSymbol,
			r.Descriptor,
			string(doc),
			now,
		); err != nil {
			return fmt.Errorf("failed to save record %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit records: %w", err)
	}
	return nil
}

// ListRecords returns the records of one storage location, or of every
// location when location is empty, ordered by gene and descriptor.
func (s *SQLiteStore) ListRecords(ctx context.Context, location string) ([]domain.VariantRecord, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if location == "" {
		rows, err = s.db.QueryContext(ctx,
			"SELECT document FROM records ORDER BY location, gene_symbol, descriptor")
	} else {
		rows, err = s.db.QueryContext(ctx,
			"SELECT document FROM records WHERE location = ? ORDER BY gene_symbol, descriptor", location)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	records := []domain.VariantRecord{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		var rec domain.VariantRecord
		if err := json.Unmarshal([]byte(doc), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountRecords returns the number of stored records.
func (s *SQLiteStore) CountRecords(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&count)
	return count, err
}

// SaveIndexArtifact stores a serialized index under its snapshot version,
// replacing any artifact with the same version.
func (s *SQLiteStore) SaveIndexArtifact(ctx context.Context, version string, data []byte) error {
	if version == "" {
		return domain.NewValidationError("version", "index version is required", version)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO index_artifacts (version, data, created_at) VALUES (?, ?, ?)
		ON CONFLICT(version) DO UPDATE SET data = excluded.data, created_at = excluded.created_at
	`, version, data, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save index artifact %s: %w", version, err)
	}
	return nil
}

// LoadIndexArtifact returns the artifact stored for version.
func (s *SQLiteStore) LoadIndexArtifact(ctx context.Context, version string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM index_artifacts WHERE version = ?", version).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index artifact %s: %w", version, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load index artifact %s: %w", version, err)
	}
	return data, nil
}

// LatestIndexVersion returns the version of the most recently saved
// artifact.
func (s *SQLiteStore) LatestIndexVersion(ctx context.Context) (string, error) {
	var version string
	err := s.db.QueryRowContext(ctx,
		"SELECT version FROM index_artifacts ORDER BY created_at DESC, rowid DESC LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("index artifact: %w", domain.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to query latest index version: %w", err)
	}
	return version, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
