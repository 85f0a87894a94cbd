package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/sirupsen/logrus"
)

// SchemaVersion is the migration version the record repository expects:
// 1 creates records, 2 creates index_artifacts.
const SchemaVersion uint = 2

// ErrDirtySchema is returned when a previous migration failed half way.
// The schema has to be repaired by hand before migrating again.
var ErrDirtySchema = errors.New("database schema is dirty")

// MigrationStatus reports where the schema stands relative to SchemaVersion
type MigrationStatus struct {
	Version uint `json:"version"`
	Dirty   bool `json:"dirty"`
	Current bool `json:"current"`
}

// MigrationRunner applies the SQL migrations that create the records and
// index_artifacts tables
type MigrationRunner struct {
	migrate *migrate.Migrate
	log     *logrus.Logger
}

// NewMigrationRunner creates a runner over the migrations directory
func NewMigrationRunner(databaseURL, migrationsPath string, logger *logrus.Logger) (*MigrationRunner, error) {
	m, err := migrate.New("file://"+migrationsPath, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("creating migration instance: %w", err)
	}
	return &MigrationRunner{migrate: m, log: logger}, nil
}

// Status reads the applied version. A fresh database is version 0.
func (mr *MigrationRunner) Status() (*MigrationStatus, error) {
	version, dirty, err := mr.migrate.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return nil, fmt.Errorf("reading migration version: %w", err)
	}
	return &MigrationStatus{
		Version: version,
		Dirty:   dirty,
		Current: version == SchemaVersion && !dirty,
	}, nil
}

// Up migrates to SchemaVersion. Cancelling ctx stops after the migration
// in flight.
func (mr *MigrationRunner) Up(ctx context.Context) error {
	return mr.run(ctx, "up", func() error { return mr.migrate.Migrate(SchemaVersion) })
}

// Rollback undoes the given number of migrations
func (mr *MigrationRunner) Rollback(ctx context.Context, steps int) error {
	if steps <= 0 {
		return fmt.Errorf("rollback steps must be positive: %d", steps)
	}
	return mr.run(ctx, "rollback", func() error { return mr.migrate.Steps(-steps) })
}

func (mr *MigrationRunner) run(ctx context.Context, direction string, apply func() error) error {
	before, err := mr.Status()
	if err != nil {
		return err
	}
	if before.Dirty {
		return fmt.Errorf("%w at version %d", ErrDirtySchema, before.Version)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			mr.migrate.GracefulStop <- true
		case <-done:
		}
	}()

	if err := apply(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			mr.log.WithField("version", before.Version).Debug("Database schema already up to date")
			return nil
		}
		return fmt.Errorf("running migrations %s: %w", direction, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	after, err := mr.Status()
	if err != nil {
		return err
	}
	mr.log.WithFields(logrus.Fields{
		"direction": direction,
		"from":      before.Version,
		"to":        after.Version,
	}).Info("Database migrations applied")
	return nil
}

// Close closes the migration source and database handles
func (mr *MigrationRunner) Close() error {
	sourceErr, dbErr := mr.migrate.Close()
	if sourceErr != nil {
		return fmt.Errorf("closing migration source: %w", sourceErr)
	}
	if dbErr != nil {
		return fmt.Errorf("closing migration database: %w", dbErr)
	}
	return nil
}
