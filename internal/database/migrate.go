package database

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// Migrate applies every pending schema migration, each in its own transaction.
func (db *DB) Migrate(ctx context.Context, log zerolog.Logger) error {
	return runMigrations(ctx, db, log, migrations())
}

func runMigrations(ctx context.Context, db *DB, log zerolog.Logger, steps map[int]string) error {
	log.Info().Msg("Starting database migrations")

	_, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	var current int
	err = db.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current)
	if err != nil {
		return fmt.Errorf("failed to query current schema version: %w", err)
	}
	log.Info().Int("version", current).Msg("Current schema version")

	versions := make([]int, 0, len(steps))
	for v := range steps {
		if v > current {
			versions = append(versions, v)
		}
	}
	sort.Ints(versions)

	for _, version := range versions {
		log.Info().Int("version", version).Msg("Applying migration")

		err := db.InTransaction(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, steps[version]); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", version, err)
			}
			if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
				return fmt.Errorf("failed to record migration %d: %w", version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	log.Info().Int("applied", len(versions)).Msg("Database migrations completed")
	return nil
}
