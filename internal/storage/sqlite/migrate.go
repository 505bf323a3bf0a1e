package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

// migrator applies a fixed sequence of idempotent migrations, tracked by id
// in a migrations table.
type migrator struct {
	migrations []migration
}

type migration struct {
	id      string
	migrate func(tx *sqlx.Tx) error
}

func migrationQuery(id, query string) migration {
	return migration{
		id: id,
		migrate: func(tx *sqlx.Tx) error {
			_, err := tx.Exec(query)
			return err
		},
	}
}

func (m *migrator) run(db *sqlx.DB) error {
	if err := m.createMigrationTable(db); err != nil {
		return err
	}

	for _, step := range m.migrations {
		var found string
		err := db.Get(&found, "SELECT id FROM migrations WHERE id=$1", step.id)
		switch err {
		case sql.ErrNoRows:
			log.Debug().Msgf("running migration %s", step.id)
		case nil:
			continue
		default:
			return fmt.Errorf("looking up migration %s: %w", step.id, err)
		}

		if err := m.runOne(db, step); err != nil {
			return err
		}
	}
	return nil
}

func (m *migrator) createMigrationTable(db *sqlx.DB) error {
	_, err := db.Exec("CREATE TABLE IF NOT EXISTS migrations (id TEXT PRIMARY KEY)")
	if err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}
	return nil
}

func (m *migrator) runOne(db *sqlx.DB, step migration) error {
	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("running migration %s: %w", step.id, err)
	}

	if _, err := tx.Exec("INSERT INTO migrations (id) VALUES ($1)", step.id); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("running migration %s: %w", step.id, err)
	}

	if err := step.migrate(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("running migration %s: %w", step.id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration %s: %w", step.id, err)
	}
	return nil
}
