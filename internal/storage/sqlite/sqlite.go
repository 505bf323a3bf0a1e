// Package sqlite implements storage.Engine on top of a local sqlite3 file,
// sqlx for scanning,
// Masterminds/squirrel for building queries, mattn/go-sqlite3 as the driver.
// Timestamps are stored as decimal-string TEXT columns (see design notes:
// this resolves the only materially ambiguous point in the data model in
// favor of the convention internal/models already uses for (de)serializing
// them) and booleans as INTEGER 0/1.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/gofer-hq/gofer/internal/storage"
)

//go:embed migrations
var migrationFS embed.FS

// sqlite3 takes "?" placeholders, not "$1"; squirrel's default is already
// Question format, but we name it for clarity at call sites.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Question)

// DB implements storage.Engine against a *sqlx.DB or *sqlx.Tx, selected by
// the q field so the same methods serve both top-level calls and calls made
// inside Transaction's callback.
type DB struct {
	conn *sqlx.DB // nil when this DB represents a transaction
	q    queryable
}

type queryable interface {
	sqlx.Queryer
	sqlx.Execer
	sqlx.ExecerContext
	GetContext(context.Context, interface{}, string, ...interface{}) error
	SelectContext(context.Context, interface{}, string, ...interface{}) error
}

func New(path string) (*DB, error) {
	dsn := fmt.Sprintf("%s?_journal=wal&_fk=true&_timeout=5000", path)
	conn, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: connect: %w", err)
	}

	raw, err := migrationFS.ReadFile("migrations/0_init.sql")
	if err != nil {
		return nil, fmt.Errorf("sqlite: reading embedded migration: %w", err)
	}

	m := migrator{migrations: []migration{migrationQuery("0", string(raw))}}
	if err := m.run(conn); err != nil {
		return nil, fmt.Errorf("sqlite: migrating: %w", err)
	}

	return &DB{conn: conn, q: conn}, nil
}

func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	return db.conn.Close()
}

func (db *DB) Transaction(ctx context.Context, fn func(tx storage.Engine) error) error {
	if db.conn == nil {
		return fmt.Errorf("sqlite: nested transactions are not supported")
	}

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin transaction: %w", err)
	}

	if err := fn(&DB{q: tx}); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rerr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func (db *DB) NextID(ctx context.Context, namespaceID, pipelineID, kind string) (int64, error) {
	_, err := db.q.Exec(
		`INSERT INTO next_id_counters (namespace_id, pipeline_id, kind, value) VALUES (?, ?, ?, 1)
		 ON CONFLICT (namespace_id, pipeline_id, kind) DO UPDATE SET value = value + 1`,
		namespaceID, pipelineID, kind,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: reserving next id: %v", storage.ErrInternal, err)
	}

	var value int64
	err = db.q.GetContext(ctx, &value,
		`SELECT value FROM next_id_counters WHERE namespace_id=? AND pipeline_id=? AND kind=?`,
		namespaceID, pipelineID, kind)
	if err != nil {
		return 0, fmt.Errorf("%w: reading reserved id: %v", storage.ErrInternal, err)
	}
	return value, nil
}

// classify maps sql.ErrNoRows to the port's ErrNotFound; anything else is
// wrapped as ErrInternal. UNIQUE constraint failures are detected separately
// by isUniqueViolation at insert call sites.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if err == sql.ErrNoRows {
		return storage.ErrNotFound
	}
	return fmt.Errorf("%w: %v", storage.ErrInternal, err)
}

func timeString(ms int64) string { return strconv.FormatInt(ms, 10) }

func parseTime(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

func nullableTimeString(ms *int64) sql.NullString {
	if ms == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: timeString(*ms), Valid: true}
}

func fromNullableTime(ns sql.NullString) (*int64, error) {
	if !ns.Valid {
		return nil, nil
	}
	v, err := strconv.ParseInt(ns.String, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrParse, err)
	}
	return &v, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation detects a sqlite UNIQUE/PRIMARY KEY constraint failure.
// mattn/go-sqlite3 reports these as *sqlite3.Error with ExtendedCode
// ErrConstraintUnique or ErrConstraintPrimaryKey; this helper matches on the
// error string rather than on the driver's error type.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY constraint failed")
}

func requireRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
