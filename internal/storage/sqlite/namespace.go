package sqlite

import (
	"context"
	"fmt"

	"github.com/gofer-hq/gofer/internal/models"
	"github.com/gofer-hq/gofer/internal/storage"
)

type namespaceRow struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	Description string `db:"description"`
	Created     string `db:"created"`
	Modified    string `db:"modified"`
}

func (r namespaceRow) toModel() (*models.Namespace, error) {
	created, err := parseTime(r.Created)
	if err != nil {
		return nil, fmt.Errorf("%w: namespace.created: %v", storage.ErrParse, err)
	}
	modified, err := parseTime(r.Modified)
	if err != nil {
		return nil, fmt.Errorf("%w: namespace.modified: %v", storage.ErrParse, err)
	}
	return &models.Namespace{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Created:     created,
		Modified:    modified,
	}, nil
}

func (db *DB) InsertNamespace(ctx context.Context, ns *models.Namespace) error {
	query, args, err := psql.Insert("namespaces").
		Columns("id", "name", "description", "created", "modified").
		Values(ns.ID, ns.Name, ns.Description, timeString(ns.Created), timeString(ns.Modified)).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}

	if _, err := db.q.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return storage.ErrExists
		}
		return fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}
	return nil
}

func (db *DB) GetNamespace(ctx context.Context, id string) (*models.Namespace, error) {
	var row namespaceRow
	err := db.q.GetContext(ctx, &row, `SELECT id, name, description, created, modified FROM namespaces WHERE id=?`, id)
	if err != nil {
		return nil, classify(err)
	}
	return row.toModel()
}

func (db *DB) ListNamespaces(ctx context.Context, opts storage.ListOptions) ([]models.Namespace, error) {
	var rows []namespaceRow
	limit := storage.ClampLimit(opts.Limit)
	err := db.q.SelectContext(ctx, &rows,
		`SELECT id, name, description, created, modified FROM namespaces ORDER BY id LIMIT ? OFFSET ?`,
		limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}

	out := make([]models.Namespace, 0, len(rows))
	for _, r := range rows {
		m, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, nil
}

func (db *DB) UpdateNamespace(ctx context.Context, ns *models.Namespace) error {
	res, err := db.q.ExecContext(ctx,
		`UPDATE namespaces SET name=?, description=?, modified=? WHERE id=?`,
		ns.Name, ns.Description, timeString(ns.Modified), ns.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}
	return requireRowsAffected(res)
}

func (db *DB) DeleteNamespace(ctx context.Context, id string) error {
	res, err := db.q.ExecContext(ctx, `DELETE FROM namespaces WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}
	return requireRowsAffected(res)
}
