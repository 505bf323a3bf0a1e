package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gofer-hq/gofer/internal/models"
	"github.com/gofer-hq/gofer/internal/storage"
)

func (db *DB) InsertGlobalSecret(ctx context.Context, s *models.GlobalSecret) error {
	filtersJSON, err := json.Marshal(s.NamespaceFilters)
	if err != nil {
		return fmt.Errorf("%w: marshaling namespace filters: %v", storage.ErrInternal, err)
	}

	_, err = db.q.ExecContext(ctx,
		`INSERT INTO global_secrets (key, namespace_filter_regexes, created) VALUES (?, ?, ?)`,
		s.Key, string(filtersJSON), timeString(s.Created))
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrExists
		}
		return fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}
	return nil
}

func (db *DB) GetGlobalSecret(ctx context.Context, key string) (*models.GlobalSecret, error) {
	var row struct {
		Key     string `db:"key"`
		Filters string `db:"namespace_filter_regexes"`
		Created string `db:"created"`
	}
	err := db.q.GetContext(ctx, &row, `SELECT key, namespace_filter_regexes, created FROM global_secrets WHERE key=?`, key)
	if err != nil {
		return nil, classify(err)
	}

	created, err := parseTime(row.Created)
	if err != nil {
		return nil, fmt.Errorf("%w: global_secret.created: %v", storage.ErrParse, err)
	}
	var filters []string
	if err := json.Unmarshal([]byte(row.Filters), &filters); err != nil {
		return nil, fmt.Errorf("%w: global_secret.namespace_filter_regexes: %v", storage.ErrParse, err)
	}

	return &models.GlobalSecret{Key: row.Key, NamespaceFilters: filters, Created: created}, nil
}

func (db *DB) ListGlobalSecrets(ctx context.Context, opts storage.ListOptions) ([]models.GlobalSecret, error) {
	var rows []struct {
		Key     string `db:"key"`
		Filters string `db:"namespace_filter_regexes"`
		Created string `db:"created"`
	}
	err := db.q.SelectContext(ctx, &rows,
		`SELECT key, namespace_filter_regexes, created FROM global_secrets ORDER BY key LIMIT ? OFFSET ?`,
		storage.ClampLimit(opts.Limit), opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}

	out := make([]models.GlobalSecret, 0, len(rows))
	for _, r := range rows {
		created, err := parseTime(r.Created)
		if err != nil {
			return nil, fmt.Errorf("%w: global_secret.created: %v", storage.ErrParse, err)
		}
		var filters []string
		if err := json.Unmarshal([]byte(r.Filters), &filters); err != nil {
			return nil, fmt.Errorf("%w: global_secret.namespace_filter_regexes: %v", storage.ErrParse, err)
		}
		out = append(out, models.GlobalSecret{Key: r.Key, NamespaceFilters: filters, Created: created})
	}
	return out, nil
}

func (db *DB) DeleteGlobalSecret(ctx context.Context, key string) error {
	res, err := db.q.ExecContext(ctx, `DELETE FROM global_secrets WHERE key=?`, key)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}
	return requireRowsAffected(res)
}

func (db *DB) InsertPipelineSecret(ctx context.Context, s *models.PipelineSecret) error {
	_, err := db.q.ExecContext(ctx,
		`INSERT INTO pipeline_secrets (namespace_id, pipeline_id, key, created) VALUES (?, ?, ?, ?)`,
		s.NamespaceID, s.PipelineID, s.Key, timeString(s.Created))
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrExists
		}
		return fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}
	return nil
}

func (db *DB) GetPipelineSecret(ctx context.Context, namespaceID, pipelineID, key string) (*models.PipelineSecret, error) {
	var row struct {
		NamespaceID string `db:"namespace_id"`
		PipelineID  string `db:"pipeline_id"`
		Key         string `db:"key"`
		Created     string `db:"created"`
	}
	err := db.q.GetContext(ctx, &row,
		`SELECT namespace_id, pipeline_id, key, created FROM pipeline_secrets WHERE namespace_id=? AND pipeline_id=? AND key=?`,
		namespaceID, pipelineID, key)
	if err != nil {
		return nil, classify(err)
	}
	created, err := parseTime(row.Created)
	if err != nil {
		return nil, fmt.Errorf("%w: pipeline_secret.created: %v", storage.ErrParse, err)
	}
	return &models.PipelineSecret{NamespaceID: row.NamespaceID, PipelineID: row.PipelineID, Key: row.Key, Created: created}, nil
}

func (db *DB) ListPipelineSecrets(ctx context.Context, namespaceID, pipelineID string, opts storage.ListOptions) ([]models.PipelineSecret, error) {
	var rows []struct {
		NamespaceID string `db:"namespace_id"`
		PipelineID  string `db:"pipeline_id"`
		Key         string `db:"key"`
		Created     string `db:"created"`
	}
	err := db.q.SelectContext(ctx, &rows,
		`SELECT namespace_id, pipeline_id, key, created FROM pipeline_secrets WHERE namespace_id=? AND pipeline_id=? ORDER BY key LIMIT ? OFFSET ?`,
		namespaceID, pipelineID, storage.ClampLimit(opts.Limit), opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}

	out := make([]models.PipelineSecret, 0, len(rows))
	for _, r := range rows {
		created, err := parseTime(r.Created)
		if err != nil {
			return nil, fmt.Errorf("%w: pipeline_secret.created: %v", storage.ErrParse, err)
		}
		out = append(out, models.PipelineSecret{NamespaceID: r.NamespaceID, PipelineID: r.PipelineID, Key: r.Key, Created: created})
	}
	return out, nil
}

func (db *DB) DeletePipelineSecret(ctx context.Context, namespaceID, pipelineID, key string) error {
	res, err := db.q.ExecContext(ctx,
		`DELETE FROM pipeline_secrets WHERE namespace_id=? AND pipeline_id=? AND key=?`, namespaceID, pipelineID, key)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}
	return requireRowsAffected(res)
}
