package sqlite

import (
	"context"
	"fmt"

	"github.com/gofer-hq/gofer/internal/models"
	"github.com/gofer-hq/gofer/internal/storage"
)

func (db *DB) InsertObjectKey(ctx context.Context, o *models.ObjectKey) error {
	_, err := db.q.ExecContext(ctx,
		`INSERT INTO object_keys (namespace_id, pipeline_id, run_id, scope, key, created) VALUES (?, ?, ?, ?, ?, ?)`,
		o.NamespaceID, o.PipelineID, o.RunID, string(o.Scope), o.Key, timeString(o.Created))
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrExists
		}
		return fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}
	return nil
}

func (db *DB) ListObjectKeys(ctx context.Context, namespaceID, pipelineID string, scope models.ObjectScope, runID *int64) ([]models.ObjectKey, error) {
	var rows []struct {
		NamespaceID string `db:"namespace_id"`
		PipelineID  string `db:"pipeline_id"`
		RunID       *int64 `db:"run_id"`
		Scope       string `db:"scope"`
		Key         string `db:"key"`
		Created     string `db:"created"`
	}

	var err error
	if scope == models.ObjectScopeRun {
		err = db.q.SelectContext(ctx, &rows,
			`SELECT namespace_id, pipeline_id, run_id, scope, key, created FROM object_keys
			 WHERE namespace_id=? AND pipeline_id=? AND scope=? AND run_id=? ORDER BY created`,
			namespaceID, pipelineID, string(scope), runID)
	} else {
		err = db.q.SelectContext(ctx, &rows,
			`SELECT namespace_id, pipeline_id, run_id, scope, key, created FROM object_keys
			 WHERE namespace_id=? AND pipeline_id=? AND scope=? ORDER BY created`,
			namespaceID, pipelineID, string(scope))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}

	out := make([]models.ObjectKey, 0, len(rows))
	for _, r := range rows {
		created, perr := parseTime(r.Created)
		if perr != nil {
			return nil, fmt.Errorf("%w: object_key.created: %v", storage.ErrParse, perr)
		}
		out = append(out, models.ObjectKey{
			NamespaceID: r.NamespaceID,
			PipelineID:  r.PipelineID,
			RunID:       r.RunID,
			Scope:       models.ObjectScope(r.Scope),
			Key:         r.Key,
			Created:     created,
		})
	}
	return out, nil
}

func (db *DB) DeleteObjectKey(ctx context.Context, namespaceID, pipelineID, key string) error {
	res, err := db.q.ExecContext(ctx,
		`DELETE FROM object_keys WHERE namespace_id=? AND pipeline_id=? AND key=?`, namespaceID, pipelineID, key)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}
	return requireRowsAffected(res)
}
