package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gofer-hq/gofer/internal/models"
	"github.com/gofer-hq/gofer/internal/storage"
)

type pipelineMetadataRow struct {
	NamespaceID string `db:"namespace_id"`
	PipelineID  string `db:"pipeline_id"`
	State       string `db:"state"`
	Created     string `db:"created"`
	Modified    string `db:"modified"`
}

func (r pipelineMetadataRow) toModel() (*models.PipelineMetadata, error) {
	created, err := parseTime(r.Created)
	if err != nil {
		return nil, fmt.Errorf("%w: pipeline_metadata.created: %v", storage.ErrParse, err)
	}
	modified, err := parseTime(r.Modified)
	if err != nil {
		return nil, fmt.Errorf("%w: pipeline_metadata.modified: %v", storage.ErrParse, err)
	}
	return &models.PipelineMetadata{
		NamespaceID: r.NamespaceID,
		PipelineID:  r.PipelineID,
		State:       models.PipelineState(r.State),
		Created:     created,
		Modified:    modified,
	}, nil
}

func (db *DB) InsertPipelineMetadata(ctx context.Context, pm *models.PipelineMetadata) error {
	_, err := db.q.ExecContext(ctx,
		`INSERT INTO pipeline_metadata (namespace_id, pipeline_id, state, created, modified) VALUES (?, ?, ?, ?, ?)`,
		pm.NamespaceID, pm.PipelineID, string(pm.State), timeString(pm.Created), timeString(pm.Modified))
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrExists
		}
		return fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}
	return nil
}

func (db *DB) GetPipelineMetadata(ctx context.Context, namespaceID, pipelineID string) (*models.PipelineMetadata, error) {
	var row pipelineMetadataRow
	err := db.q.GetContext(ctx, &row,
		`SELECT namespace_id, pipeline_id, state, created, modified FROM pipeline_metadata WHERE namespace_id=? AND pipeline_id=?`,
		namespaceID, pipelineID)
	if err != nil {
		return nil, classify(err)
	}
	return row.toModel()
}

func (db *DB) ListPipelineMetadata(ctx context.Context, namespaceID string, opts storage.ListOptions) ([]models.PipelineMetadata, error) {
	var rows []pipelineMetadataRow
	err := db.q.SelectContext(ctx, &rows,
		`SELECT namespace_id, pipeline_id, state, created, modified FROM pipeline_metadata WHERE namespace_id=? ORDER BY pipeline_id LIMIT ? OFFSET ?`,
		namespaceID, storage.ClampLimit(opts.Limit), opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}

	out := make([]models.PipelineMetadata, 0, len(rows))
	for _, r := range rows {
		m, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, nil
}

func (db *DB) UpdatePipelineMetadata(ctx context.Context, pm *models.PipelineMetadata) error {
	res, err := db.q.ExecContext(ctx,
		`UPDATE pipeline_metadata SET state=?, modified=? WHERE namespace_id=? AND pipeline_id=?`,
		string(pm.State), timeString(pm.Modified), pm.NamespaceID, pm.PipelineID)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}
	return requireRowsAffected(res)
}

func (db *DB) DeletePipelineMetadata(ctx context.Context, namespaceID, pipelineID string) error {
	res, err := db.q.ExecContext(ctx,
		`DELETE FROM pipeline_metadata WHERE namespace_id=? AND pipeline_id=?`, namespaceID, pipelineID)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}
	return requireRowsAffected(res)
}

type pipelineConfigRow struct {
	NamespaceID  string  `db:"namespace_id"`
	PipelineID   string  `db:"pipeline_id"`
	Version      int64   `db:"version"`
	Parallelism  int64   `db:"parallelism"`
	Name         string  `db:"name"`
	Description  string  `db:"description"`
	State        string  `db:"state"`
	Registered   string  `db:"registered"`
	DeprecatedAt *string `db:"deprecated_at"`
	Tasks        string  `db:"tasks"`
}

func (r pipelineConfigRow) toModel() (*models.PipelineConfig, error) {
	registered, err := parseTime(r.Registered)
	if err != nil {
		return nil, fmt.Errorf("%w: pipeline_config.registered: %v", storage.ErrParse, err)
	}

	var deprecatedAt *int64
	if r.DeprecatedAt != nil {
		v, err := parseTime(*r.DeprecatedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: pipeline_config.deprecated_at: %v", storage.ErrParse, err)
		}
		deprecatedAt = &v
	}

	var tasks []models.Task
	if err := json.Unmarshal([]byte(r.Tasks), &tasks); err != nil {
		return nil, fmt.Errorf("%w: pipeline_config.tasks: %v", storage.ErrParse, err)
	}

	return &models.PipelineConfig{
		NamespaceID:  r.NamespaceID,
		PipelineID:   r.PipelineID,
		Version:      r.Version,
		Parallelism:  r.Parallelism,
		Name:         r.Name,
		Description:  r.Description,
		State:        models.ConfigState(r.State),
		Registered:   registered,
		DeprecatedAt: deprecatedAt,
		Tasks:        tasks,
	}, nil
}

func (db *DB) InsertPipelineConfig(ctx context.Context, pc *models.PipelineConfig) error {
	tasksJSON, err := json.Marshal(pc.Tasks)
	if err != nil {
		return fmt.Errorf("%w: marshaling tasks: %v", storage.ErrInternal, err)
	}

	_, err = db.q.ExecContext(ctx,
		`INSERT INTO pipeline_configs
		 (namespace_id, pipeline_id, version, parallelism, name, description, state, registered, deprecated_at, tasks)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pc.NamespaceID, pc.PipelineID, pc.Version, pc.Parallelism, pc.Name, pc.Description,
		string(pc.State), timeString(pc.Registered), nullableTimeString(pc.DeprecatedAt), string(tasksJSON))
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrExists
		}
		return fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}
	return nil
}

const pipelineConfigColumns = `namespace_id, pipeline_id, version, parallelism, name, description, state, registered, deprecated_at, tasks`

func (db *DB) GetPipelineConfig(ctx context.Context, namespaceID, pipelineID string, version int64) (*models.PipelineConfig, error) {
	var row pipelineConfigRow
	err := db.q.GetContext(ctx, &row,
		`SELECT `+pipelineConfigColumns+` FROM pipeline_configs WHERE namespace_id=? AND pipeline_id=? AND version=?`,
		namespaceID, pipelineID, version)
	if err != nil {
		return nil, classify(err)
	}
	return row.toModel()
}

func (db *DB) GetLivePipelineConfig(ctx context.Context, namespaceID, pipelineID string) (*models.PipelineConfig, error) {
	var row pipelineConfigRow
	err := db.q.GetContext(ctx, &row,
		`SELECT `+pipelineConfigColumns+` FROM pipeline_configs WHERE namespace_id=? AND pipeline_id=? AND state=? LIMIT 1`,
		namespaceID, pipelineID, string(models.ConfigStateLive))
	if err != nil {
		return nil, classify(err)
	}
	return row.toModel()
}

func (db *DB) ListPipelineConfigs(ctx context.Context, namespaceID, pipelineID string, opts storage.ListOptions) ([]models.PipelineConfig, error) {
	var rows []pipelineConfigRow
	err := db.q.SelectContext(ctx, &rows,
		`SELECT `+pipelineConfigColumns+` FROM pipeline_configs WHERE namespace_id=? AND pipeline_id=? ORDER BY version DESC LIMIT ? OFFSET ?`,
		namespaceID, pipelineID, storage.ClampLimit(opts.Limit), opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}

	out := make([]models.PipelineConfig, 0, len(rows))
	for _, r := range rows {
		m, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, nil
}

func (db *DB) UpdatePipelineConfig(ctx context.Context, pc *models.PipelineConfig) error {
	tasksJSON, err := json.Marshal(pc.Tasks)
	if err != nil {
		return fmt.Errorf("%w: marshaling tasks: %v", storage.ErrInternal, err)
	}

	res, err := db.q.ExecContext(ctx,
		`UPDATE pipeline_configs SET parallelism=?, name=?, description=?, state=?, deprecated_at=?, tasks=?
		 WHERE namespace_id=? AND pipeline_id=? AND version=?`,
		pc.Parallelism, pc.Name, pc.Description, string(pc.State), nullableTimeString(pc.DeprecatedAt), string(tasksJSON),
		pc.NamespaceID, pc.PipelineID, pc.Version)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}
	return requireRowsAffected(res)
}

func (db *DB) DeletePipelineConfig(ctx context.Context, namespaceID, pipelineID string, version int64) error {
	res, err := db.q.ExecContext(ctx,
		`DELETE FROM pipeline_configs WHERE namespace_id=? AND pipeline_id=? AND version=?`,
		namespaceID, pipelineID, version)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}
	return requireRowsAffected(res)
}
