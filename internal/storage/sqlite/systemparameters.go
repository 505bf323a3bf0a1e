package sqlite

import (
	"context"
	"fmt"

	"github.com/gofer-hq/gofer/internal/models"
	"github.com/gofer-hq/gofer/internal/storage"
)

func (db *DB) GetSystemParameters(ctx context.Context) (*models.SystemParameters, error) {
	var row struct {
		BootstrapTokenCreated   int `db:"bootstrap_token_created"`
		IgnorePipelineRunEvents int `db:"ignore_pipeline_run_events"`
	}
	err := db.q.GetContext(ctx, &row,
		`SELECT bootstrap_token_created, ignore_pipeline_run_events FROM system_parameters WHERE id=1`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}
	return &models.SystemParameters{
		BootstrapTokenCreated:   row.BootstrapTokenCreated != 0,
		IgnorePipelineRunEvents: row.IgnorePipelineRunEvents != 0,
	}, nil
}

func (db *DB) UpdateSystemParameters(ctx context.Context, p *models.SystemParameters) error {
	_, err := db.q.ExecContext(ctx,
		`UPDATE system_parameters SET bootstrap_token_created=?, ignore_pipeline_run_events=? WHERE id=1`,
		boolToInt(p.BootstrapTokenCreated), boolToInt(p.IgnorePipelineRunEvents))
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}
	return nil
}
