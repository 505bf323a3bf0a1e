package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gofer-hq/gofer/internal/models"
	"github.com/gofer-hq/gofer/internal/storage"
)

type runRow struct {
	NamespaceID           string  `db:"namespace_id"`
	PipelineID            string  `db:"pipeline_id"`
	PipelineConfigVersion int64   `db:"pipeline_config_version"`
	RunID                 int64   `db:"run_id"`
	Started               string  `db:"started"`
	Ended                 *string `db:"ended"`
	State                 string  `db:"state"`
	Status                string  `db:"status"`
	StatusReason          string  `db:"status_reason"`
	Initiator             string  `db:"initiator"`
	Variables             string  `db:"variables"`
	StoreObjectsExpired   int     `db:"store_objects_expired"`
}

func (r runRow) toModel() (*models.Run, error) {
	started, err := parseTime(r.Started)
	if err != nil {
		return nil, fmt.Errorf("%w: run.started: %v", storage.ErrParse, err)
	}

	var ended *int64
	if r.Ended != nil {
		v, err := parseTime(*r.Ended)
		if err != nil {
			return nil, fmt.Errorf("%w: run.ended: %v", storage.ErrParse, err)
		}
		ended = &v
	}

	var initiator models.Initiator
	if err := json.Unmarshal([]byte(r.Initiator), &initiator); err != nil {
		return nil, fmt.Errorf("%w: run.initiator: %v", storage.ErrParse, err)
	}

	var variables []models.Variable
	if err := json.Unmarshal([]byte(r.Variables), &variables); err != nil {
		return nil, fmt.Errorf("%w: run.variables: %v", storage.ErrParse, err)
	}

	return &models.Run{
		NamespaceID:           r.NamespaceID,
		PipelineID:            r.PipelineID,
		PipelineConfigVersion: r.PipelineConfigVersion,
		RunID:                 r.RunID,
		Started:               started,
		Ended:                 ended,
		State:                 models.RunState(r.State),
		Status:                models.RunStatus(r.Status),
		StatusReason:          r.StatusReason,
		Initiator:             initiator,
		Variables:             variables,
		StoreObjectsExpired:   r.StoreObjectsExpired != 0,
	}, nil
}

const runColumns = `namespace_id, pipeline_id, pipeline_config_version, run_id, started, ended, state, status, status_reason, initiator, variables, store_objects_expired`

func (db *DB) InsertRun(ctx context.Context, r *models.Run) error {
	initiatorJSON, err := json.Marshal(r.Initiator)
	if err != nil {
		return fmt.Errorf("%w: marshaling initiator: %v", storage.ErrInternal, err)
	}
	variablesJSON, err := json.Marshal(r.Variables)
	if err != nil {
		return fmt.Errorf("%w: marshaling variables: %v", storage.ErrInternal, err)
	}

	_, err = db.q.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.NamespaceID, r.PipelineID, r.PipelineConfigVersion, r.RunID, timeString(r.Started),
		nullableTimeString(r.Ended), string(r.State), string(r.Status), r.StatusReason,
		string(initiatorJSON), string(variablesJSON), boolToInt(r.StoreObjectsExpired))
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrExists
		}
		return fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}
	return nil
}

func (db *DB) GetRun(ctx context.Context, namespaceID, pipelineID string, runID int64) (*models.Run, error) {
	var row runRow
	err := db.q.GetContext(ctx, &row,
		`SELECT `+runColumns+` FROM runs WHERE namespace_id=? AND pipeline_id=? AND run_id=?`,
		namespaceID, pipelineID, runID)
	if err != nil {
		return nil, classify(err)
	}
	return row.toModel()
}

func (db *DB) ListRuns(ctx context.Context, namespaceID, pipelineID string, opts storage.ListOptions) ([]models.Run, error) {
	var rows []runRow
	err := db.q.SelectContext(ctx, &rows,
		`SELECT `+runColumns+` FROM runs WHERE namespace_id=? AND pipeline_id=? ORDER BY run_id DESC LIMIT ? OFFSET ?`,
		namespaceID, pipelineID, storage.ClampLimit(opts.Limit), opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}

	out := make([]models.Run, 0, len(rows))
	for _, r := range rows {
		m, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, nil
}

func (db *DB) UpdateRun(ctx context.Context, r *models.Run) error {
	initiatorJSON, err := json.Marshal(r.Initiator)
	if err != nil {
		return fmt.Errorf("%w: marshaling initiator: %v", storage.ErrInternal, err)
	}
	variablesJSON, err := json.Marshal(r.Variables)
	if err != nil {
		return fmt.Errorf("%w: marshaling variables: %v", storage.ErrInternal, err)
	}

	res, err := db.q.ExecContext(ctx,
		`UPDATE runs SET ended=?, state=?, status=?, status_reason=?, initiator=?, variables=?, store_objects_expired=?
		 WHERE namespace_id=? AND pipeline_id=? AND run_id=?`,
		nullableTimeString(r.Ended), string(r.State), string(r.Status), r.StatusReason,
		string(initiatorJSON), string(variablesJSON), boolToInt(r.StoreObjectsExpired),
		r.NamespaceID, r.PipelineID, r.RunID)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}
	return requireRowsAffected(res)
}

func (db *DB) CountActiveRuns(ctx context.Context, namespaceID, pipelineID string) (int, error) {
	var n int
	err := db.q.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM runs WHERE namespace_id=? AND pipeline_id=? AND state != ?`,
		namespaceID, pipelineID, string(models.RunStateComplete))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}
	return n, nil
}
