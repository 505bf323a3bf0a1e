package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/gofer-hq/gofer/internal/models"
	"github.com/gofer-hq/gofer/internal/storage"
)

type taskExecutionRow struct {
	NamespaceID  string  `db:"namespace_id"`
	PipelineID   string  `db:"pipeline_id"`
	RunID        int64   `db:"run_id"`
	TaskID       string  `db:"task_id"`
	TaskSnapshot string  `db:"task_snapshot"`
	Created      string  `db:"created"`
	Started      *string `db:"started"`
	Ended        *string `db:"ended"`
	ExitCode     *int64  `db:"exit_code"`
	State        string  `db:"state"`
	Status       string  `db:"status"`
	StatusReason string  `db:"status_reason"`
	Variables    string  `db:"variables"`
	LogsExpired  int     `db:"logs_expired"`
	LogsRemoved  int     `db:"logs_removed"`
	SchedulerID  string  `db:"scheduler_id"`
}

func (r taskExecutionRow) toModel() (*models.TaskExecution, error) {
	created, err := parseTime(r.Created)
	if err != nil {
		return nil, fmt.Errorf("%w: task_execution.created: %v", storage.ErrParse, err)
	}

	started, err := fromNullableTime(nullString(r.Started))
	if err != nil {
		return nil, err
	}
	ended, err := fromNullableTime(nullString(r.Ended))
	if err != nil {
		return nil, err
	}

	var snapshot models.Task
	if err := json.Unmarshal([]byte(r.TaskSnapshot), &snapshot); err != nil {
		return nil, fmt.Errorf("%w: task_execution.task_snapshot: %v", storage.ErrParse, err)
	}

	var statusReason models.StatusReason
	if err := json.Unmarshal([]byte(r.StatusReason), &statusReason); err != nil {
		return nil, fmt.Errorf("%w: task_execution.status_reason: %v", storage.ErrParse, err)
	}

	var variables []models.Variable
	if err := json.Unmarshal([]byte(r.Variables), &variables); err != nil {
		return nil, fmt.Errorf("%w: task_execution.variables: %v", storage.ErrParse, err)
	}

	return &models.TaskExecution{
		NamespaceID:  r.NamespaceID,
		PipelineID:   r.PipelineID,
		RunID:        r.RunID,
		TaskID:       r.TaskID,
		TaskSnapshot: snapshot,
		Created:      created,
		Started:      started,
		Ended:        ended,
		ExitCode:     r.ExitCode,
		State:        models.TaskExecutionState(r.State),
		Status:       models.TaskExecutionStatus(r.Status),
		StatusReason: statusReason,
		Variables:    variables,
		LogsExpired:  r.LogsExpired != 0,
		LogsRemoved:  r.LogsRemoved != 0,
		SchedulerID:  r.SchedulerID,
	}, nil
}

const taskExecutionColumns = `namespace_id, pipeline_id, run_id, task_id, task_snapshot, created, started, ended, exit_code, state, status, status_reason, variables, logs_expired, logs_removed, scheduler_id`

func (db *DB) InsertTaskExecution(ctx context.Context, te *models.TaskExecution) error {
	snapshotJSON, err := json.Marshal(te.TaskSnapshot)
	if err != nil {
		return fmt.Errorf("%w: marshaling task snapshot: %v", storage.ErrInternal, err)
	}
	reasonJSON, err := json.Marshal(te.StatusReason)
	if err != nil {
		return fmt.Errorf("%w: marshaling status reason: %v", storage.ErrInternal, err)
	}
	variablesJSON, err := json.Marshal(te.Variables)
	if err != nil {
		return fmt.Errorf("%w: marshaling variables: %v", storage.ErrInternal, err)
	}

	_, err = db.q.ExecContext(ctx,
		`INSERT INTO task_executions (`+taskExecutionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		te.NamespaceID, te.PipelineID, te.RunID, te.TaskID, string(snapshotJSON), timeString(te.Created),
		nullableTimeString(te.Started), nullableTimeString(te.Ended), te.ExitCode,
		string(te.State), string(te.Status), string(reasonJSON), string(variablesJSON),
		boolToInt(te.LogsExpired), boolToInt(te.LogsRemoved), te.SchedulerID)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrExists
		}
		return fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}
	return nil
}

func (db *DB) GetTaskExecution(ctx context.Context, namespaceID, pipelineID string, runID int64, taskID string) (*models.TaskExecution, error) {
	var row taskExecutionRow
	err := db.q.GetContext(ctx, &row,
		`SELECT `+taskExecutionColumns+` FROM task_executions WHERE namespace_id=? AND pipeline_id=? AND run_id=? AND task_id=?`,
		namespaceID, pipelineID, runID, taskID)
	if err != nil {
		return nil, classify(err)
	}
	return row.toModel()
}

func (db *DB) ListTaskExecutions(ctx context.Context, namespaceID, pipelineID string, runID int64) ([]models.TaskExecution, error) {
	var rows []taskExecutionRow
	err := db.q.SelectContext(ctx, &rows,
		`SELECT `+taskExecutionColumns+` FROM task_executions WHERE namespace_id=? AND pipeline_id=? AND run_id=? ORDER BY task_id`,
		namespaceID, pipelineID, runID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}

	out := make([]models.TaskExecution, 0, len(rows))
	for _, r := range rows {
		m, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, nil
}

func (db *DB) UpdateTaskExecution(ctx context.Context, te *models.TaskExecution) error {
	reasonJSON, err := json.Marshal(te.StatusReason)
	if err != nil {
		return fmt.Errorf("%w: marshaling status reason: %v", storage.ErrInternal, err)
	}
	variablesJSON, err := json.Marshal(te.Variables)
	if err != nil {
		return fmt.Errorf("%w: marshaling variables: %v", storage.ErrInternal, err)
	}

	res, err := db.q.ExecContext(ctx,
		`UPDATE task_executions SET started=?, ended=?, exit_code=?, state=?, status=?, status_reason=?, variables=?, logs_expired=?, logs_removed=?, scheduler_id=?
		 WHERE namespace_id=? AND pipeline_id=? AND run_id=? AND task_id=?`,
		nullableTimeString(te.Started), nullableTimeString(te.Ended), te.ExitCode,
		string(te.State), string(te.Status), string(reasonJSON), string(variablesJSON),
		boolToInt(te.LogsExpired), boolToInt(te.LogsRemoved), te.SchedulerID,
		te.NamespaceID, te.PipelineID, te.RunID, te.TaskID)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}
	return requireRowsAffected(res)
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
