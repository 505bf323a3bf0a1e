package models

import "strconv"

type TaskExecutionState string

const (
	TaskExecutionStateProcessing TaskExecutionState = "processing"
	TaskExecutionStateWaiting    TaskExecutionState = "waiting"
	TaskExecutionStateRunning    TaskExecutionState = "running"
	TaskExecutionStateComplete   TaskExecutionState = "complete"
)

type TaskExecutionStatus string

const (
	TaskExecutionStatusUnknown    TaskExecutionStatus = "unknown"
	TaskExecutionStatusSuccessful TaskExecutionStatus = "successful"
	TaskExecutionStatusFailed     TaskExecutionStatus = "failed"
	TaskExecutionStatusCancelled  TaskExecutionStatus = "cancelled"
	TaskExecutionStatusSkipped    TaskExecutionStatus = "skipped"
)

// StatusReasonKind classifies why a task execution reached its terminal
// status.
type StatusReasonKind string

const (
	StatusReasonUnknown            StatusReasonKind = "unknown"
	StatusReasonAbnormalExit       StatusReasonKind = "abnormal_exit"
	StatusReasonSchedulerError     StatusReasonKind = "scheduler_error"
	StatusReasonOrphaned           StatusReasonKind = "orphaned"
	StatusReasonFailedPrecondition StatusReasonKind = "failed_precondition"
	StatusReasonCancelled          StatusReasonKind = "cancelled"
)

type StatusReason struct {
	Kind        StatusReasonKind `json:"kind"`
	Description string           `json:"description"`
}

// TaskExecution is the mutable run-time record of a single task's attempt
// within a run. TaskSnapshot freezes the Task as it was at dispatch time,
// since the live pipeline config may change mid-run.
type TaskExecution struct {
	NamespaceID  string              `json:"namespace_id" db:"namespace_id"`
	PipelineID   string              `json:"pipeline_id" db:"pipeline_id"`
	RunID        int64               `json:"run_id" db:"run_id"`
	TaskID       string              `json:"task_id" db:"task_id"`
	TaskSnapshot Task                `json:"task_snapshot" db:"-"`
	Created      int64               `json:"created" db:"created"`
	Started      *int64              `json:"started,omitempty" db:"started"`
	Ended        *int64              `json:"ended,omitempty" db:"ended"`
	ExitCode     *int64              `json:"exit_code,omitempty" db:"exit_code"`
	State        TaskExecutionState  `json:"state" db:"state"`
	Status       TaskExecutionStatus `json:"status" db:"status"`
	StatusReason StatusReason        `json:"status_reason" db:"-"`
	Variables    []Variable          `json:"variables" db:"-"`
	LogsExpired  bool                `json:"logs_expired" db:"logs_expired"`
	LogsRemoved  bool                `json:"logs_removed" db:"logs_removed"`
	SchedulerID  string              `json:"-" db:"scheduler_id"`
}

func NewTaskExecution(namespaceID, pipelineID string, runID int64, task Task) *TaskExecution {
	return &TaskExecution{
		NamespaceID:  namespaceID,
		PipelineID:   pipelineID,
		RunID:        runID,
		TaskID:       task.TaskID,
		TaskSnapshot: task,
		State:        TaskExecutionStateProcessing,
		Status:       TaskExecutionStatusUnknown,
	}
}

// ID identifies the task execution within the engine's in-memory maps.
func (te *TaskExecution) ID() string {
	return te.NamespaceID + "_" + te.PipelineID + "_" + strconv.FormatInt(te.RunID, 10) + "_" + te.TaskID
}
