package models

import (
	"strconv"
	"time"
)

type RunState string

const (
	RunStatePending RunState = "pending"
	RunStateRunning RunState = "running"
	RunStateComplete RunState = "complete"
)

type RunStatus string

const (
	RunStatusUnknown    RunStatus = "unknown"
	RunStatusSuccessful RunStatus = "successful"
	RunStatusFailed     RunStatus = "failed"
	RunStatusCancelled  RunStatus = "cancelled"
)

type InitiatorKind string

const (
	InitiatorHuman     InitiatorKind = "human"
	InitiatorExtension InitiatorKind = "extension"
	InitiatorBot       InitiatorKind = "bot"
)

type Initiator struct {
	Kind   InitiatorKind `json:"kind"`
	Name   string        `json:"name"`
	Reason string        `json:"reason"`
}

// Run is one execution of a pipeline config version.
type Run struct {
	NamespaceID           string      `json:"namespace_id" db:"namespace_id"`
	PipelineID            string      `json:"pipeline_id" db:"pipeline_id"`
	PipelineConfigVersion int64       `json:"pipeline_config_version" db:"pipeline_config_version"`
	RunID                 int64       `json:"run_id" db:"run_id"`
	Started               int64       `json:"started" db:"started"`
	Ended                 *int64      `json:"ended,omitempty" db:"ended"`
	State                 RunState    `json:"state" db:"state"`
	Status                RunStatus   `json:"status" db:"status"`
	StatusReason          string      `json:"status_reason,omitempty" db:"status_reason"`
	Initiator             Initiator   `json:"initiator" db:"-"`
	Variables             []Variable  `json:"variables" db:"-"`
	StoreObjectsExpired   bool        `json:"store_objects_expired" db:"store_objects_expired"`
}

// StartedString renders Started as the decimal-string form used by the
// sqlite TEXT column (the same form internal/storage/sqlite's timeString writes).
func (r *Run) StartedString() string { return strconv.FormatInt(r.Started, 10) }

func NewRun(namespaceID, pipelineID string, runID, configVersion int64, initiator Initiator) *Run {
	return &Run{
		NamespaceID:           namespaceID,
		PipelineID:            pipelineID,
		PipelineConfigVersion: configVersion,
		RunID:                 runID,
		Started:               time.Now().UnixMilli(),
		State:                 RunStatePending,
		Status:                RunStatusUnknown,
		Initiator:             initiator,
	}
}

// Complete finalizes the run, deriving Status from the outcomes of its task
// executions per the rule: any cancelled -> cancelled; else any failed ->
// failed; else successful.
func (r *Run) Complete(executions []TaskExecution) {
	now := time.Now().UnixMilli()
	r.Ended = &now
	r.State = RunStateComplete

	status := RunStatusSuccessful
	for _, te := range executions {
		switch te.Status {
		case TaskExecutionStatusCancelled:
			status = RunStatusCancelled
		case TaskExecutionStatusFailed:
			if status != RunStatusCancelled {
				status = RunStatusFailed
			}
		}
	}
	r.Status = status
}
