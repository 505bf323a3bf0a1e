package models

import "time"

type PipelineState string

const (
	PipelineStateActive   PipelineState = "active"
	PipelineStateDisabled PipelineState = "disabled"
)

// PipelineMetadata exists independent of any config version; it tracks the
// pipeline's own lifecycle (enabled/disabled) rather than its task graph.
type PipelineMetadata struct {
	NamespaceID string        `json:"namespace_id" db:"namespace_id"`
	PipelineID  string        `json:"pipeline_id" db:"pipeline_id"`
	State       PipelineState `json:"state" db:"state"`
	Created     int64         `json:"created" db:"created"`
	Modified    int64         `json:"modified" db:"modified"`
}

func NewPipelineMetadata(namespaceID, pipelineID string) *PipelineMetadata {
	now := time.Now().UnixMilli()
	return &PipelineMetadata{
		NamespaceID: namespaceID,
		PipelineID:  pipelineID,
		State:       PipelineStateActive,
		Created:     now,
		Modified:    now,
	}
}

type ConfigState string

const (
	ConfigStateUnreleased ConfigState = "unreleased"
	ConfigStateLive       ConfigState = "live"
	ConfigStateDeprecated ConfigState = "deprecated"
)

// PipelineConfig is one immutable, versioned snapshot of a pipeline's task
// graph. At most one version per pipeline may be Live at a time.
type PipelineConfig struct {
	NamespaceID   string      `json:"namespace_id" db:"namespace_id"`
	PipelineID    string      `json:"pipeline_id" db:"pipeline_id"`
	Version       int64       `json:"version" db:"version"`
	Parallelism   int64       `json:"parallelism" db:"parallelism"`
	Name          string      `json:"name" db:"name"`
	Description   string      `json:"description" db:"description"`
	State         ConfigState `json:"state" db:"state"`
	Registered    int64       `json:"registered" db:"registered"`
	DeprecatedAt  *int64      `json:"deprecated_at,omitempty" db:"deprecated_at"`
	Tasks         []Task      `json:"tasks" db:"-"`
	TasksEncoded  string      `json:"-" db:"tasks"` // JSON-encoded Tasks for storage
}

func NewPipelineConfig(namespaceID, pipelineID string, version int64) *PipelineConfig {
	return &PipelineConfig{
		NamespaceID: namespaceID,
		PipelineID:  pipelineID,
		Version:     version,
		State:       ConfigStateUnreleased,
		Registered:  time.Now().UnixMilli(),
	}
}

// TaskMap returns the config's tasks keyed by task id, as consumed by the
// DAG resolver.
func (c *PipelineConfig) TaskMap() map[string]Task {
	out := make(map[string]Task, len(c.Tasks))
	for _, t := range c.Tasks {
		out[t.TaskID] = t
	}
	return out
}
