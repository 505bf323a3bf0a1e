// Package events defines the tagged union of event kinds the engine
// publishes, following a tagged-union style but
// generalized to the engine's own event vocabulary.
package events

import "time"

type Kind string

const (
	// KindAny is a pseudo-kind: a subscription filter containing it matches
	// every event kind. It is never itself published.
	KindAny Kind = "any"

	KindCreatedNamespace Kind = "created_namespace"
	KindDeletedNamespace Kind = "deleted_namespace"

	KindCreatedPipeline  Kind = "created_pipeline"
	KindDeletedPipeline  Kind = "deleted_pipeline"
	KindEnabledPipeline  Kind = "enabled_pipeline"
	KindDisabledPipeline Kind = "disabled_pipeline"

	KindStartedDeployment   Kind = "started_deployment"
	KindCompletedDeployment Kind = "completed_deployment"

	KindStartedRun             Kind = "started_run"
	KindCompletedRun           Kind = "completed_run"
	KindStartedRunCancellation Kind = "started_run_cancellation"

	KindCreatedTaskExecution              Kind = "created_task_execution"
	KindStartedTaskExecution              Kind = "started_task_execution"
	KindCompletedTaskExecution            Kind = "completed_task_execution"
	KindStartedTaskExecutionCancellation  Kind = "started_task_execution_cancellation"

	KindInstalledExtension   Kind = "installed_extension"
	KindUninstalledExtension Kind = "uninstalled_extension"
	KindEnabledExtension     Kind = "enabled_extension"
	KindDisabledExtension    Kind = "disabled_extension"

	KindPipelineExtensionSubscriptionRegistered   Kind = "pipeline_extension_subscription_registered"
	KindPipelineExtensionSubscriptionUnregistered Kind = "pipeline_extension_subscription_unregistered"

	KindCreatedRole Kind = "created_role"
	KindDeletedRole Kind = "deleted_role"

	KindExpiredRunObjects     Kind = "expired_run_objects"
	KindEvictedPipelineObject Kind = "evicted_pipeline_object"
	KindDroppedTriggerEvent   Kind = "dropped_trigger_event"
)

// Details is implemented by every concrete event payload.
type Details interface {
	Kind() Kind
}

type CreatedNamespace struct {
	NamespaceID string `json:"namespace_id"`
}

func (CreatedNamespace) Kind() Kind { return KindCreatedNamespace }

type DeletedNamespace struct {
	NamespaceID string `json:"namespace_id"`
}

func (DeletedNamespace) Kind() Kind { return KindDeletedNamespace }

type CreatedPipeline struct {
	NamespaceID string `json:"namespace_id"`
	PipelineID  string `json:"pipeline_id"`
}

func (CreatedPipeline) Kind() Kind { return KindCreatedPipeline }

type DeletedPipeline struct {
	NamespaceID string `json:"namespace_id"`
	PipelineID  string `json:"pipeline_id"`
}

func (DeletedPipeline) Kind() Kind { return KindDeletedPipeline }

type EnabledPipeline struct {
	NamespaceID string `json:"namespace_id"`
	PipelineID  string `json:"pipeline_id"`
}

func (EnabledPipeline) Kind() Kind { return KindEnabledPipeline }

type DisabledPipeline struct {
	NamespaceID string `json:"namespace_id"`
	PipelineID  string `json:"pipeline_id"`
}

func (DisabledPipeline) Kind() Kind { return KindDisabledPipeline }

type StartedDeployment struct {
	NamespaceID string `json:"namespace_id"`
	PipelineID  string `json:"pipeline_id"`
	Version     int64  `json:"version"`
}

func (StartedDeployment) Kind() Kind { return KindStartedDeployment }

type CompletedDeployment struct {
	NamespaceID string `json:"namespace_id"`
	PipelineID  string `json:"pipeline_id"`
	Version     int64  `json:"version"`
}

func (CompletedDeployment) Kind() Kind { return KindCompletedDeployment }

type StartedRun struct {
	NamespaceID string `json:"namespace_id"`
	PipelineID  string `json:"pipeline_id"`
	RunID       int64  `json:"run_id"`
}

func (StartedRun) Kind() Kind { return KindStartedRun }

type CompletedRun struct {
	NamespaceID string `json:"namespace_id"`
	PipelineID  string `json:"pipeline_id"`
	RunID       int64  `json:"run_id"`
	Status      string `json:"status"`
}

func (CompletedRun) Kind() Kind { return KindCompletedRun }

type StartedRunCancellation struct {
	NamespaceID string `json:"namespace_id"`
	PipelineID  string `json:"pipeline_id"`
	RunID       int64  `json:"run_id"`
	Reason      string `json:"reason"`
}

func (StartedRunCancellation) Kind() Kind { return KindStartedRunCancellation }

type CreatedTaskExecution struct {
	NamespaceID     string `json:"namespace_id"`
	PipelineID      string `json:"pipeline_id"`
	RunID           int64  `json:"run_id"`
	TaskExecutionID string `json:"task_execution_id"`
}

func (CreatedTaskExecution) Kind() Kind { return KindCreatedTaskExecution }

type StartedTaskExecution struct {
	NamespaceID     string `json:"namespace_id"`
	PipelineID      string `json:"pipeline_id"`
	RunID           int64  `json:"run_id"`
	TaskExecutionID string `json:"task_execution_id"`
}

func (StartedTaskExecution) Kind() Kind { return KindStartedTaskExecution }

type CompletedTaskExecution struct {
	NamespaceID     string `json:"namespace_id"`
	PipelineID      string `json:"pipeline_id"`
	RunID           int64  `json:"run_id"`
	TaskExecutionID string `json:"task_execution_id"`
	Status          string `json:"status"`
}

func (CompletedTaskExecution) Kind() Kind { return KindCompletedTaskExecution }

type StartedTaskExecutionCancellation struct {
	NamespaceID     string        `json:"namespace_id"`
	PipelineID      string        `json:"pipeline_id"`
	RunID           int64         `json:"run_id"`
	TaskExecutionID string        `json:"task_execution_id"`
	Timeout         time.Duration `json:"timeout"`
}

func (StartedTaskExecutionCancellation) Kind() Kind { return KindStartedTaskExecutionCancellation }

type InstalledExtension struct {
	ExtensionID string `json:"extension_id"`
	Image       string `json:"image"`
}

func (InstalledExtension) Kind() Kind { return KindInstalledExtension }

type UninstalledExtension struct {
	ExtensionID string `json:"extension_id"`
}

func (UninstalledExtension) Kind() Kind { return KindUninstalledExtension }

type EnabledExtension struct {
	ExtensionID string `json:"extension_id"`
}

func (EnabledExtension) Kind() Kind { return KindEnabledExtension }

type DisabledExtension struct {
	ExtensionID string `json:"extension_id"`
}

func (DisabledExtension) Kind() Kind { return KindDisabledExtension }

type PipelineExtensionSubscriptionRegistered struct {
	NamespaceID    string `json:"namespace_id"`
	PipelineID     string `json:"pipeline_id"`
	ExtensionID    string `json:"extension_id"`
	SubscriptionID string `json:"subscription_id"`
}

func (PipelineExtensionSubscriptionRegistered) Kind() Kind {
	return KindPipelineExtensionSubscriptionRegistered
}

type PipelineExtensionSubscriptionUnregistered struct {
	NamespaceID    string `json:"namespace_id"`
	PipelineID     string `json:"pipeline_id"`
	ExtensionID    string `json:"extension_id"`
	SubscriptionID string `json:"subscription_id"`
}

func (PipelineExtensionSubscriptionUnregistered) Kind() Kind {
	return KindPipelineExtensionSubscriptionUnregistered
}

type CreatedRole struct {
	RoleID string `json:"role_id"`
}

func (CreatedRole) Kind() Kind { return KindCreatedRole }

type DeletedRole struct {
	RoleID string `json:"role_id"`
}

func (DeletedRole) Kind() Kind { return KindDeletedRole }

type ExpiredRunObjects struct {
	NamespaceID string `json:"namespace_id"`
	PipelineID  string `json:"pipeline_id"`
	RunID       int64  `json:"run_id"`
}

func (ExpiredRunObjects) Kind() Kind { return KindExpiredRunObjects }

type EvictedPipelineObject struct {
	NamespaceID string `json:"namespace_id"`
	PipelineID  string `json:"pipeline_id"`
	Key         string `json:"key"`
}

func (EvictedPipelineObject) Kind() Kind { return KindEvictedPipelineObject }

type DroppedTriggerEvent struct {
	NamespaceID    string `json:"namespace_id"`
	PipelineID     string `json:"pipeline_id"`
	ExtensionID    string `json:"extension_id"`
	SubscriptionID string `json:"subscription_id"`
	Reason         string `json:"reason"`
}

func (DroppedTriggerEvent) Kind() Kind { return KindDroppedTriggerEvent }

// Event is a single, immutable, persisted occurrence.
type Event struct {
	ID      int64   `json:"id"`
	Kind    Kind    `json:"kind"`
	Details Details `json:"-"`
	Emitted int64   `json:"emitted"` // epoch milliseconds
}

func New(details Details) Event {
	return Event{
		Kind:    details.Kind(),
		Details: details,
		Emitted: time.Now().UnixMilli(),
	}
}
