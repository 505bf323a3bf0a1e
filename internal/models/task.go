package models

// RequiredState mirrors dag.RequiredState at the model layer so that
// internal/models has no dependency on internal/dag; the engine translates
// between the two at the boundary.
type RequiredState string

const (
	RequiredStateAny     RequiredState = "any"
	RequiredStateSuccess RequiredState = "success"
	RequiredStateFailure RequiredState = "failure"
)

// RegistryAuth carries credentials for a private container registry.
type RegistryAuth struct {
	User string `json:"user"`
	Pass string `json:"pass"`
}

// Task is one node of a pipeline config's DAG.
type Task struct {
	NamespaceID           string                   `json:"namespace_id"`
	PipelineID            string                   `json:"pipeline_id"`
	PipelineConfigVersion int64                    `json:"pipeline_config_version"`
	TaskID                string                   `json:"task_id"`
	Description           string                   `json:"description"`
	Image                 string                   `json:"image"`
	RegistryAuth          *RegistryAuth            `json:"registry_auth,omitempty"`
	DependsOn             map[string]RequiredState `json:"depends_on"`
	Variables             map[string]string        `json:"variables"`
	VariableWhitelist     []string                 `json:"variable_whitelist,omitempty"`
	Entrypoint            []string                 `json:"entrypoint,omitempty"`
	Command               []string                 `json:"command,omitempty"`
	InjectAPIToken        bool                     `json:"inject_api_token"`
	AlwaysPullNewestImage bool                     `json:"always_pull_newest_image"`
	TimeoutSeconds        *int64                   `json:"timeout_seconds,omitempty"`
}
