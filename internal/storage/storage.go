// Package storage defines the Persistence Port: the single source of truth
// for every entity the engine manages. Concrete implementations live in
// sub-packages (sqlite for production, memory for tests); callers program
// against the Engine interface only.
package storage

import (
	"context"
	"errors"

	"github.com/gofer-hq/gofer/internal/events"
	"github.com/gofer-hq/gofer/internal/models"
)

var (
	ErrNotFound        = errors.New("storage: entity not found")
	ErrExists          = errors.New("storage: entity already exists")
	ErrParse           = errors.New("storage: could not parse stored value")
	ErrNoFieldsUpdated = errors.New("storage: update touched no fields")
	ErrInternal        = errors.New("storage: internal error")
)

// DefaultListLimit and MaxListLimit bound every (offset, limit) list
// operation: limit <= 200, default 200 if 0 or larger.
const (
	DefaultListLimit = 200
	MaxListLimit     = 200
)

// ClampLimit normalizes a caller-supplied limit per the Persistence Port's
// list-operation contract.
func ClampLimit(limit int) int {
	if limit <= 0 || limit > MaxListLimit {
		return DefaultListLimit
	}
	return limit
}

// Engine is the full Persistence Port surface. A single implementation backs
// every entity so that Transaction can offer serializable semantics across
// them; entity-specific methods are grouped into the embedded interfaces
// below purely for readability.
type Engine interface {
	NamespaceStore
	PipelineStore
	RunStore
	TaskExecutionStore
	SecretStore
	ObjectKeyStore
	ExtensionStore
	TokenStore
	EventStore
	SystemParametersStore

	// NextID atomically reserves the next per-pipeline monotonic integer for
	// the given kind ("run" or "config_version").
	NextID(ctx context.Context, namespaceID, pipelineID, kind string) (int64, error)

	// Transaction runs fn with serializable semantics; fn receives an Engine
	// bound to the transaction and must use it (not the outer Engine) for all
	// calls made within it.
	Transaction(ctx context.Context, fn func(tx Engine) error) error

	Close() error
}

type ListOptions struct {
	Offset int
	Limit  int
}

type NamespaceStore interface {
	InsertNamespace(ctx context.Context, ns *models.Namespace) error
	GetNamespace(ctx context.Context, id string) (*models.Namespace, error)
	ListNamespaces(ctx context.Context, opts ListOptions) ([]models.Namespace, error)
	UpdateNamespace(ctx context.Context, ns *models.Namespace) error
	DeleteNamespace(ctx context.Context, id string) error
}

type PipelineStore interface {
	InsertPipelineMetadata(ctx context.Context, pm *models.PipelineMetadata) error
	GetPipelineMetadata(ctx context.Context, namespaceID, pipelineID string) (*models.PipelineMetadata, error)
	ListPipelineMetadata(ctx context.Context, namespaceID string, opts ListOptions) ([]models.PipelineMetadata, error)
	UpdatePipelineMetadata(ctx context.Context, pm *models.PipelineMetadata) error
	DeletePipelineMetadata(ctx context.Context, namespaceID, pipelineID string) error

	InsertPipelineConfig(ctx context.Context, pc *models.PipelineConfig) error
	GetPipelineConfig(ctx context.Context, namespaceID, pipelineID string, version int64) (*models.PipelineConfig, error)
	GetLivePipelineConfig(ctx context.Context, namespaceID, pipelineID string) (*models.PipelineConfig, error)
	ListPipelineConfigs(ctx context.Context, namespaceID, pipelineID string, opts ListOptions) ([]models.PipelineConfig, error)
	UpdatePipelineConfig(ctx context.Context, pc *models.PipelineConfig) error
	DeletePipelineConfig(ctx context.Context, namespaceID, pipelineID string, version int64) error
}

type RunStore interface {
	InsertRun(ctx context.Context, r *models.Run) error
	GetRun(ctx context.Context, namespaceID, pipelineID string, runID int64) (*models.Run, error)
	ListRuns(ctx context.Context, namespaceID, pipelineID string, opts ListOptions) ([]models.Run, error)
	UpdateRun(ctx context.Context, r *models.Run) error
	CountActiveRuns(ctx context.Context, namespaceID, pipelineID string) (int, error)
}

type TaskExecutionStore interface {
	InsertTaskExecution(ctx context.Context, te *models.TaskExecution) error
	GetTaskExecution(ctx context.Context, namespaceID, pipelineID string, runID int64, taskID string) (*models.TaskExecution, error)
	ListTaskExecutions(ctx context.Context, namespaceID, pipelineID string, runID int64) ([]models.TaskExecution, error)
	UpdateTaskExecution(ctx context.Context, te *models.TaskExecution) error
}

type SecretStore interface {
	InsertGlobalSecret(ctx context.Context, s *models.GlobalSecret) error
	GetGlobalSecret(ctx context.Context, key string) (*models.GlobalSecret, error)
	ListGlobalSecrets(ctx context.Context, opts ListOptions) ([]models.GlobalSecret, error)
	DeleteGlobalSecret(ctx context.Context, key string) error

	InsertPipelineSecret(ctx context.Context, s *models.PipelineSecret) error
	GetPipelineSecret(ctx context.Context, namespaceID, pipelineID, key string) (*models.PipelineSecret, error)
	ListPipelineSecrets(ctx context.Context, namespaceID, pipelineID string, opts ListOptions) ([]models.PipelineSecret, error)
	DeletePipelineSecret(ctx context.Context, namespaceID, pipelineID, key string) error
}

type ObjectKeyStore interface {
	InsertObjectKey(ctx context.Context, o *models.ObjectKey) error
	ListObjectKeys(ctx context.Context, namespaceID, pipelineID string, scope models.ObjectScope, runID *int64) ([]models.ObjectKey, error)
	DeleteObjectKey(ctx context.Context, namespaceID, pipelineID, key string) error
}

type ExtensionStore interface {
	InsertExtensionRegistration(ctx context.Context, e *models.ExtensionRegistration) error
	GetExtensionRegistration(ctx context.Context, extensionID string) (*models.ExtensionRegistration, error)
	ListExtensionRegistrations(ctx context.Context, opts ListOptions) ([]models.ExtensionRegistration, error)
	UpdateExtensionRegistration(ctx context.Context, e *models.ExtensionRegistration) error
	DeleteExtensionRegistration(ctx context.Context, extensionID string) error

	InsertExtensionSubscription(ctx context.Context, s *models.ExtensionSubscription) error
	GetExtensionSubscription(ctx context.Context, namespaceID, pipelineID, extensionID, subscriptionID string) (*models.ExtensionSubscription, error)
	ListExtensionSubscriptions(ctx context.Context, extensionID string) ([]models.ExtensionSubscription, error)
	UpdateExtensionSubscription(ctx context.Context, s *models.ExtensionSubscription) error
	DeleteExtensionSubscription(ctx context.Context, namespaceID, pipelineID, extensionID, subscriptionID string) error
}

type TokenStore interface {
	InsertToken(ctx context.Context, t *models.Token) error
	GetToken(ctx context.Context, hash string) (*models.Token, error)
	DeleteToken(ctx context.Context, hash string) error
}

type EventStore interface {
	InsertEvent(ctx context.Context, e events.Event) (int64, error)
	GetEvent(ctx context.Context, id int64) (events.Event, error)
	ListEvents(ctx context.Context, offset, limit int, reverse bool) ([]events.Event, error)
	PruneEvents(ctx context.Context, olderThanMillis int64) (int64, error)
}

type SystemParametersStore interface {
	GetSystemParameters(ctx context.Context) (*models.SystemParameters, error)
	UpdateSystemParameters(ctx context.Context, p *models.SystemParameters) error
}
