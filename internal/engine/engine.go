// Package engine implements the Run Orchestrator (C6), Task Execution
// Supervisor (C7), and Trigger Intake (C9): the core domain logic that turns
// a pipeline config and a start_run call into scheduled containers and,
// eventually, a terminal run status.
package engine

import (
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gofer-hq/gofer/internal/dag"
	"github.com/gofer-hq/gofer/internal/eventbus"
	"github.com/gofer-hq/gofer/internal/extension"
	"github.com/gofer-hq/gofer/internal/objectstore"
	"github.com/gofer-hq/gofer/internal/scheduler"
	"github.com/gofer-hq/gofer/internal/secretstore"
	"github.com/gofer-hq/gofer/internal/storage"
	"github.com/gofer-hq/gofer/internal/syncx"
)

// Config holds the engine's tunables, sourced from internal/config at boot.
type Config struct {
	// DefaultTaskTimeout applies to tasks that do not set their own
	// timeout_seconds. Zero means unlimited.
	DefaultTaskTimeout time.Duration

	// LogDir is the root directory task execution logs are written under,
	// laid out as {log_dir}/{namespace}_{pipeline}_{run}_{task_id}.
	LogDir string

	// PollMinInterval/PollMaxInterval bound the exponential backoff used to
	// poll scheduler state for a running task (defaults of
	// 100ms -> 2s capped).
	PollMinInterval time.Duration
	PollMaxInterval time.Duration

	// ObjectRetentionCount is how many pipeline-scoped object keys a single
	// pipeline may keep; the oldest beyond this count are evicted by the
	// object pruner. Zero disables pipeline-scoped object eviction.
	ObjectRetentionCount int64

	// ObjectPruneInterval bounds how often the object pruner sweeps every
	// pipeline for keys beyond ObjectRetentionCount.
	ObjectPruneInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		DefaultTaskTimeout:   0,
		LogDir:               "/var/log/gofer",
		PollMinInterval:      100 * time.Millisecond,
		PollMaxInterval:      2 * time.Second,
		ObjectRetentionCount: 20,
		ObjectPruneInterval:  5 * time.Minute,
	}
}

// activeRun tracks the in-memory state of one executing run, independent of
// its persisted row.
type activeRun struct {
	mu         sync.Mutex
	completed  map[string]dag.Completion
	graph      *dag.Graph
	cancelled  bool
	cancelCh   chan struct{}
	taskDoneCh chan struct{} // signaled whenever any task execution completes
}

// Engine wires every port the Run Orchestrator and Task Execution Supervisor
// need and holds the in-memory supervision state for active runs.
type Engine struct {
	db         storage.Engine
	sched      scheduler.Engine
	secrets    secretstore.Store
	objects    objectstore.Store
	bus        *eventbus.Bus
	extensions *extension.Supervisor
	cfg        Config
	log        zerolog.Logger

	active *syncx.Map[string, *activeRun] // key: namespace/pipeline/run_id

	// admission serializes the parallelism-check + id-reservation sequence
	// per pipeline, so two concurrent StartRun calls on the same pipeline
	// can't both read the same active-run count and both pass the gate
	// before either reservation lands.
	admission *syncx.Map[string, *sync.Mutex]
}

func New(db storage.Engine, sched scheduler.Engine, secrets secretstore.Store, objects objectstore.Store, bus *eventbus.Bus, extensions *extension.Supervisor, cfg Config, log zerolog.Logger) *Engine {
	return &Engine{
		db:         db,
		sched:      sched,
		secrets:    secrets,
		objects:    objects,
		bus:        bus,
		extensions: extensions,
		cfg:        cfg,
		log:        log,
		active:     syncx.NewMap[string, *activeRun](),
		admission:  syncx.NewMap[string, *sync.Mutex](),
	}
}

// lockPipeline returns an unlock func for the per-pipeline admission lock,
// creating it on first use. Callers must call the returned func exactly
// once to release it.
func (e *Engine) lockPipeline(namespaceID, pipelineID string) func() {
	key := pipelineKey(namespaceID, pipelineID)

	_ = e.admission.Swap(key, func(existing *sync.Mutex, exists bool) (*sync.Mutex, error) {
		if exists {
			return existing, nil
		}
		return &sync.Mutex{}, nil
	})

	mu, _ := e.admission.Get(key)
	mu.Lock()
	return mu.Unlock
}

func pipelineKey(namespaceID, pipelineID string) string {
	return namespaceID + "/" + pipelineID
}

func runKey(namespaceID, pipelineID string, runID int64) string {
	return namespaceID + "/" + pipelineID + "/" + strconv.FormatInt(runID, 10)
}

func containerName(namespaceID, pipelineID string, runID int64, taskID string) string {
	return namespaceID + "_" + pipelineID + "_" + strconv.FormatInt(runID, 10) + "_" + taskID
}
