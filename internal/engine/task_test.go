package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/gofer-hq/gofer/internal/eventbus"
	"github.com/gofer-hq/gofer/internal/models"
	"github.com/gofer-hq/gofer/internal/objectstore"
	"github.com/gofer-hq/gofer/internal/scheduler"
	schedmemory "github.com/gofer-hq/gofer/internal/scheduler/memory"
	"github.com/gofer-hq/gofer/internal/secretstore"
	storagememory "github.com/gofer-hq/gofer/internal/storage/memory"
)

// fakeObjectStore and fakeSecretStore are minimal in-memory doubles for the
// byte-oriented KV ports, sufficient for engine-level tests that never
// exercise the encryption or bbolt file-backing concerns those ports own.
type fakeObjectStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeObjectStore() *fakeObjectStore { return &fakeObjectStore{data: map[string][]byte{}} }

func (f *fakeObjectStore) Get(key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return nil, objectstore.ErrNotFound
	}
	return v, nil
}
func (f *fakeObjectStore) Put(key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}
func (f *fakeObjectStore) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}
func (f *fakeObjectStore) ListKeys(prefix string) ([]string, error) { return nil, nil }
func (f *fakeObjectStore) Close() error                             { return nil }

type fakeSecretStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeSecretStore() *fakeSecretStore { return &fakeSecretStore{data: map[string]string{}} }

func (f *fakeSecretStore) Get(key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return "", secretstore.ErrNotFound
	}
	return v, nil
}
func (f *fakeSecretStore) Put(key, content string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.data[key]; exists && !force {
		return secretstore.ErrExists
	}
	f.data[key] = content
	return nil
}
func (f *fakeSecretStore) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}
func (f *fakeSecretStore) ListKeys(prefix string) ([]string, error) { return nil, nil }
func (f *fakeSecretStore) Close() error                             { return nil }

func newTestEngine(t *testing.T) (*Engine, *storagememory.Store, *schedmemory.Engine) {
	t.Helper()
	db := storagememory.New()
	sched := schedmemory.New()
	cfg := DefaultConfig()
	cfg.LogDir = t.TempDir()
	cfg.PollMinInterval = time.Millisecond
	cfg.PollMaxInterval = 5 * time.Millisecond

	e := New(db, sched, newFakeSecretStore(), newFakeObjectStore(), eventbus.New(db, 0, zerolog.Nop()), nil, cfg, zerolog.Nop())
	return e, db, sched
}

func seedPipeline(t *testing.T, db *storagememory.Store, namespaceID, pipelineID string, tasks []models.Task) {
	t.Helper()
	ctx := context.Background()
	if err := db.InsertPipelineMetadata(ctx, models.NewPipelineMetadata(namespaceID, pipelineID)); err != nil {
		t.Fatalf("InsertPipelineMetadata: %v", err)
	}
	cfg := models.NewPipelineConfig(namespaceID, pipelineID, 1)
	cfg.State = models.ConfigStateLive
	cfg.Tasks = tasks
	if err := db.InsertPipelineConfig(ctx, cfg); err != nil {
		t.Fatalf("InsertPipelineConfig: %v", err)
	}
}

func TestStartRunCompletesSingleTaskSuccessfully(t *testing.T) {
	e, db, _ := newTestEngine(t)
	seedPipeline(t, db, "ns", "pl", []models.Task{
		{TaskID: "build", Image: "busybox"},
	})

	run, err := e.StartRun(context.Background(), "ns", "pl", models.Initiator{Kind: models.InitiatorHuman, Name: "alice"}, nil, nil)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	waitForRunComplete(t, db, "ns", "pl", run.RunID)

	got, err := db.GetRun(context.Background(), "ns", "pl", run.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != models.RunStatusSuccessful {
		t.Fatalf("run status = %v, want successful", got.Status)
	}
}

func TestStartRunSkipsDependentOnFailedPredecessor(t *testing.T) {
	e, db, sched := newTestEngine(t)
	seedPipeline(t, db, "ns", "pl", []models.Task{
		{TaskID: "build", Image: "busybox"},
		{TaskID: "deploy", Image: "busybox", DependsOn: map[string]models.RequiredState{"build": models.RequiredStateSuccess}},
	})
	sched.SetOutcome("ns_pl_1_build", scheduler.GetStateResponse{State: scheduler.ContainerStateFailed, ExitCode: 1})

	run, err := e.StartRun(context.Background(), "ns", "pl", models.Initiator{Kind: models.InitiatorHuman, Name: "alice"}, nil, nil)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	waitForRunComplete(t, db, "ns", "pl", run.RunID)

	deploy, err := db.GetTaskExecution(context.Background(), "ns", "pl", run.RunID, "deploy")
	if err != nil {
		t.Fatalf("GetTaskExecution: %v", err)
	}
	if deploy.Status != models.TaskExecutionStatusSkipped {
		t.Fatalf("deploy status = %v, want skipped", deploy.Status)
	}

	got, err := db.GetRun(context.Background(), "ns", "pl", run.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != models.RunStatusFailed {
		t.Fatalf("run status = %v, want failed", got.Status)
	}
}

func TestResolveTaskVariablesLayersOverrides(t *testing.T) {
	e, _, _ := newTestEngine(t)
	run := &models.Run{
		NamespaceID: "ns", PipelineID: "pl", RunID: 1,
		Variables: []models.Variable{{Key: "GREETING", Value: "hi-from-run", Source: models.VariableSourceUser}},
	}
	task := models.Task{
		TaskID:    "build",
		Variables: map[string]string{"GREETING": "hi-from-config", "ONLY_CONFIG": "x"},
	}

	vars, err := e.resolveTaskVariables(context.Background(), run, task)
	if err != nil {
		t.Fatalf("resolveTaskVariables: %v", err)
	}

	byKey := map[string]models.Variable{}
	for _, v := range vars {
		byKey[v.Key] = v
	}

	if byKey["GREETING"].Value != "hi-from-run" {
		t.Fatalf("run-supplied variable should override config value, got %q", byKey["GREETING"].Value)
	}
	if byKey["ONLY_CONFIG"].Value != "x" {
		t.Fatalf("config-only variable missing")
	}
	if byKey["GOFER_TASK_ID"].Value != "build" {
		t.Fatalf("system variable GOFER_TASK_ID missing or wrong")
	}
}

func TestResolveTaskVariablesRespectsWhitelist(t *testing.T) {
	e, _, _ := newTestEngine(t)
	run := &models.Run{
		NamespaceID: "ns", PipelineID: "pl", RunID: 1,
		Variables: []models.Variable{
			{Key: "ALLOWED", Value: "yes"},
			{Key: "BLOCKED", Value: "no"},
		},
	}
	task := models.Task{TaskID: "build", VariableWhitelist: []string{"ALLOWED"}}

	vars, err := e.resolveTaskVariables(context.Background(), run, task)
	if err != nil {
		t.Fatalf("resolveTaskVariables: %v", err)
	}

	for _, v := range vars {
		if v.Key == "BLOCKED" {
			t.Fatalf("BLOCKED variable should have been filtered by the whitelist")
		}
	}
}

func waitForRunComplete(t *testing.T, db *storagememory.Store, namespaceID, pipelineID string, runID int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		run, err := db.GetRun(context.Background(), namespaceID, pipelineID, runID)
		if err == nil && run.State == models.RunStateComplete {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s/%s/%d did not complete in time", namespaceID, pipelineID, runID)
}
