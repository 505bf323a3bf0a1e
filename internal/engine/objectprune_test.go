package engine

import (
	"context"
	"testing"

	"github.com/gofer-hq/gofer/internal/models"
)

func seedNamespace(t *testing.T, e *Engine, namespaceID string) {
	t.Helper()
	if err := e.db.InsertNamespace(context.Background(), models.NewNamespace(namespaceID, namespaceID, "")); err != nil {
		t.Fatalf("InsertNamespace: %v", err)
	}
}

func seedPipelineObject(t *testing.T, e *Engine, namespaceID, pipelineID, key string, created int64) {
	t.Helper()
	ctx := context.Background()

	if err := e.objects.Put(pipelineObjectKey(namespaceID, pipelineID, key), []byte("v")); err != nil {
		t.Fatalf("objects.Put: %v", err)
	}
	ok := &models.ObjectKey{
		NamespaceID: namespaceID,
		PipelineID:  pipelineID,
		Scope:       models.ObjectScopePipeline,
		Key:         key,
		Created:     created,
	}
	if err := e.db.InsertObjectKey(ctx, ok); err != nil {
		t.Fatalf("InsertObjectKey: %v", err)
	}
}

func TestPruneObjectsEvictsOldestBeyondRetentionCount(t *testing.T) {
	e, db, _ := newTestEngine(t)
	e.cfg.ObjectRetentionCount = 2

	seedNamespace(t, e, "ns")
	seedPipeline(t, db, "ns", "pl", nil)

	seedPipelineObject(t, e, "ns", "pl", "oldest", 100)
	seedPipelineObject(t, e, "ns", "pl", "middle", 200)
	seedPipelineObject(t, e, "ns", "pl", "newest", 300)

	evicted, err := e.pruneObjects(context.Background())
	if err != nil {
		t.Fatalf("pruneObjects: %v", err)
	}
	if evicted != 1 {
		t.Fatalf("evicted = %d, want 1", evicted)
	}

	remaining, err := db.ListObjectKeys(context.Background(), "ns", "pl", models.ObjectScopePipeline, nil)
	if err != nil {
		t.Fatalf("ListObjectKeys: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("remaining object keys = %d, want 2", len(remaining))
	}
	for _, k := range remaining {
		if k.Key == "oldest" {
			t.Fatalf("expected the oldest object key to be evicted, found it still present")
		}
	}

	if _, err := e.objects.Get(pipelineObjectKey("ns", "pl", "oldest")); err == nil {
		t.Fatal("expected the evicted object's bytes to be deleted from the object store")
	}
}

func TestPruneObjectsNoopBelowRetentionCount(t *testing.T) {
	e, db, _ := newTestEngine(t)
	e.cfg.ObjectRetentionCount = 5

	seedNamespace(t, e, "ns")
	seedPipeline(t, db, "ns", "pl", nil)
	seedPipelineObject(t, e, "ns", "pl", "only", 100)

	evicted, err := e.pruneObjects(context.Background())
	if err != nil {
		t.Fatalf("pruneObjects: %v", err)
	}
	if evicted != 0 {
		t.Fatalf("evicted = %d, want 0", evicted)
	}
}

func TestPruneObjectsDisabledWhenRetentionCountIsZero(t *testing.T) {
	e, db, _ := newTestEngine(t)
	e.cfg.ObjectRetentionCount = 0

	seedNamespace(t, e, "ns")
	seedPipeline(t, db, "ns", "pl", nil)
	seedPipelineObject(t, e, "ns", "pl", "only", 100)

	evicted, err := e.pruneObjects(context.Background())
	if err != nil {
		t.Fatalf("pruneObjects: %v", err)
	}
	if evicted != 0 {
		t.Fatalf("evicted = %d, want 0 when ObjectRetentionCount is 0", evicted)
	}
}
