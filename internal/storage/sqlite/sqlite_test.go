package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/gofer-hq/gofer/internal/models"
	"github.com/gofer-hq/gofer/internal/storage"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gofer.db")
	db, err := New(path)
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNamespaceRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	ns := models.NewNamespace("default", "Default", "the default namespace")
	if err := db.InsertNamespace(ctx, ns); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := db.GetNamespace(ctx, "default")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != ns.Name || got.Created != ns.Created {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, ns)
	}

	if err := db.InsertNamespace(ctx, ns); err != storage.ErrExists {
		t.Fatalf("expected ErrExists on duplicate insert, got %v", err)
	}

	if err := db.DeleteNamespace(ctx, "default"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.GetNamespace(ctx, "default"); err != storage.ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestNextIDIsMonotonicPerPipeline(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := db.NextID(ctx, "ns", "pl", "run")
		if err != nil {
			t.Fatalf("next id: %v", err)
		}
		if got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
	}

	// A different pipeline has its own independent counter.
	got, err := db.NextID(ctx, "ns", "other", "run")
	if err != nil {
		t.Fatalf("next id: %v", err)
	}
	if got != 1 {
		t.Fatalf("expected independent counter to start at 1, got %d", got)
	}
}

func TestRunAndTaskExecutionRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	run := models.NewRun("ns", "pl", 1, 1, models.Initiator{Kind: models.InitiatorHuman, Name: "alice"})
	if err := db.InsertRun(ctx, run); err != nil {
		t.Fatalf("insert run: %v", err)
	}

	task := models.Task{TaskID: "build", Image: "alpine"}
	te := models.NewTaskExecution("ns", "pl", 1, task)
	if err := db.InsertTaskExecution(ctx, te); err != nil {
		t.Fatalf("insert task execution: %v", err)
	}

	te.State = models.TaskExecutionStateRunning
	te.Status = models.TaskExecutionStatusSuccessful
	if err := db.UpdateTaskExecution(ctx, te); err != nil {
		t.Fatalf("update task execution: %v", err)
	}

	got, err := db.GetTaskExecution(ctx, "ns", "pl", 1, "build")
	if err != nil {
		t.Fatalf("get task execution: %v", err)
	}
	if got.State != models.TaskExecutionStateRunning || got.TaskSnapshot.Image != "alpine" {
		t.Fatalf("unexpected task execution after round trip: %+v", got)
	}

	run.Complete([]models.TaskExecution{*got})
	if err := db.UpdateRun(ctx, run); err != nil {
		t.Fatalf("update run: %v", err)
	}

	gotRun, err := db.GetRun(ctx, "ns", "pl", 1)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if gotRun.State != models.RunStateComplete || gotRun.Status != models.RunStatusSuccessful {
		t.Fatalf("unexpected run after completion: %+v", gotRun)
	}
}

func TestTransactionRollsBackOnError(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	wantErr := storage.ErrInternal
	err := db.Transaction(ctx, func(tx storage.Engine) error {
		if err := tx.InsertNamespace(ctx, models.NewNamespace("tmp", "Temp", "")); err != nil {
			return err
		}
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("expected transaction to surface callback error, got %v", err)
	}

	if _, err := db.GetNamespace(ctx, "tmp"); err != storage.ErrNotFound {
		t.Fatalf("expected insert to be rolled back, got err=%v", err)
	}
}
