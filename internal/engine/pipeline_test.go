package engine

import (
	"context"
	"testing"

	"github.com/gofer-hq/gofer/internal/models"
)

func TestRegisterPipelineConfigAssignsFirstVersion(t *testing.T) {
	e, _, _ := newTestEngine(t)

	pc, err := e.RegisterPipelineConfig(context.Background(), "ns", "pl", "my-pipeline", "", 0, []models.Task{
		{TaskID: "build", Image: "busybox"},
	})
	if err != nil {
		t.Fatalf("RegisterPipelineConfig: %v", err)
	}
	if pc.Version != 1 {
		t.Fatalf("Version = %d, want 1", pc.Version)
	}
	if pc.State != models.ConfigStateUnreleased {
		t.Fatalf("State = %v, want unreleased", pc.State)
	}
}

func TestRegisterPipelineConfigIncrementsVersion(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	tasks := []models.Task{{TaskID: "build", Image: "busybox"}}
	if _, err := e.RegisterPipelineConfig(ctx, "ns", "pl", "my-pipeline", "", 0, tasks); err != nil {
		t.Fatalf("RegisterPipelineConfig (v1): %v", err)
	}
	pc2, err := e.RegisterPipelineConfig(ctx, "ns", "pl", "my-pipeline", "", 0, tasks)
	if err != nil {
		t.Fatalf("RegisterPipelineConfig (v2): %v", err)
	}
	if pc2.Version != 2 {
		t.Fatalf("Version = %d, want 2", pc2.Version)
	}
}

func TestRegisterPipelineConfigRejectsCycle(t *testing.T) {
	e, _, _ := newTestEngine(t)

	_, err := e.RegisterPipelineConfig(context.Background(), "ns", "pl", "my-pipeline", "", 0, []models.Task{
		{TaskID: "a", Image: "busybox", DependsOn: map[string]models.RequiredState{"b": models.RequiredStateSuccess}},
		{TaskID: "b", Image: "busybox", DependsOn: map[string]models.RequiredState{"a": models.RequiredStateSuccess}},
	})
	if err == nil {
		t.Fatal("RegisterPipelineConfig should reject a cyclic task graph")
	}
}

func TestRegisterPipelineConfigRejectsGlobalSecretInVariables(t *testing.T) {
	e, _, _ := newTestEngine(t)

	_, err := e.RegisterPipelineConfig(context.Background(), "ns", "pl", "my-pipeline", "", 0, []models.Task{
		{TaskID: "build", Image: "busybox", Variables: map[string]string{"KEY": "global_secret{{shared}}"}},
	})
	if err == nil {
		t.Fatal("RegisterPipelineConfig should reject global_secret references in pipeline-config variables")
	}
}

func TestRegisterPipelineConfigRejectsMissingImage(t *testing.T) {
	e, _, _ := newTestEngine(t)

	_, err := e.RegisterPipelineConfig(context.Background(), "ns", "pl", "my-pipeline", "", 0, []models.Task{
		{TaskID: "build"},
	})
	if err == nil {
		t.Fatal("RegisterPipelineConfig should reject a task with no image")
	}
}
