package engine

import (
	"context"

	"github.com/hashicorp/go-multierror"

	"github.com/gofer-hq/gofer/internal/gofererr"
	"github.com/gofer-hq/gofer/internal/models"
	"github.com/gofer-hq/gofer/internal/storage"
)

// RegisterPipelineConfig validates a candidate task graph and persists it as
// the next unreleased version for the pipeline. It never marks a version
// live; promoting a version is a separate, explicit deploy step.
func (e *Engine) RegisterPipelineConfig(ctx context.Context, namespaceID, pipelineID, name, description string, parallelism int64, tasks []models.Task) (*models.PipelineConfig, error) {
	if err := validateTaskGraph(tasks); err != nil {
		return nil, err
	}

	existing, err := e.db.ListPipelineConfigs(ctx, namespaceID, pipelineID, storage.ListOptions{})
	if err != nil {
		return nil, gofererr.Internal("listing existing pipeline config versions", err)
	}

	var nextVersion int64 = 1
	for _, c := range existing {
		if c.Version >= nextVersion {
			nextVersion = c.Version + 1
		}
	}

	pc := models.NewPipelineConfig(namespaceID, pipelineID, nextVersion)
	pc.Name = name
	pc.Description = description
	pc.Parallelism = parallelism
	pc.Tasks = tasks

	for i := range pc.Tasks {
		pc.Tasks[i].NamespaceID = namespaceID
		pc.Tasks[i].PipelineID = pipelineID
		pc.Tasks[i].PipelineConfigVersion = nextVersion
	}

	if err := e.db.InsertPipelineConfig(ctx, pc); err != nil {
		return nil, gofererr.Internal("persisting pipeline config", err)
	}

	return pc, nil
}

// validateTaskGraph aggregates every structural and variable-reference
// problem with a candidate task list into one error, rather than failing on
// the first task encountered, so a caller sees every defect in one pass.
func validateTaskGraph(tasks []models.Task) error {
	var result *multierror.Error

	if _, err := buildGraph(tasks); err != nil {
		result = multierror.Append(result, err)
	}

	for _, t := range tasks {
		if t.TaskID == "" {
			result = multierror.Append(result, gofererr.InvalidArgument("task_id", "must not be empty"))
			continue
		}
		if t.Image == "" {
			result = multierror.Append(result, gofererr.InvalidArgument(t.TaskID, "image must not be empty"))
		}
		if err := validatePipelineConfigVariables(t.Variables); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}
