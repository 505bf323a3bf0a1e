package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/gofer-hq/gofer/internal/dag"
	"github.com/gofer-hq/gofer/internal/events"
	"github.com/gofer-hq/gofer/internal/gofererr"
	"github.com/gofer-hq/gofer/internal/models"
	"github.com/gofer-hq/gofer/internal/storage"
)

// StartRun implements the Run Orchestrator's public contract:
// validates preconditions, atomically reserves a run id and its task
// executions, persists them, and launches the background execution loop.
func (e *Engine) StartRun(ctx context.Context, namespaceID, pipelineID string, initiator models.Initiator, variables []models.Variable, configVersion *int64) (*models.Run, error) {
	meta, err := e.db.GetPipelineMetadata(ctx, namespaceID, pipelineID)
	if err != nil {
		return nil, gofererr.Wrap(err, storage.ErrNotFound, nil, "looking up pipeline")
	}
	if meta.State != models.PipelineStateActive {
		return nil, gofererr.FailedPrecondition(fmt.Sprintf("pipeline %q is not active", pipelineID))
	}

	var cfg *models.PipelineConfig
	if configVersion != nil {
		cfg, err = e.db.GetPipelineConfig(ctx, namespaceID, pipelineID, *configVersion)
	} else {
		cfg, err = e.db.GetLivePipelineConfig(ctx, namespaceID, pipelineID)
	}
	if err != nil {
		return nil, gofererr.Wrap(err, storage.ErrNotFound, nil, "looking up pipeline config")
	}

	if initiator.Kind == models.InitiatorExtension {
		params, err := e.db.GetSystemParameters(ctx)
		if err != nil {
			return nil, gofererr.Internal("loading system parameters", err)
		}
		if params.IgnorePipelineRunEvents {
			return nil, gofererr.FailedPrecondition("ignore_pipeline_run_events is set; extension-initiated runs are suppressed")
		}
	}

	graph, err := buildGraph(cfg.Tasks)
	if err != nil {
		return nil, err
	}

	// The parallelism check and the id reservation must be serialized per
	// pipeline: otherwise two concurrent StartRun calls can both read the
	// same active-run count and both pass the gate before either commits.
	unlock := e.lockPipeline(namespaceID, pipelineID)
	defer unlock()

	if cfg.Parallelism > 0 {
		active, err := e.db.CountActiveRuns(ctx, namespaceID, pipelineID)
		if err != nil {
			return nil, gofererr.Internal("counting active runs", err)
		}
		if int64(active) >= cfg.Parallelism {
			return nil, gofererr.FailedPrecondition(fmt.Sprintf("pipeline %q is at its parallelism limit of %d", pipelineID, cfg.Parallelism))
		}
	}

	var run *models.Run
	var executions []*models.TaskExecution

	err = e.db.Transaction(ctx, func(tx storage.Engine) error {
		runID, err := tx.NextID(ctx, namespaceID, pipelineID, "run")
		if err != nil {
			return err
		}

		run = models.NewRun(namespaceID, pipelineID, runID, cfg.Version, initiator)
		run.Variables = variables
		if err := tx.InsertRun(ctx, run); err != nil {
			return err
		}

		for _, task := range cfg.Tasks {
			te := models.NewTaskExecution(namespaceID, pipelineID, runID, task)
			if err := tx.InsertTaskExecution(ctx, te); err != nil {
				return err
			}
			executions = append(executions, te)
		}

		return nil
	})
	if err != nil {
		return nil, gofererr.Internal("reserving run", err)
	}

	if _, err := e.bus.Publish(ctx, events.StartedRun{
		NamespaceID: namespaceID, PipelineID: pipelineID, RunID: run.RunID,
	}); err != nil {
		e.log.Warn().Err(err).Msg("could not publish StartedRun event")
	}

	ar := &activeRun{
		completed:  map[string]dag.Completion{},
		graph:      graph,
		cancelCh:   make(chan struct{}),
		taskDoneCh: make(chan struct{}, len(executions)+1),
	}
	e.active.Set(runKey(namespaceID, pipelineID, run.RunID), ar)

	go e.runLoop(context.Background(), run, cfg, ar)

	return run, nil
}

func buildGraph(tasks []models.Task) (*dag.Graph, error) {
	g := dag.New()
	for _, t := range tasks {
		depends := make(map[string]dag.RequiredState, len(t.DependsOn))
		for pred, required := range t.DependsOn {
			state, err := toDagRequiredState(required)
			if err != nil {
				return nil, gofererr.InvalidArgument(t.TaskID, err.Error())
			}
			depends[pred] = state
		}
		if err := g.AddTask(t.TaskID, depends); err != nil {
			return nil, gofererr.InvalidArgument(t.TaskID, err.Error())
		}
	}
	if err := g.Validate(); err != nil {
		return nil, gofererr.InvalidArgument("tasks", err.Error())
	}
	return g, nil
}

// toDagRequiredState translates the model layer's lowercase RequiredState
// values into the dag package's uppercase ones; the two are kept as distinct
// types so internal/models has no dependency on internal/dag.
func toDagRequiredState(r models.RequiredState) (dag.RequiredState, error) {
	switch r {
	case models.RequiredStateAny:
		return dag.RequiredStateAny, nil
	case models.RequiredStateSuccess:
		return dag.RequiredStateSuccess, nil
	case models.RequiredStateFailure:
		return dag.RequiredStateFailure, nil
	default:
		return "", fmt.Errorf("unknown required state %q", r)
	}
}

// runLoop drives one run to completion: classify, skip, dispatch, await,
// repeat.
func (e *Engine) runLoop(ctx context.Context, run *models.Run, cfg *models.PipelineConfig, ar *activeRun) {
	defer e.active.Delete(runKey(run.NamespaceID, run.PipelineID, run.RunID))

	tasksByID := make(map[string]models.Task, len(cfg.Tasks))
	for _, t := range cfg.Tasks {
		tasksByID[t.TaskID] = t
	}

	dispatched := map[string]bool{}

	for {
		ar.mu.Lock()
		done := len(ar.completed) == len(cfg.Tasks)
		ready, skipped, _ := ar.graph.Classify(ar.completed)
		cancelled := ar.cancelled
		ar.mu.Unlock()

		if done {
			break
		}

		// Classify reports in-flight tasks as ready until they complete; keep
		// only those not yet dispatched.
		pending := ready[:0]
		for _, taskID := range ready {
			if !dispatched[taskID] {
				pending = append(pending, taskID)
			}
		}
		ready = pending

		for _, taskID := range skipped {
			e.finalizeSkipped(ctx, run, tasksByID[taskID], ar)
		}

		if cancelled {
			for _, taskID := range ready {
				e.finalizeCancelledBeforeStart(ctx, run, tasksByID[taskID], ar)
			}
			if len(ready) == 0 && len(skipped) == 0 {
				// nothing newly resolvable; wait for in-flight tasks to unwind
				select {
				case <-ar.taskDoneCh:
				case <-time.After(2 * time.Second):
				}
				continue
			}
			continue
		}

		for _, taskID := range ready {
			if dispatched[taskID] {
				continue
			}
			dispatched[taskID] = true
			go e.runTask(ctx, run, tasksByID[taskID], ar)
		}

		if len(ready) == 0 && len(skipped) == 0 {
			select {
			case <-ar.taskDoneCh:
			case <-time.After(2 * time.Second):
			}
		}
	}

	executions, err := e.db.ListTaskExecutions(ctx, run.NamespaceID, run.PipelineID, run.RunID)
	if err != nil {
		e.log.Error().Err(err).Msg("could not list task executions to finalize run")
		return
	}

	run.Complete(executions)
	if err := e.db.UpdateRun(ctx, run); err != nil {
		e.log.Error().Err(err).Msg("could not persist completed run")
	}

	if _, err := e.bus.Publish(ctx, events.CompletedRun{
		NamespaceID: run.NamespaceID, PipelineID: run.PipelineID, RunID: run.RunID, Status: string(run.Status),
	}); err != nil {
		e.log.Warn().Err(err).Msg("could not publish CompletedRun event")
	}
}

func (e *Engine) finalizeSkipped(ctx context.Context, run *models.Run, task models.Task, ar *activeRun) {
	te, err := e.db.GetTaskExecution(ctx, run.NamespaceID, run.PipelineID, run.RunID, task.TaskID)
	if err != nil {
		e.log.Error().Err(err).Str("task_id", task.TaskID).Msg("could not load task execution to skip")
		return
	}

	now := time.Now().UnixMilli()
	te.State = models.TaskExecutionStateComplete
	te.Status = models.TaskExecutionStatusSkipped
	te.StatusReason = models.StatusReason{
		Kind:        models.StatusReasonFailedPrecondition,
		Description: "predecessor did not satisfy required_state",
	}
	te.Ended = &now

	if err := e.db.UpdateTaskExecution(ctx, te); err != nil {
		e.log.Error().Err(err).Str("task_id", task.TaskID).Msg("could not persist skipped task execution")
		return
	}

	e.markComplete(ar, task.TaskID, dag.OutcomeSkipped)

	if _, err := e.bus.Publish(ctx, events.CompletedTaskExecution{
		NamespaceID: run.NamespaceID, PipelineID: run.PipelineID, RunID: run.RunID, TaskExecutionID: task.TaskID, Status: string(te.Status),
	}); err != nil {
		e.log.Warn().Err(err).Msg("could not publish CompletedTaskExecution event")
	}
}

func (e *Engine) finalizeCancelledBeforeStart(ctx context.Context, run *models.Run, task models.Task, ar *activeRun) {
	te, err := e.db.GetTaskExecution(ctx, run.NamespaceID, run.PipelineID, run.RunID, task.TaskID)
	if err != nil {
		e.log.Error().Err(err).Str("task_id", task.TaskID).Msg("could not load task execution to cancel")
		return
	}

	now := time.Now().UnixMilli()
	te.State = models.TaskExecutionStateComplete
	te.Status = models.TaskExecutionStatusCancelled
	te.StatusReason = models.StatusReason{Kind: models.StatusReasonCancelled, Description: "run was cancelled before this task started"}
	te.Ended = &now

	if err := e.db.UpdateTaskExecution(ctx, te); err != nil {
		e.log.Error().Err(err).Str("task_id", task.TaskID).Msg("could not persist cancelled task execution")
		return
	}

	e.markComplete(ar, task.TaskID, dag.OutcomeCancelled)

	if _, err := e.bus.Publish(ctx, events.CompletedTaskExecution{
		NamespaceID: run.NamespaceID, PipelineID: run.PipelineID, RunID: run.RunID, TaskExecutionID: task.TaskID, Status: string(te.Status),
	}); err != nil {
		e.log.Warn().Err(err).Msg("could not publish CompletedTaskExecution event")
	}
}

func (e *Engine) markComplete(ar *activeRun, taskID string, outcome dag.Outcome) {
	ar.mu.Lock()
	ar.completed[taskID] = dag.Completion{Done: true, Outcome: outcome}
	ar.mu.Unlock()

	select {
	case ar.taskDoneCh <- struct{}{}:
	default:
	}
}

// CancelRun marks a run for cancellation and stops every running task
// execution; tasks not yet started are finalized as cancelled without being
// dispatched.
func (e *Engine) CancelRun(ctx context.Context, namespaceID, pipelineID string, runID int64, reason string) error {
	ar, ok := e.active.Get(runKey(namespaceID, pipelineID, runID))
	if !ok {
		return gofererr.FailedPrecondition("run is not active")
	}

	ar.mu.Lock()
	alreadyCancelled := ar.cancelled
	ar.cancelled = true
	ar.mu.Unlock()

	if alreadyCancelled {
		return nil
	}

	close(ar.cancelCh)

	if _, err := e.bus.Publish(ctx, events.StartedRunCancellation{
		NamespaceID: namespaceID, PipelineID: pipelineID, RunID: runID, Reason: reason,
	}); err != nil {
		e.log.Warn().Err(err).Msg("could not publish StartedRunCancellation event")
	}

	return nil
}
