package engine

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gofer-hq/gofer/internal/dag"
	"github.com/gofer-hq/gofer/internal/events"
	"github.com/gofer-hq/gofer/internal/gofererr"
	"github.com/gofer-hq/gofer/internal/models"
	"github.com/gofer-hq/gofer/internal/scheduler"
)

const runTokenBytes = 32

// runTokenTTL bounds the lifetime of an auto-injected GOFER_API_TOKEN; it
// outlives almost every task but is never treated as a long-lived credential.
const runTokenTTL = 6 * time.Hour

// startContainerMaxAttempts bounds how many times start_container is
// attempted on transient scheduler errors before the task execution is failed.
const startContainerMaxAttempts = 3

// startContainerBaseBackoff is the delay before the first start_container
// retry; it doubles on each subsequent attempt.
const startContainerBaseBackoff = 500 * time.Millisecond

// runTask drives one task execution from processing through a terminal
// status. It is launched once per ready task by runLoop and
// always calls e.markComplete before returning, regardless of outcome.
func (e *Engine) runTask(ctx context.Context, run *models.Run, task models.Task, ar *activeRun) {
	te, err := e.db.GetTaskExecution(ctx, run.NamespaceID, run.PipelineID, run.RunID, task.TaskID)
	if err != nil {
		e.log.Error().Err(err).Str("task_id", task.TaskID).Msg("could not load task execution to start")
		e.markComplete(ar, task.TaskID, dag.OutcomeFailed)
		return
	}

	vars, err := e.resolveTaskVariables(ctx, run, task)
	if err != nil {
		e.failTask(ctx, run, te, models.StatusReasonFailedPrecondition, err.Error())
		e.markComplete(ar, task.TaskID, dag.OutcomeFailed)
		return
	}

	if task.InjectAPIToken {
		rawToken, err := e.mintRunToken(ctx, run)
		if err != nil {
			e.failTask(ctx, run, te, models.StatusReasonFailedPrecondition, fmt.Sprintf("minting api token: %v", err))
			e.markComplete(ar, task.TaskID, dag.OutcomeFailed)
			return
		}
		vars = append(vars, models.Variable{
			Key: "GOFER_API_TOKEN", Value: rawToken,
			Source: models.VariableSourceSystem, Sensitivity: models.SensitivityPrivate,
		})
	}

	te.Variables = vars
	te.State = models.TaskExecutionStateRunning
	if err := e.db.UpdateTaskExecution(ctx, te); err != nil {
		e.log.Error().Err(err).Str("task_id", task.TaskID).Msg("could not persist task execution before start")
	}

	envVars := make(map[string]string, len(vars))
	for _, v := range vars {
		envVars[v.Key] = v.Value
	}

	req := scheduler.StartContainerRequest{
		ID:         containerName(run.NamespaceID, run.PipelineID, run.RunID, task.TaskID),
		ImageName:  task.Image,
		EnvVars:    envVars,
		AlwaysPull: task.AlwaysPullNewestImage,
	}
	if task.RegistryAuth != nil {
		req.RegistryUser = task.RegistryAuth.User
		req.RegistryPass = task.RegistryAuth.Pass
	}

	resp, err := e.startContainerWithRetry(ctx, req)
	if err != nil {
		e.failTask(ctx, run, te, models.StatusReasonSchedulerError, err.Error())
		e.markComplete(ar, task.TaskID, dag.OutcomeFailed)
		return
	}

	now := time.Now().UnixMilli()
	te.SchedulerID = resp.SchedulerID
	te.Started = &now
	if err := e.db.UpdateTaskExecution(ctx, te); err != nil {
		e.log.Error().Err(err).Str("task_id", task.TaskID).Msg("could not persist running task execution")
	}

	if _, err := e.bus.Publish(ctx, events.StartedTaskExecution{
		NamespaceID: run.NamespaceID, PipelineID: run.PipelineID, RunID: run.RunID, TaskExecutionID: task.TaskID,
	}); err != nil {
		e.log.Warn().Err(err).Msg("could not publish StartedTaskExecution event")
	}

	go e.streamLogs(ctx, ar, run, task, resp.SchedulerID)

	reason, exitCode := e.pollUntilExit(ctx, ar, task, resp.SchedulerID)

	now = time.Now().UnixMilli()
	te.Ended = &now
	te.ExitCode = exitCode
	te.State = models.TaskExecutionStateComplete
	te.Status, te.StatusReason = reason.status, reason.reason

	if err := e.db.UpdateTaskExecution(ctx, te); err != nil {
		e.log.Error().Err(err).Str("task_id", task.TaskID).Msg("could not persist completed task execution")
	}

	e.markComplete(ar, task.TaskID, toOutcome(te.Status))

	if _, err := e.bus.Publish(ctx, events.CompletedTaskExecution{
		NamespaceID: run.NamespaceID, PipelineID: run.PipelineID, RunID: run.RunID, TaskExecutionID: task.TaskID, Status: string(te.Status),
	}); err != nil {
		e.log.Warn().Err(err).Msg("could not publish CompletedTaskExecution event")
	}
}

// startContainerWithRetry retries start_container up to
// startContainerMaxAttempts times with doubling backoff when the scheduler
// reports a transient error. ErrNoSuchImage is treated as permanent and
// returned immediately, since retrying can't make a missing image appear.
func (e *Engine) startContainerWithRetry(ctx context.Context, req scheduler.StartContainerRequest) (scheduler.StartContainerResponse, error) {
	backoff := startContainerBaseBackoff
	var lastErr error

	for attempt := 1; attempt <= startContainerMaxAttempts; attempt++ {
		resp, err := e.sched.StartContainer(req)
		if err == nil {
			return resp, nil
		}
		if errors.Is(err, scheduler.ErrNoSuchImage) {
			return scheduler.StartContainerResponse{}, err
		}

		lastErr = err
		if attempt == startContainerMaxAttempts {
			break
		}

		e.log.Warn().Err(err).Int("attempt", attempt).Str("task_id", req.ID).Msg("start_container failed, retrying")
		select {
		case <-ctx.Done():
			return scheduler.StartContainerResponse{}, lastErr
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return scheduler.StartContainerResponse{}, gofererr.Unavailable(fmt.Sprintf("start_container failed after %d attempts", startContainerMaxAttempts), lastErr)
}

// resolveTaskVariables layers variables in priority order: config
// variables, then run-supplied variables (filtered by the task's whitelist,
// if any), then system variables, each pass overriding the last by key.
// Reference resolution (pipeline_secret{{...}} and friends) is applied to
// every config and run-supplied value before the override merge.
func (e *Engine) resolveTaskVariables(ctx context.Context, run *models.Run, task models.Task) ([]models.Variable, error) {
	configScope := resolveScope{namespaceID: run.NamespaceID, pipelineID: run.PipelineID, runID: run.RunID, allowGlobalSecret: false}
	runScope := configScope
	runScope.allowGlobalSecret = true

	merged := map[string]models.Variable{}

	for key, value := range task.Variables {
		resolved, err := e.resolve(ctx, value, configScope)
		if err != nil {
			return nil, fmt.Errorf("resolving task variable %q: %w", key, err)
		}
		merged[key] = models.Variable{Key: key, Value: resolved, Source: models.VariableSourcePipelineConfig, Sensitivity: models.SensitivityPublic}
	}

	whitelist := map[string]bool{}
	for _, k := range task.VariableWhitelist {
		whitelist[k] = true
	}

	for _, v := range run.Variables {
		if len(task.VariableWhitelist) > 0 && !whitelist[v.Key] {
			continue
		}
		resolved, err := e.resolve(ctx, v.Value, runScope)
		if err != nil {
			return nil, fmt.Errorf("resolving run variable %q: %w", v.Key, err)
		}
		v.Value = resolved
		merged[v.Key] = v
	}

	system := map[string]string{
		"GOFER_NAMESPACE_ID": run.NamespaceID,
		"GOFER_PIPELINE_ID":  run.PipelineID,
		"GOFER_RUN_ID":       fmt.Sprint(run.RunID),
		"GOFER_TASK_ID":      task.TaskID,
	}
	for key, value := range system {
		merged[key] = models.Variable{Key: key, Value: value, Source: models.VariableSourceSystem, Sensitivity: models.SensitivityPublic}
	}

	out := make([]models.Variable, 0, len(merged))
	for _, v := range merged {
		out = append(out, v)
	}
	return out, nil
}

// mintRunToken generates a short-lived, run-scoped bearer and persists only
// its hash. The raw value is returned once and never
// stored.
func (e *Engine) mintRunToken(ctx context.Context, run *models.Run) (string, error) {
	raw := make([]byte, runTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	rawToken := hex.EncodeToString(raw)

	sum := sha256.Sum256([]byte(rawToken))
	expires := time.Now().Add(runTokenTTL).UnixMilli()

	token := &models.Token{
		Hash:       hex.EncodeToString(sum[:]),
		Kind:       models.TokenKindRun,
		Namespaces: []string{run.NamespaceID},
		Metadata:   map[string]string{"pipeline_id": run.PipelineID, "run_id": fmt.Sprint(run.RunID)},
		Created:    time.Now().UnixMilli(),
		Expires:    &expires,
	}
	if err := e.db.InsertToken(ctx, token); err != nil {
		return "", err
	}
	return rawToken, nil
}

// streamLogs copies a task execution's combined container output to the
// configured log directory. It reconnects on a transient get_logs error
// (scheduler restart, dropped connection), starting from start_container's
// base backoff and doubling up to PollMaxInterval, until the container is
// gone, the log stream ends
// cleanly, or the run is cancelled. Failures here never affect run progress.
func (e *Engine) streamLogs(ctx context.Context, ar *activeRun, run *models.Run, task models.Task, schedulerID string) {
	path := fmt.Sprintf("%s/%s_%s_%d_%s", e.cfg.LogDir, run.NamespaceID, run.PipelineID, run.RunID, task.TaskID)
	f, err := e.openLogFile(path)
	if err != nil {
		e.log.Warn().Err(err).Str("path", path).Msg("could not create task execution log file")
		return
	}
	defer f.Close()

	backoff := startContainerBaseBackoff
	for {
		r, err := e.sched.GetLogs(scheduler.GetLogsRequest{SchedulerID: schedulerID})
		if err != nil {
			if errors.Is(err, scheduler.ErrNoSuchContainer) {
				e.log.Warn().Err(err).Str("task_id", task.TaskID).Msg("could not open task execution logs: container gone")
				return
			}
			e.log.Warn().Err(err).Str("task_id", task.TaskID).Msg("could not open task execution logs, reconnecting")
			if !e.waitReconnect(ctx, ar, &backoff) {
				return
			}
			continue
		}

		_, err = io.Copy(f, r)
		if err == nil || errors.Is(err, io.EOF) {
			return
		}

		e.log.Warn().Err(err).Str("task_id", task.TaskID).Msg("task execution log stream ended with an error, reconnecting")
		if !e.waitReconnect(ctx, ar, &backoff) {
			return
		}
	}
}

// waitReconnect pauses for the current backoff (doubling it, capped at
// PollMaxInterval) before a reconnect attempt. It returns false if ctx is
// cancelled or the run is cancelled first, signalling the caller to give up.
func (e *Engine) waitReconnect(ctx context.Context, ar *activeRun, backoff *time.Duration) bool {
	maxInterval := e.cfg.PollMaxInterval
	if maxInterval <= 0 {
		maxInterval = 2 * time.Second
	}

	select {
	case <-ctx.Done():
		return false
	case <-ar.cancelCh:
		return false
	case <-time.After(*backoff):
	}

	if *backoff < maxInterval {
		*backoff *= 2
		if *backoff > maxInterval {
			*backoff = maxInterval
		}
	}
	return true
}

func (e *Engine) openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.Create(path)
}

// completionReason bundles the terminal status and its structured reason, so
// pollUntilExit can return a single value covering the five
// classification rules.
type completionReason struct {
	status models.TaskExecutionStatus
	reason models.StatusReason
}

func cancelledReason() completionReason {
	return completionReason{models.TaskExecutionStatusCancelled, models.StatusReason{Kind: models.StatusReasonCancelled, Description: "run was cancelled"}}
}

func successReason() completionReason {
	return completionReason{models.TaskExecutionStatusSuccessful, models.StatusReason{Kind: models.StatusReasonUnknown}}
}

func abnormalExitReason(description string) completionReason {
	return completionReason{models.TaskExecutionStatusFailed, models.StatusReason{Kind: models.StatusReasonAbnormalExit, Description: description}}
}

func schedulerErrorReason(description string) completionReason {
	return completionReason{models.TaskExecutionStatusFailed, models.StatusReason{Kind: models.StatusReasonSchedulerError, Description: description}}
}

func orphanedReason() completionReason {
	return completionReason{models.TaskExecutionStatusFailed, models.StatusReason{Kind: models.StatusReasonOrphaned, Description: "scheduler lost the container before it reported an exit"}}
}

// pollUntilExit polls scheduler state with a capped exponential backoff
// until the container exits, the run is cancelled, or the task's timeout
// elapses. It returns nil
// exitCode when the terminal status carries none.
func (e *Engine) pollUntilExit(ctx context.Context, ar *activeRun, task models.Task, schedulerID string) (completionReason, *int64) {
	interval := e.cfg.PollMinInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	maxInterval := e.cfg.PollMaxInterval
	if maxInterval <= 0 {
		maxInterval = 2 * time.Second
	}

	var deadline <-chan time.Time
	if timeout := taskTimeout(task, e.cfg.DefaultTaskTimeout); timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case <-ar.cancelCh:
			_ = e.sched.StopContainer(scheduler.StopContainerRequest{SchedulerID: schedulerID, Timeout: 10 * time.Second})
			return cancelledReason(), nil

		case <-deadline:
			_ = e.sched.StopContainer(scheduler.StopContainerRequest{SchedulerID: schedulerID, Timeout: 10 * time.Second})
			return abnormalExitReason("timeout"), nil

		case <-time.After(interval):
		}

		state, err := e.sched.GetState(scheduler.GetStateRequest{SchedulerID: schedulerID})
		if err != nil {
			if errors.Is(err, scheduler.ErrNoSuchContainer) {
				return orphanedReason(), nil
			}

			// Transient scheduler error: reconnect indefinitely, with the
			// same capped backoff as a running container, until the
			// container reports a terminal state or the run is cancelled.
			e.log.Warn().Err(err).Str("task_id", task.TaskID).Msg("get_state failed, reconnecting")
			if interval < maxInterval {
				interval *= 2
				if interval > maxInterval {
					interval = maxInterval
				}
			}
			continue
		}

		switch state.State {
		case scheduler.ContainerStateRunning, scheduler.ContainerStateUnknown:
			if interval < maxInterval {
				interval *= 2
				if interval > maxInterval {
					interval = maxInterval
				}
			}
			continue

		case scheduler.ContainerStateCancelled:
			return cancelledReason(), nil

		case scheduler.ContainerStateSuccess:
			exitCode := int64(state.ExitCode)
			return successReason(), &exitCode

		case scheduler.ContainerStateFailed:
			exitCode := int64(state.ExitCode)
			return abnormalExitReason(fmt.Sprintf("container exited with code %d", state.ExitCode)), &exitCode

		default:
			return schedulerErrorReason(fmt.Sprintf("unrecognized scheduler state %q", state.State)), nil
		}
	}
}

func taskTimeout(task models.Task, defaultTimeout time.Duration) time.Duration {
	if task.TimeoutSeconds != nil {
		return time.Duration(*task.TimeoutSeconds) * time.Second
	}
	return defaultTimeout
}

func toOutcome(status models.TaskExecutionStatus) dag.Outcome {
	switch status {
	case models.TaskExecutionStatusSuccessful:
		return dag.OutcomeSuccessful
	case models.TaskExecutionStatusCancelled:
		return dag.OutcomeCancelled
	case models.TaskExecutionStatusSkipped:
		return dag.OutcomeSkipped
	default:
		return dag.OutcomeFailed
	}
}

// failTask finalizes a task execution whose container never started
// (variable resolution, token minting, or start_container itself failed).
func (e *Engine) failTask(ctx context.Context, run *models.Run, te *models.TaskExecution, kind models.StatusReasonKind, description string) {
	now := time.Now().UnixMilli()
	te.State = models.TaskExecutionStateComplete
	te.Status = models.TaskExecutionStatusFailed
	te.StatusReason = models.StatusReason{Kind: kind, Description: description}
	te.Ended = &now

	if err := e.db.UpdateTaskExecution(context.Background(), te); err != nil {
		e.log.Error().Err(err).Str("task_id", te.TaskID).Msg("could not persist failed task execution")
	}

	if _, err := e.bus.Publish(context.Background(), events.CompletedTaskExecution{
		NamespaceID: run.NamespaceID, PipelineID: run.PipelineID, RunID: run.RunID, TaskExecutionID: te.TaskID, Status: string(te.Status),
	}); err != nil {
		e.log.Warn().Err(err).Msg("could not publish CompletedTaskExecution event")
	}
}
