// Package memory provides an in-process fake scheduler.Engine for tests that
// exercise the task execution supervisor without a container runtime.
package memory

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gofer-hq/gofer/internal/scheduler"
)

type container struct {
	state    scheduler.ContainerState
	exitCode int
	logs     string
}

// Engine is a scheduler.Engine backed by an in-memory map. Containers
// transition to ContainerStateSuccess immediately on start unless the test
// pre-seeds a different outcome via SetOutcome.
type Engine struct {
	mu         sync.Mutex
	containers map[string]*container
	outcomes   map[string]scheduler.GetStateResponse
	starts     []scheduler.StartContainerRequest
}

func New() *Engine {
	return &Engine{
		containers: map[string]*container{},
		outcomes:   map[string]scheduler.GetStateResponse{},
	}
}

// SetOutcome pre-seeds the state GetState will report for a given container
// ID once it has been started, letting tests simulate failures or long-running
// containers without waiting on a real clock.
func (e *Engine) SetOutcome(id string, resp scheduler.GetStateResponse) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.outcomes[id] = resp
}

func (e *Engine) Starts() []scheduler.StartContainerRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]scheduler.StartContainerRequest, len(e.starts))
	copy(out, e.starts)
	return out
}

func (e *Engine) StartContainer(req scheduler.StartContainerRequest) (scheduler.StartContainerResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if strings.Contains(req.ImageName, "missing") {
		return scheduler.StartContainerResponse{}, scheduler.ErrNoSuchImage
	}

	e.starts = append(e.starts, req)

	outcome, seeded := e.outcomes[req.ID]
	if !seeded {
		outcome = scheduler.GetStateResponse{State: scheduler.ContainerStateSuccess}
	}

	e.containers[req.ID] = &container{
		state:    outcome.State,
		exitCode: outcome.ExitCode,
		logs:     fmt.Sprintf("fake logs for container %s\n", req.ID),
	}

	return scheduler.StartContainerResponse{SchedulerID: req.ID}, nil
}

func (e *Engine) StopContainer(req scheduler.StopContainerRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.containers[req.SchedulerID]
	if !ok {
		return scheduler.ErrNoSuchContainer
	}
	c.state = scheduler.ContainerStateCancelled
	return nil
}

func (e *Engine) GetState(req scheduler.GetStateRequest) (scheduler.GetStateResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.containers[req.SchedulerID]
	if !ok {
		return scheduler.GetStateResponse{State: scheduler.ContainerStateUnknown}, scheduler.ErrNoSuchContainer
	}
	return scheduler.GetStateResponse{State: c.state, ExitCode: c.exitCode}, nil
}

func (e *Engine) GetLogs(req scheduler.GetLogsRequest) (io.Reader, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.containers[req.SchedulerID]
	if !ok {
		return nil, scheduler.ErrNoSuchContainer
	}
	return strings.NewReader(c.logs), nil
}
