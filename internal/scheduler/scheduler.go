// Package scheduler defines the Scheduler Port (C3): the interface Gofer uses
// to launch, poll, and tear down the containers that back task executions.
package scheduler

import (
	"errors"
	"io"
	"time"
)

var (
	// ErrNoSuchContainer is returned when a container requested could not be located on the scheduler.
	ErrNoSuchContainer = errors.New("scheduler: container not found")

	// ErrNoSuchImage is returned when the requested container image could not be pulled.
	ErrNoSuchImage = errors.New("scheduler: image not found")
)

// ContainerState is the scheduler-observed lifecycle state of a container,
// independent of the higher-level task execution state machine.
type ContainerState string

const (
	ContainerStateUnknown   ContainerState = "unknown"
	ContainerStateRunning   ContainerState = "running"
	ContainerStateSuccess   ContainerState = "success"
	ContainerStateFailed    ContainerState = "failed"
	ContainerStateCancelled ContainerState = "cancelled"
)

type StartContainerRequest struct {
	ID        string            // caller-chosen container name; the scheduler's own id comes back as SchedulerID
	ImageName string            // image repository reference; may include a tag
	EnvVars   map[string]string // environment variables passed to the container
	Secrets   map[string]string // secret keys requested by the container; neither the docker nor the in-memory scheduler reads this field

	RegistryUser string
	RegistryPass string

	// AlwaysPull forces a pull even if an image with the same reference already exists locally.
	AlwaysPull bool

	// EnableNetworking exposes the container on the docker bridge network so extensions can be reached via RPC.
	EnableNetworking bool
}

type StartContainerResponse struct {
	SchedulerID string // opaque identifier used to refer to the container in subsequent calls
	URL         string // reachable address, set only when EnableNetworking was requested
}

type StopContainerRequest struct {
	SchedulerID string
	Timeout     time.Duration // grace period before a SIGKILL is issued
}

type GetStateRequest struct {
	SchedulerID string
}

type GetStateResponse struct {
	ExitCode int
	State    ContainerState
}

type GetLogsRequest struct {
	SchedulerID string
}

// Engine is the Scheduler Port. Implementations translate these calls into
// whatever container runtime backs a Gofer installation.
type Engine interface {
	StartContainer(req StartContainerRequest) (StartContainerResponse, error)
	StopContainer(req StopContainerRequest) error
	GetState(req GetStateRequest) (GetStateResponse, error)

	// GetLogs streams combined stdout/stderr. The returned reader is closed
	// (io.EOF) by the implementation once the container's log stream ends.
	GetLogs(req GetLogsRequest) (io.Reader, error)
}
