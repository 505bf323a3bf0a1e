// Package docker implements scheduler.Engine against a local docker daemon,
// using the docker engine API client.
package docker

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/rs/zerolog"

	"github.com/gofer-hq/gofer/internal/scheduler"
	"github.com/gofer-hq/gofer/internal/syncx"
)

const extensionPort = "8080/tcp"

// Orchestrator schedules task executions as local docker containers.
type Orchestrator struct {
	client    *client.Client
	log       zerolog.Logger
	cancelled *syncx.Map[string, time.Time]
}

// New connects to the local docker daemon. If prune is true, a background
// loop periodically removes stopped containers every pruneInterval.
func New(prune bool, pruneInterval time.Duration, log zerolog.Logger) (*Orchestrator, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("scheduler: creating docker client: %w", err)
	}

	if _, err := cli.Info(context.Background()); err != nil {
		return nil, fmt.Errorf("scheduler: could not connect to docker daemon: %w", err)
	}

	orch := &Orchestrator{
		client:    cli,
		log:       log,
		cancelled: syncx.NewMap[string, time.Time](),
	}

	if prune {
		go orch.pruneLoop(pruneInterval)
	}
	go orch.reapCancellationsLoop()

	return orch, nil
}

func (o *Orchestrator) pruneLoop(interval time.Duration) {
	for {
		report, err := o.client.ContainersPrune(context.Background(), filters.Args{})
		if err != nil {
			o.log.Debug().Err(err).Msg("could not prune containers")
		} else {
			o.log.Debug().Int("containers_deleted", len(report.ContainersDeleted)).
				Uint64("space_reclaimed", report.SpaceReclaimed).Msg("pruned containers")
		}
		time.Sleep(interval)
	}
}

// reapCancellationsLoop drops cancellation markers that GetState never
// collected, so the map doesn't grow without bound across long-lived runs.
func (o *Orchestrator) reapCancellationsLoop() {
	for {
		time.Sleep(24 * time.Hour)
		cutoff := time.Now().AddDate(0, 0, -1)
		for id, insertedAt := range o.cancelled.Snapshot() {
			if insertedAt.Before(cutoff) {
				o.cancelled.Delete(id)
			}
		}
	}
}

func (o *Orchestrator) StartContainer(req scheduler.StartContainerRequest) (scheduler.StartContainerResponse, error) {
	ctx := context.Background()

	var registryAuth string
	if req.RegistryUser != "" {
		registryAuth = base64.StdEncoding.EncodeToString(
			[]byte(fmt.Sprintf("%s:%s", req.RegistryUser, req.RegistryPass)))
	}

	if err := o.ensureImage(ctx, req.ImageName, registryAuth, req.AlwaysPull); err != nil {
		return scheduler.StartContainerResponse{}, err
	}

	containerConfig := &container.Config{
		Image:        req.ImageName,
		Env:          convertEnvVars(req.EnvVars),
		ExposedPorts: nat.PortSet{},
	}

	hostConfig := &container.HostConfig{}

	if req.EnableNetworking {
		port, err := nat.NewPort("tcp", "8080")
		if err != nil {
			return scheduler.StartContainerResponse{}, fmt.Errorf("scheduler: %w", err)
		}
		containerConfig.ExposedPorts = nat.PortSet{port: struct{}{}}
		hostConfig.PortBindings = nat.PortMap{
			extensionPort: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: "0"}},
		}
	}

	_ = o.client.ContainerRemove(ctx, req.ID, types.ContainerRemoveOptions{RemoveVolumes: true, Force: true})

	created, err := o.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, req.ID)
	if err != nil {
		return scheduler.StartContainerResponse{}, fmt.Errorf("scheduler: creating container: %w", err)
	}

	if err := o.client.ContainerStart(ctx, created.ID, types.ContainerStartOptions{}); err != nil {
		return scheduler.StartContainerResponse{}, fmt.Errorf("scheduler: starting container: %w", err)
	}

	if !req.EnableNetworking {
		return scheduler.StartContainerResponse{SchedulerID: created.ID}, nil
	}

	info, err := o.client.ContainerInspect(ctx, created.ID)
	if err != nil {
		return scheduler.StartContainerResponse{}, fmt.Errorf("scheduler: inspecting container: %w", err)
	}

	bindings, ok := info.NetworkSettings.Ports[extensionPort]
	if !ok || len(bindings) == 0 {
		return scheduler.StartContainerResponse{SchedulerID: created.ID},
			fmt.Errorf("scheduler: container started but exposed no networking binding")
	}

	return scheduler.StartContainerResponse{
		SchedulerID: created.ID,
		URL:         fmt.Sprintf("%s:%s", bindings[0].HostIP, bindings[0].HostPort),
	}, nil
}

func (o *Orchestrator) ensureImage(ctx context.Context, imageName, registryAuth string, alwaysPull bool) error {
	if !alwaysPull {
		list, err := o.client.ImageList(ctx, types.ImageListOptions{
			Filters: filters.NewArgs(filters.KeyValuePair{Key: "reference", Value: imageName}),
		})
		if err == nil && len(list) > 0 {
			return nil
		}
	}

	r, err := o.client.ImagePull(ctx, imageName, types.ImagePullOptions{RegistryAuth: registryAuth})
	if err != nil {
		if strings.Contains(err.Error(), "manifest unknown") {
			return fmt.Errorf("image %q not found or missing auth: %w", imageName, scheduler.ErrNoSuchImage)
		}
		return fmt.Errorf("scheduler: pulling image: %w", err)
	}
	defer r.Close()
	_, _ = io.Copy(io.Discard, r)

	return nil
}

func (o *Orchestrator) StopContainer(req scheduler.StopContainerRequest) error {
	o.cancelled.Set(req.SchedulerID, time.Now())

	timeout := req.Timeout
	err := o.client.ContainerStop(context.Background(), req.SchedulerID, &timeout)
	if err != nil {
		if strings.Contains(err.Error(), "No such container") {
			return scheduler.ErrNoSuchContainer
		}
		return fmt.Errorf("scheduler: stopping container: %w", err)
	}

	return nil
}

func (o *Orchestrator) GetState(req scheduler.GetStateRequest) (scheduler.GetStateResponse, error) {
	info, err := o.client.ContainerInspect(context.Background(), req.SchedulerID)
	if err != nil {
		if strings.Contains(err.Error(), "No such container") {
			return scheduler.GetStateResponse{State: scheduler.ContainerStateUnknown}, scheduler.ErrNoSuchContainer
		}
		return scheduler.GetStateResponse{State: scheduler.ContainerStateUnknown},
			fmt.Errorf("scheduler: inspecting container: %w", err)
	}

	switch info.State.Status {
	case "created", "running":
		return scheduler.GetStateResponse{State: scheduler.ContainerStateRunning}, nil
	case "exited":
		if _, cancelled := o.cancelled.Get(req.SchedulerID); cancelled {
			o.cancelled.Delete(req.SchedulerID)
			return scheduler.GetStateResponse{ExitCode: info.State.ExitCode, State: scheduler.ContainerStateCancelled}, nil
		}
		if info.State.ExitCode == 0 {
			return scheduler.GetStateResponse{ExitCode: 0, State: scheduler.ContainerStateSuccess}, nil
		}
		return scheduler.GetStateResponse{ExitCode: info.State.ExitCode, State: scheduler.ContainerStateFailed}, nil
	default:
		o.log.Debug().Str("state", info.State.Status).Msg("abnormal container state")
		return scheduler.GetStateResponse{State: scheduler.ContainerStateUnknown}, nil
	}
}

// GetLogs de-multiplexes docker's combined stdout/stderr stream into a
// single reader fed by a background goroutine.
func (o *Orchestrator) GetLogs(req scheduler.GetLogsRequest) (io.Reader, error) {
	out, err := o.client.ContainerLogs(context.Background(), req.SchedulerID, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "No such container") {
			return nil, scheduler.ErrNoSuchContainer
		}
		return nil, fmt.Errorf("scheduler: reading logs: %w", err)
	}

	pr, pw := io.Pipe()
	go func() {
		n, err := stdcopy.StdCopy(pw, pw, out)
		if err != nil {
			o.log.Error().Err(err).Msg("could not demultiplex log stream")
		}
		pw.Close()
		o.log.Debug().Int64("bytes_written", n).Msg("finished demultiplexing logs")
	}()

	return pr, nil
}

func convertEnvVars(vars map[string]string) []string {
	out := make([]string, 0, len(vars))
	for k, v := range vars {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}
