package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// ContainerRuntime performs the container lifecycle actions a Strategy's
// actions can invoke. The agent-runner that *spawns* containers is a
// separate system; this runtime only restarts/stops/recreates
// containers it is told the ID of.
type ContainerRuntime interface {
	Restart(ctx context.Context, containerID string, timeout time.Duration) error
	Stop(ctx context.Context, containerID string, timeout time.Duration) error
	// Recreate stops and removes containerID, then starts a fresh
	// container from the same image/config. Returns the new container ID.
	Recreate(ctx context.Context, containerID string, timeout time.Duration) (string, error)
}

// DockerRuntime is the live ContainerRuntime backed by the Docker engine
// API.
type DockerRuntime struct {
	cli *client.Client
}

// NewDockerRuntime connects to the Docker daemon using the standard
// DOCKER_HOST/DOCKER_CERT_PATH environment.
func NewDockerRuntime() (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("recovery: connect to docker: %w", err)
	}
	return &DockerRuntime{cli: cli}, nil
}

func (d *DockerRuntime) Restart(ctx context.Context, containerID string, timeout time.Duration) error {
	secs := int(timeout.Seconds())
	return d.cli.ContainerRestart(ctx, containerID, container.StopOptions{Timeout: &secs})
}

func (d *DockerRuntime) Stop(ctx context.Context, containerID string, timeout time.Duration) error {
	secs := int(timeout.Seconds())
	return d.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &secs})
}

func (d *DockerRuntime) Recreate(ctx context.Context, containerID string, timeout time.Duration) (string, error) {
	inspect, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return "", fmt.Errorf("recovery: inspect container %s: %w", containerID, err)
	}
	if err := d.Stop(ctx, containerID, timeout); err != nil {
		return "", fmt.Errorf("recovery: stop container %s: %w", containerID, err)
	}
	if err := d.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{}); err != nil {
		return "", fmt.Errorf("recovery: remove container %s: %w", containerID, err)
	}

	created, err := d.cli.ContainerCreate(ctx, inspect.Config, inspect.HostConfig, nil, nil, inspect.Name)
	if err != nil {
		return "", fmt.Errorf("recovery: recreate container from %s: %w", containerID, err)
	}
	if err := d.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("recovery: start recreated container %s: %w", created.ID, err)
	}
	return created.ID, nil
}
