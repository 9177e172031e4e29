// Package container runs a local Redis or Postgres container that backs
// the queue store when store.managed is enabled.
package container

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// Label marks containers created by scriptorium.
const Label = "scriptorium-store"

// ContainerNamePrefix is prepended to generated container names.
const ContainerNamePrefix = "scriptorium-store-"

// Status represents the state of the managed container.
type Status string

const (
	StatusRunning  Status = "running"
	StatusStopped  Status = "stopped"
	StatusNotFound Status = "not_found"
	StatusStarting Status = "starting"
)

// Kind describes how to run one store engine.
type Kind struct {
	Name          string
	Image         string
	ContainerPort nat.Port
	DefaultPort   string
	DataDir       string
	Env           []string
}

var (
	Redis = Kind{
		Name:          "redis",
		Image:         "redis:7-alpine",
		ContainerPort: "6379/tcp",
		DefaultPort:   "6379",
		DataDir:       "/data",
	}
	Postgres = Kind{
		Name:          "postgres",
		Image:         "postgres:16-alpine",
		ContainerPort: "5432/tcp",
		DefaultPort:   "5432",
		DataDir:       "/var/lib/postgresql/data",
		Env: []string{
			"POSTGRES_USER=scriptorium",
			"POSTGRES_PASSWORD=scriptorium",
			"POSTGRES_DB=scriptorium",
		},
	}
)

// KindFor returns the Kind for a store backend name.
func KindFor(backend string) (Kind, error) {
	switch backend {
	case Redis.Name:
		return Redis, nil
	case Postgres.Name:
		return Postgres, nil
	default:
		return Kind{}, fmt.Errorf("backend %q cannot run in a managed container", backend)
	}
}

// GenerateContainerName derives a stable per-home container name so two
// scriptorium homes on one machine never share a store.
func GenerateContainerName(homePath string) string {
	sum := sha256.Sum256([]byte(homePath))
	return ContainerNamePrefix + hex.EncodeToString(sum[:])[:8]
}

// Config holds configuration for the Manager.
type Config struct {
	Kind          Kind
	ContainerName string
	Image         string // overrides Kind.Image
	HostPort      string // defaults to Kind.DefaultPort
	DataPath      string // host directory bind-mounted at Kind.DataDir
	Labels        map[string]string

	// Probe reports whether the engine accepts connections.
	Probe func(ctx context.Context) error
}

// Manager manages the store container lifecycle.
type Manager struct {
	cli    *client.Client
	kind   Kind
	name   string
	image  string
	port   string
	data   string
	labels map[string]string
	probe  func(ctx context.Context) error
}

// NewManager creates a Docker-backed Manager.
func NewManager(cfg Config) (*Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return newManager(cli, cfg), nil
}

func newManager(cli *client.Client, cfg Config) *Manager {
	m := &Manager{
		cli:    cli,
		kind:   cfg.Kind,
		name:   cfg.ContainerName,
		image:  cfg.Image,
		port:   cfg.HostPort,
		data:   cfg.DataPath,
		probe:  cfg.Probe,
		labels: map[string]string{Label: cfg.Kind.Name},
	}
	if m.name == "" {
		m.name = ContainerNamePrefix + cfg.Kind.Name
	}
	if m.image == "" {
		m.image = cfg.Kind.Image
	}
	if m.port == "" {
		m.port = cfg.Kind.DefaultPort
	}
	for k, v := range cfg.Labels {
		m.labels[k] = v
	}
	return m
}

// Close closes the Docker client.
func (m *Manager) Close() error {
	return m.cli.Close()
}

// Name returns the container name.
func (m *Manager) Name() string {
	return m.name
}

// HostPort returns the host port the engine is published on.
func (m *Manager) HostPort() string {
	return m.port
}

// Start ensures the container is running and ready.
func (m *Manager) Start(ctx context.Context) error {
	if _, err := m.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker is not running: %w", err)
	}

	status, id, err := m.lookup(ctx)
	if err != nil {
		return err
	}

	switch status {
	case StatusRunning:
		return m.WaitReady(ctx, 30*time.Second)
	case StatusStopped, StatusStarting:
		if err := m.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
			return fmt.Errorf("failed to start existing container: %w", err)
		}
		return m.WaitReady(ctx, 30*time.Second)
	case StatusNotFound:
		return m.create(ctx)
	default:
		return fmt.Errorf("container in unexpected state: %s", status)
	}
}

// Stop stops the container if it exists.
func (m *Manager) Stop(ctx context.Context) error {
	status, id, err := m.lookup(ctx)
	if err != nil {
		return err
	}
	if status == StatusNotFound {
		return nil
	}

	timeout := 10
	if err := m.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	return nil
}

// Remove force-removes the container and its anonymous volumes.
func (m *Manager) Remove(ctx context.Context) error {
	status, id, err := m.lookup(ctx)
	if err != nil {
		return err
	}
	if status == StatusNotFound {
		return nil
	}
	if err := m.cli.ContainerRemove(ctx, id, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

// Status returns the current container status.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	status, _, err := m.lookup(ctx)
	return status, err
}

// Logs returns the last tail lines of container output.
func (m *Manager) Logs(ctx context.Context, tail string) (string, error) {
	status, id, err := m.lookup(ctx)
	if err != nil {
		return "", err
	}
	if status == StatusNotFound {
		return "", fmt.Errorf("container %s not found", m.name)
	}

	rc, err := m.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       tail,
	})
	if err != nil {
		return "", fmt.Errorf("failed to get logs: %w", err)
	}
	defer rc.Close()

	out, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("failed to read logs: %w", err)
	}
	return string(out), nil
}

// ValidateExisting checks that an existing container publishes the
// expected port and mounts the expected data directory.
func (m *Manager) ValidateExisting(ctx context.Context) error {
	status, id, err := m.lookup(ctx)
	if err != nil {
		return err
	}
	if status == StatusNotFound {
		return nil
	}

	info, err := m.cli.ContainerInspect(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to inspect container: %w", err)
	}

	bindings := info.HostConfig.PortBindings[m.kind.ContainerPort]
	if len(bindings) == 0 {
		return fmt.Errorf("existing container has no port binding for %s", m.kind.ContainerPort)
	}
	if bindings[0].HostPort != m.port {
		return fmt.Errorf("existing container bound to port %s, expected %s", bindings[0].HostPort, m.port)
	}

	if m.data == "" {
		return nil
	}
	for _, mnt := range info.Mounts {
		if mnt.Destination == m.kind.DataDir {
			if mnt.Source != m.data {
				return fmt.Errorf("existing container mounts %s, expected %s", mnt.Source, m.data)
			}
			return nil
		}
	}
	return fmt.Errorf("existing container has no mount for %s", m.kind.DataDir)
}

// WaitReady retries the probe once per second until it succeeds or timeout elapses.
func (m *Manager) WaitReady(ctx context.Context, timeout time.Duration) error {
	if m.probe == nil {
		return nil
	}
	attempts := uint(timeout.Seconds())
	if attempts == 0 {
		attempts = 1
	}
	return retry.Do(
		func() error { return m.probe(ctx) },
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(time.Second),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
}

func (m *Manager) create(ctx context.Context) error {
	if err := m.pull(ctx); err != nil {
		return err
	}

	cfg := &container.Config{
		Image:  m.image,
		Env:    m.kind.Env,
		Labels: m.labels,
		ExposedPorts: nat.PortSet{
			m.kind.ContainerPort: struct{}{},
		},
	}

	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			m.kind.ContainerPort: []nat.PortBinding{
				{HostIP: "127.0.0.1", HostPort: m.port},
			},
		},
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
	}
	if m.data != "" {
		hostCfg.Mounts = []mount.Mount{{
			Type:   mount.TypeBind,
			Source: m.data,
			Target: m.kind.DataDir,
		}}
	}

	resp, err := m.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, m.name)
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}

	if err := m.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = m.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return fmt.Errorf("failed to start container: %w", err)
	}

	return m.WaitReady(ctx, 60*time.Second)
}

func (m *Manager) lookup(ctx context.Context) (Status, string, error) {
	args := filters.NewArgs()
	args.Add("name", "^/"+m.name+"$")

	list, err := m.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return "", "", fmt.Errorf("failed to list containers: %w", err)
	}
	if len(list) == 0 {
		return StatusNotFound, "", nil
	}

	c := list[0]
	return statusFromState(string(c.State)), c.ID, nil
}

func statusFromState(state string) Status {
	switch state {
	case "running":
		return StatusRunning
	case "exited", "dead", "paused":
		return StatusStopped
	case "created", "restarting":
		return StatusStarting
	default:
		return Status(state)
	}
}

func (m *Manager) pull(ctx context.Context) error {
	if _, err := m.cli.ImageInspect(ctx, m.image); err == nil {
		return nil
	}

	rc, err := m.cli.ImagePull(ctx, m.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", m.image, err)
	}
	defer rc.Close()

	_, err = io.Copy(io.Discard, rc)
	return err
}
