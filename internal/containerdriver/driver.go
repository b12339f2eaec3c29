// Package containerdriver manages the lifecycle of the shared per-dialect
// pool containers: creating them, execing commands inside them, and tearing
// them down. Adapted from frabit-io-skeema/internal/tengo/docker.go, which
// wraps github.com/fsouza/go-dockerclient to manage one-container-per-test
// sandboxes; this package generalizes that wrapper to manage long-lived,
// shared, multi-tenant pool containers addressed by label and name.
package containerdriver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	docker "github.com/fsouza/go-dockerclient"

	"github.com/skeema/dbctl/internal/apperr"
)

// LabelPool marks a container as a dbctl-managed pool container.
const LabelPool = "dbctl-pool"

// LabelDialect records which dialect a pool container was created for.
const LabelDialect = "dbctl.dialect"

// LabelContainerPort records the internal TCP port the engine listens on,
// per spec.md §6's container-labels table.
const LabelContainerPort = "dbctl.container_port"

// Driver wraps a Docker API client for managing pool containers. It hides
// the specific client implementation the same way DockerClient does in the
// teacher repo.
type Driver struct {
	client *docker.Client
}

// New constructs a Driver using Docker connection settings from the
// environment (DOCKER_HOST, DOCKER_CERT_PATH, etc), matching
// docker.NewClientFromEnv's behavior in the teacher's NewDockerClient.
func New() (*Driver, error) {
	client, err := docker.NewClientFromEnv()
	if err != nil {
		return nil, apperr.Wrap(apperr.DockerError, err)
	}
	return &Driver{client: client}, nil
}

// ServerArchitecture returns the Docker engine's architecture, used by the
// health endpoint as a liveness probe against the engine itself, not just
// process liveness.
func (d *Driver) ServerArchitecture() (string, error) {
	info, err := d.client.Info()
	if err != nil {
		return "", apperr.Wrap(apperr.DockerError, err)
	}
	conversions := map[string]string{
		"x86_64":  "amd64",
		"aarch64": "arm64",
	}
	if converted, ok := conversions[info.Architecture]; ok {
		return converted, nil
	}
	return info.Architecture, nil
}

// PoolSpec describes the pool container to create for one dialect.
type PoolSpec struct {
	Name         string // e.g. "dbctl-pool-mysql"
	Image        string
	Env          []string
	InternalPort int // e.g. 3306
	Dialect      string
	MemoryMB     int // 0 means no cap
}

// PoolContainer is a handle to a running pool container.
type PoolContainer struct {
	ID        string
	Name      string
	HostPort  int
	container *docker.Container
}

// ensureImage pulls spec.Image if it is not already present locally,
// matching the teacher's CreateInstance image-pull fallback.
func (d *Driver) ensureImage(image string) error {
	if _, err := d.client.InspectImage(image); err == nil {
		return nil
	}
	tokens := strings.SplitN(image, ":", 2)
	repository := tokens[0]
	tag := "latest"
	if len(tokens) > 1 {
		tag = tokens[1]
	}
	opts := docker.PullImageOptions{Repository: repository, Tag: tag}
	if err := d.client.PullImage(opts, docker.AuthConfiguration{}); err != nil {
		return apperr.Wrap(apperr.DialectPullFailed, err)
	}
	return nil
}

// EnsurePoolContainer finds the named pool container if it already exists
// (starting it first if it is stopped), or creates and starts it if no
// container by that name exists. It does not validate that
// an existing container's image matches spec.Image; pool containers are
// identified by name, not by content, since they are long-lived and are not
// expected to be recreated once provisioned.
func (d *Driver) EnsurePoolContainer(spec PoolSpec) (*PoolContainer, error) {
	existing, err := d.client.InspectContainer(spec.Name)
	if err == nil {
		pc := &PoolContainer{ID: existing.ID, Name: spec.Name, container: existing}
		if !existing.State.Running {
			if err := d.client.StartContainer(existing.ID, nil); err != nil {
				return nil, apperr.Wrap(apperr.DockerError, err)
			}
			existing, err = d.client.InspectContainer(existing.ID)
			if err != nil {
				return nil, apperr.Wrap(apperr.DockerError, err)
			}
			pc.container = existing
		}
		pc.HostPort = portMap(existing, spec.InternalPort)
		return pc, nil
	}
	if _, ok := err.(*docker.NoSuchContainer); !ok {
		return nil, apperr.Wrap(apperr.DockerError, err)
	}

	if err := d.ensureImage(spec.Image); err != nil {
		return nil, err
	}

	labels := map[string]string{
		LabelPool:          "true",
		LabelDialect:       spec.Dialect,
		LabelContainerPort: strconv.Itoa(spec.InternalPort),
	}
	containerPort := docker.Port(fmt.Sprintf("%d/tcp", spec.InternalPort))
	ccopts := docker.CreateContainerOptions{
		Name: spec.Name,
		Config: &docker.Config{
			Image:  spec.Image,
			Env:    spec.Env,
			Labels: labels,
		},
		HostConfig: &docker.HostConfig{
			PortBindings: map[docker.Port][]docker.PortBinding{
				containerPort: {{HostIP: "127.0.0.1"}},
			},
			Memory: int64(spec.MemoryMB) * 1024 * 1024,
		},
	}
	container, err := d.client.CreateContainer(ccopts)
	if err != nil {
		return nil, apperr.Wrap(apperr.DockerError, err)
	}
	if err := d.client.StartContainer(container.ID, nil); err != nil {
		return nil, apperr.Wrap(apperr.DockerError, err)
	}

	// The port binding may not be visible in the first inspect immediately
	// after start, same caveat the teacher's Start() works around.
	var hostPort int
	for n := 1; n <= 6; n++ {
		container, err = d.client.InspectContainer(container.ID)
		if err != nil {
			return nil, apperr.Wrap(apperr.DockerError, err)
		}
		hostPort = portMap(container, spec.InternalPort)
		if hostPort != 0 {
			break
		}
		time.Sleep(time.Duration(n) * 50 * time.Millisecond)
	}
	if hostPort == 0 {
		return nil, apperr.New(apperr.DockerError, fmt.Sprintf("no port mapping found for container %s", spec.Name))
	}

	return &PoolContainer{ID: container.ID, Name: spec.Name, HostPort: hostPort, container: container}, nil
}

func portMap(container *docker.Container, internalPort int) int {
	portAndProto := docker.Port(fmt.Sprintf("%d/tcp", internalPort))
	bindings, ok := container.NetworkSettings.Ports[portAndProto]
	if !ok || len(bindings) == 0 {
		return 0
	}
	result, _ := strconv.Atoi(bindings[0].HostPort)
	return result
}

// PoolContainerInfo summarizes one discovered pool container, per
// spec.md §4.2's list-by-label contract: {id, dialect, host_port, is_running}.
type PoolContainerInfo struct {
	ID        string
	Dialect   string
	HostPort  int
	IsRunning bool
}

// ListPoolContainers enumerates every container carrying the dbctl-pool
// label, running or not, used by startup reconciliation to discover pool
// containers left over from a previous process lifetime.
func (d *Driver) ListPoolContainers() ([]PoolContainerInfo, error) {
	opts := docker.ListContainersOptions{
		All: true,
		Filters: map[string][]string{
			"label": {LabelPool + "=true"},
		},
	}
	containers, err := d.client.ListContainers(opts)
	if err != nil {
		return nil, apperr.Wrap(apperr.DockerError, err)
	}

	infos := make([]PoolContainerInfo, 0, len(containers))
	for _, c := range containers {
		internalPort, _ := strconv.Atoi(c.Labels[LabelContainerPort])
		info := PoolContainerInfo{
			ID:        c.ID,
			Dialect:   c.Labels[LabelDialect],
			IsRunning: strings.HasPrefix(c.Status, "Up"),
		}
		if internalPort != 0 {
			full, inspectErr := d.client.InspectContainer(c.ID)
			if inspectErr == nil {
				info.HostPort = portMap(full, internalPort)
			}
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// NamedContainer summarizes one container found by name prefix, used to
// reap leftovers from the historical one-container-per-instance scheme.
type NamedContainer struct {
	ID     string
	Name   string
	IsPool bool
}

// ListNamedContainers enumerates every container (running or not) whose name
// starts with prefix. Docker's name filter is a substring match, so results
// are re-checked against the prefix explicitly.
func (d *Driver) ListNamedContainers(prefix string) ([]NamedContainer, error) {
	opts := docker.ListContainersOptions{
		All: true,
		Filters: map[string][]string{
			"name": {prefix},
		},
	}
	containers, err := d.client.ListContainers(opts)
	if err != nil {
		return nil, apperr.Wrap(apperr.DockerError, err)
	}

	var infos []NamedContainer
	for _, c := range containers {
		var name string
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		infos = append(infos, NamedContainer{
			ID:     c.ID,
			Name:   name,
			IsPool: c.Labels[LabelPool] == "true",
		})
	}
	return infos, nil
}

// ExecResult is the outcome of a single container exec.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Exec runs argv inside the named container with the given extra
// environment pairs, optionally piping stdin, and blocks until completion or
// ctx's deadline. It returns the captured stdout/stderr and exit code
// regardless of whether the command exited non-zero; a non-nil error
// indicates a driver-level failure (container gone, API error, timeout), not
// a non-zero exit code.
func (d *Driver) Exec(ctx context.Context, containerID string, argv, env []string, stdin io.Reader) (ExecResult, error) {
	ceopts := docker.CreateExecOptions{
		AttachStdout: true,
		AttachStderr: true,
		AttachStdin:  stdin != nil,
		Cmd:          argv,
		Env:          env,
		Container:    containerID,
	}
	exec, err := d.client.CreateExec(ceopts)
	if err != nil {
		return ExecResult{}, apperr.Wrap(apperr.DockerError, err)
	}

	var stdout, stderr bytes.Buffer
	seopts := docker.StartExecOptions{
		OutputStream: &stdout,
		ErrorStream:  &stderr,
		InputStream:  stdin,
		Context:      ctx,
	}

	done := make(chan error, 1)
	go func() { done <- d.client.StartExec(exec.ID, seopts) }()

	select {
	case <-ctx.Done():
		return ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}, apperr.New(apperr.QueryTimeout, "")
	case err := <-done:
		if err != nil {
			return ExecResult{}, apperr.Wrap(apperr.DockerError, err)
		}
	}

	execInfo, err := d.client.InspectExec(exec.ID)
	if err != nil {
		return ExecResult{}, apperr.Wrap(apperr.DockerError, err)
	}
	return ExecResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: execInfo.ExitCode}, nil
}

// Stop halts a container without removing it.
func (d *Driver) Stop(containerID string) error {
	err := d.client.StopContainer(containerID, 10)
	if _, ok := err.(*docker.ContainerNotRunning); ok || err == nil {
		return nil
	}
	return apperr.Wrap(apperr.DockerError, err)
}

// Remove force-removes a container and its volumes.
func (d *Driver) Remove(containerID string) error {
	err := d.client.RemoveContainer(docker.RemoveContainerOptions{
		ID:            containerID,
		Force:         true,
		RemoveVolumes: true,
	})
	if _, ok := err.(*docker.NoSuchContainer); ok || err == nil {
		return nil
	}
	return apperr.Wrap(apperr.DockerError, err)
}

// IsRunning reports whether the named container currently exists and is
// running.
func (d *Driver) IsRunning(containerID string) (bool, error) {
	container, err := d.client.InspectContainer(containerID)
	if _, ok := err.(*docker.NoSuchContainer); ok {
		return false, nil
	}
	if err != nil {
		return false, apperr.Wrap(apperr.DockerError, err)
	}
	return container.State.Running, nil
}
