package agentrt

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"

	"github.com/kitt-bench/controller/internal/domain"
)

// containerLabel tags every container this daemon manages, so Stop/Tail
// can find it by quick-test id without tracking a separate name map.
const containerLabel = "kitt.quick_test_id"

// RunSpec describes the container an engine needs for one quick test
// (spec §4.4 "controller flips status and enqueues a stop_container
// command" / §4.7's run_test command payload).
type RunSpec struct {
	QuickTestID string
	Image       string
	Command     []string
	Env         map[string]string
	ModelDir    string // host path mounted read-only into the container
	ModelMount  string // container mount point for ModelDir
	Port        int    // container port the engine's health/metrics endpoint listens on
	GPUs        bool   // request all host GPUs via the nvidia runtime
}

// Runner is the narrow container-lifecycle seam the heartbeat loop drives:
// pull the engine image, run it for a quick test, tail its logs, and stop
// it on cancellation or cleanup (spec §4.7).
type Runner interface {
	Pull(ctx context.Context, image string) error
	Run(ctx context.Context, spec RunSpec) (containerID string, err error)
	Tail(ctx context.Context, quickTestID string) (io.ReadCloser, error)
	Stop(ctx context.Context, quickTestID string) error
}

// DockerRunner implements Runner against a local Docker Engine, grounded
// on the pack's volaticloud internal/runner.DockerRuntime (same
// pull-then-create-then-start shape, trimmed to the single-container,
// no-network-plumbing case a benchmark engine needs).
type DockerRunner struct {
	cli *client.Client
}

// NewDockerRunner connects to the Docker daemon using the environment's
// DOCKER_HOST (or the local socket when unset).
func NewDockerRunner() (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("agentrt: docker client: %w", err)
	}
	return &DockerRunner{cli: cli}, nil
}

func (d *DockerRunner) Pull(ctx context.Context, img string) error {
	out, err := d.cli.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("agentrt: pull %s: %w", img, err)
	}
	defer out.Close()
	_, err = io.Copy(io.Discard, out)
	return err
}

func (d *DockerRunner) Run(ctx context.Context, spec RunSpec) (string, error) {
	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	cfg := &container.Config{
		Image:  spec.Image,
		Cmd:    spec.Command,
		Env:    env,
		Labels: map[string]string{containerLabel: spec.QuickTestID},
	}

	hostCfg := &container.HostConfig{
		AutoRemove: false,
	}
	if spec.ModelDir != "" {
		hostCfg.Mounts = []mount.Mount{{
			Type:     mount.TypeBind,
			Source:   spec.ModelDir,
			Target:   spec.ModelMount,
			ReadOnly: true,
		}}
	}
	if spec.GPUs {
		hostCfg.Resources = container.Resources{
			DeviceRequests: []container.DeviceRequest{{
				Count:        -1, // all GPUs
				Capabilities: [][]string{{"gpu"}},
			}},
		}
	}

	name := "kitt-qt-" + spec.QuickTestID
	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("agentrt: create container: %w", err)
	}
	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("agentrt: start container: %w", err)
	}
	return resp.ID, nil
}

func (d *DockerRunner) Tail(ctx context.Context, quickTestID string) (io.ReadCloser, error) {
	containerID, err := d.findContainer(ctx, quickTestID)
	if err != nil {
		return nil, err
	}
	return d.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true, ShowStderr: true, Follow: true, Tail: "100",
	})
}

func (d *DockerRunner) Stop(ctx context.Context, quickTestID string) error {
	containerID, err := d.findContainer(ctx, quickTestID)
	if err != nil {
		return err
	}
	timeout := 10
	if err := d.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("agentrt: stop container: %w", err)
	}
	return d.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
}

func (d *DockerRunner) findContainer(ctx context.Context, quickTestID string) (string, error) {
	name := "kitt-qt-" + quickTestID
	inspect, err := d.cli.ContainerInspect(ctx, name)
	if err != nil {
		return "", fmt.Errorf("agentrt: container for %s not found: %w", quickTestID, err)
	}
	return inspect.ID, nil
}

// Ping verifies the Docker daemon is reachable, used by the agent's
// preflight check before it registers or starts heartbeating.
func (d *DockerRunner) Ping(ctx context.Context) error {
	_, err := d.cli.Ping(ctx)
	if err != nil {
		return fmt.Errorf("agentrt: docker daemon unreachable: %w", err)
	}
	return nil
}

// Close releases the underlying Docker client connection.
func (d *DockerRunner) Close() error { return d.cli.Close() }

var _ Runner = (*DockerRunner)(nil)

// Fingerprint returns spec.md's glossary "compact string encoding a host's
// hardware identity": arch, GPU name (or "cpu"), VRAM (or "shared"), and
// rounded RAM, joined so two hosts with identical hardware always produce
// the same value.
func Fingerprint(hw domain.Hardware) string {
	gpu := hw.GPU
	if gpu == "" {
		gpu = "cpu"
	}
	vram := "shared"
	if hw.VRAMGB != nil {
		vram = strconv.FormatFloat(*hw.VRAMGB, 'f', 0, 64) + "gb"
	}
	return fmt.Sprintf("%s-%s-%s-ram%dgb", hw.CPUArch, gpu, vram, int(hw.RAMGB+0.5))
}
