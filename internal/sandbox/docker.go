package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/oklog/ulid/v2"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/sirupsen/logrus"

	"github.com/paulgibert/chaingpt/internal/domain"
)

const (
	sandboxLabel   = "io.chaingpt.sandbox"
	cleanupTimeout = 30 * time.Second
)

// dockerAPI is the subset of the Docker client used by DockerEnvironment.
type dockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerCommit(ctx context.Context, containerID string, options container.CommitOptions) (container.CommitResponse, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ImageRemove(ctx context.Context, imageID string, options image.RemoveOptions) ([]image.DeleteResponse, error)
	Close() error
}

// DockerEnvironment runs each script in a fresh, network-less container.
// Declared dependencies are installed with apk in a separate networked
// container that is committed to a throwaway image first.
type DockerEnvironment struct {
	api    dockerAPI
	cfg    Config
	logger logrus.FieldLogger
}

// NewDockerEnvironment connects to the Docker daemon described by the
// environment (DOCKER_HOST and friends).
func NewDockerEnvironment(cfg Config, logger logrus.FieldLogger) (*DockerEnvironment, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return newDockerEnvironment(cli, cfg, logger), nil
}

func newDockerEnvironment(api dockerAPI, cfg Config, logger logrus.FieldLogger) *DockerEnvironment {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &DockerEnvironment{api: api, cfg: cfg.withDefaults(), logger: logger}
}

// Close releases the Docker client.
func (d *DockerEnvironment) Close() error {
	return d.api.Close()
}

// Run implements Environment.
func (d *DockerEnvironment) Run(ctx context.Context, script string, deps []string) (*domain.RunResult, error) {
	if err := ValidateDeps(deps); err != nil {
		return nil, err
	}

	runID := strings.ToLower(ulid.Make().String())
	log := d.logger.WithFields(logrus.Fields{"run_id": runID, "deps": len(deps)})
	start := time.Now()

	runImage := d.cfg.Image
	if len(deps) > 0 {
		img, failed, err := d.install(ctx, runID, deps)
		if err != nil {
			return nil, err
		}
		if failed != nil {
			failed.DurationMs = time.Since(start).Milliseconds()
			log.WithField("return_code", failed.ReturnCode).Info("dependency install failed")
			return failed, nil
		}
		runImage = img
		defer d.removeImage(img, log)
	}

	result, err := d.execute(ctx, runID, runImage, script)
	if err != nil {
		return nil, err
	}
	result.DurationMs = time.Since(start).Milliseconds()

	log.WithFields(logrus.Fields{
		"return_code": result.ReturnCode,
		"timed_out":   result.TimedOut,
		"duration_ms": result.DurationMs,
	}).Info("script finished")
	return result, nil
}

// install adds deps to the base image and commits the result. A failed apk
// run is returned as a RunResult.
func (d *DockerEnvironment) install(ctx context.Context, runID string, deps []string) (string, *domain.RunResult, error) {
	cmd := append([]string{"apk", "add", "--no-cache", "--"}, deps...)
	cfg := &container.Config{
		Image:  d.cfg.Image,
		Cmd:    cmd,
		User:   "0:0",
		Labels: map[string]string{sandboxLabel: runID},
	}
	hostCfg := &container.HostConfig{
		CapDrop:     []string{"ALL"},
		CapAdd:      []string{"CHOWN", "DAC_OVERRIDE", "FOWNER", "SETGID", "SETUID"},
		SecurityOpt: []string{"no-new-privileges"},
		Resources: container.Resources{
			Memory:    d.cfg.MemoryBytes,
			NanoCPUs:  int64(d.cfg.CPUs * 1e9),
			PidsLimit: &d.cfg.PidsLimit,
		},
	}

	id, err := d.create(ctx, cfg, hostCfg, "chaingpt-install-"+runID)
	if err != nil {
		return "", nil, err
	}
	defer d.removeContainer(id)

	out, err := d.startAndWait(ctx, id, d.cfg.InstallTimeout)
	if err != nil {
		return "", nil, err
	}
	if out.TimedOut || out.ReturnCode != 0 {
		out.Stderr = "dependency installation failed:\n" + out.Stderr
		return "", out, nil
	}

	ref := "chaingpt-sandbox:" + runID
	if _, err := d.api.ContainerCommit(ctx, id, container.CommitOptions{Reference: ref}); err != nil {
		return "", nil, fmt.Errorf("failed to commit sandbox image: %w", err)
	}
	return ref, nil, nil
}

// execute runs script in a locked-down container from img.
func (d *DockerEnvironment) execute(ctx context.Context, runID, img, script string) (*domain.RunResult, error) {
	cfg := &container.Config{
		Image:           img,
		Entrypoint:      []string{"/bin/sh", "-c"},
		Cmd:             []string{script},
		User:            d.cfg.User,
		WorkingDir:      "/tmp",
		Env:             []string{"HOME=/tmp", "LANG=C.UTF-8"},
		NetworkDisabled: true,
		Labels:          map[string]string{sandboxLabel: runID},
	}
	hostCfg := &container.HostConfig{
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		Tmpfs:          map[string]string{"/tmp": "rw,nosuid,nodev,size=" + d.cfg.TmpfsSize},
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		Resources: container.Resources{
			Memory:     d.cfg.MemoryBytes,
			MemorySwap: d.cfg.MemoryBytes,
			NanoCPUs:   int64(d.cfg.CPUs * 1e9),
			PidsLimit:  &d.cfg.PidsLimit,
		},
	}

	id, err := d.create(ctx, cfg, hostCfg, "chaingpt-run-"+runID)
	if err != nil {
		return nil, err
	}
	defer d.removeContainer(id)

	return d.startAndWait(ctx, id, d.cfg.Timeout)
}

// create makes a container, pulling the image once if it is missing.
func (d *DockerEnvironment) create(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig, name string) (string, error) {
	resp, err := d.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil && cerrdefs.IsNotFound(err) {
		if pullErr := d.pull(ctx, cfg.Image); pullErr != nil {
			return "", pullErr
		}
		resp, err = d.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	}
	if err != nil {
		return "", fmt.Errorf("failed to create sandbox container: %w", err)
	}
	return resp.ID, nil
}

func (d *DockerEnvironment) pull(ctx context.Context, ref string) error {
	d.logger.WithField("image", ref).Info("pulling sandbox image")
	reader, err := d.api.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull sandbox image: %w", err)
	}
	_, err = io.Copy(io.Discard, reader)
	closeErr := reader.Close()
	if err != nil {
		return fmt.Errorf("failed to read image pull output: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close image pull reader: %w", closeErr)
	}
	return nil
}

// startAndWait starts container id and waits for it to exit or for timeout,
// then collects its output.
func (d *DockerEnvironment) startAndWait(ctx context.Context, id string, timeout time.Duration) (*domain.RunResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	waitCh, errCh := d.api.ContainerWait(runCtx, id, container.WaitConditionNextExit)
	if err := d.api.ContainerStart(runCtx, id, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start sandbox container: %w", err)
	}

	result := &domain.RunResult{}
	select {
	case resp := <-waitCh:
		result.ReturnCode = int(resp.StatusCode)
		if resp.Error != nil && resp.Error.Message != "" {
			d.logger.WithField("container", id).Warn(resp.Error.Message)
		}
	case err := <-errCh:
		if runCtx.Err() == nil {
			return nil, fmt.Errorf("failed waiting for sandbox container: %w", err)
		}
		if err := d.timeoutOrCancel(ctx, id, result); err != nil {
			return nil, err
		}
	case <-runCtx.Done():
		if err := d.timeoutOrCancel(ctx, id, result); err != nil {
			return nil, err
		}
	}

	if err := d.collectLogs(id, result); err != nil {
		return nil, err
	}
	if result.TimedOut {
		result.Stderr += timeoutNotice(timeout)
	}
	return result, nil
}

// timeoutOrCancel kills the container. A deadline becomes a timed-out
// result; caller cancellation is returned as an error.
func (d *DockerEnvironment) timeoutOrCancel(ctx context.Context, id string, result *domain.RunResult) error {
	killCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := d.api.ContainerKill(killCtx, id, "KILL"); err != nil && !cerrdefs.IsNotFound(err) && !cerrdefs.IsConflict(err) {
		d.logger.WithError(err).WithField("container", id).Warn("failed to kill sandbox container")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	result.ReturnCode = TimeoutExitCode
	result.TimedOut = true
	return nil
}

func (d *DockerEnvironment) collectLogs(id string, result *domain.RunResult) error {
	logCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	reader, err := d.api.ContainerLogs(logCtx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return fmt.Errorf("failed to read sandbox output: %w", err)
	}
	defer reader.Close()

	stdout := newLimitedBuffer(d.cfg.MaxOutputBytes)
	stderr := newLimitedBuffer(d.cfg.MaxOutputBytes)
	if _, err := stdcopy.StdCopy(stdout, stderr, reader); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to demultiplex sandbox output: %w", err)
	}

	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	result.StdoutTruncated = stdout.Truncated()
	result.StderrTruncated = stderr.Truncated()
	return nil
}

func (d *DockerEnvironment) removeContainer(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	err := d.api.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !cerrdefs.IsNotFound(err) {
		d.logger.WithError(err).WithField("container", id).Warn("failed to remove sandbox container")
	}
}

func (d *DockerEnvironment) removeImage(ref string, log logrus.FieldLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if _, err := d.api.ImageRemove(ctx, ref, image.RemoveOptions{Force: true, PruneChildren: true}); err != nil && !cerrdefs.IsNotFound(err) {
		log.WithError(err).WithField("image", ref).Warn("failed to remove sandbox image")
	}
}
