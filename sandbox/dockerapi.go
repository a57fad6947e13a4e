package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"
)

const (
	cleanupTimeout = 10 * time.Second
	// DefaultPullTimeout bounds pulling a missing image inside Launch.
	DefaultPullTimeout = 2 * time.Minute
)

// DockerAPI is the subset of the Docker Engine client used by APILauncher.
type DockerAPI interface {
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerAttach(ctx context.Context, container string, options container.AttachOptions) (types.HijackedResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// APILauncher runs sandboxes through the Docker Engine API.
type APILauncher struct {
	logger      *zap.Logger
	api         DockerAPI
	pullImage   bool
	pullTimeout time.Duration
}

// APILauncherOption defines a functional option for APILauncher
type APILauncherOption func(*APILauncher)

// WithImagePull makes Launch pull an image that is missing locally.
func WithImagePull(pull bool) APILauncherOption {
	return func(l *APILauncher) {
		l.pullImage = pull
	}
}

// WithPullTimeout bounds how long Launch waits for a missing image.
func WithPullTimeout(d time.Duration) APILauncherOption {
	return func(l *APILauncher) {
		l.pullTimeout = d
	}
}

// NewAPILauncher creates an APILauncher over api.
func NewAPILauncher(logger *zap.Logger, api DockerAPI, opts ...APILauncherOption) *APILauncher {
	l := &APILauncher{
		logger:      logger,
		api:         api,
		pullImage:   true,
		pullTimeout: DefaultPullTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewDockerClient connects to the daemon configured by the DOCKER_* environment.
func NewDockerClient() (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return cli, nil
}

// Name returns "docker-api".
func (*APILauncher) Name() string {
	return "docker-api"
}

// Launch creates, attaches to and starts a container for cfg.
func (l *APILauncher) Launch(ctx context.Context, cfg LaunchConfig) (Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, launchError("invalid sandbox configuration", err)
	}

	containerCfg, hostCfg := containerConfigs(cfg)
	created, err := l.create(ctx, cfg, containerCfg, hostCfg)
	var le *LaunchError
	if errors.As(err, &le) {
		return nil, err
	}
	if err != nil {
		return nil, launchError(fmt.Sprintf("cannot create container from image %s", cfg.Image), err)
	}
	id := created.ID

	attach, err := l.api.ContainerAttach(ctx, id, container.AttachOptions{Stream: true, Stdout: true, Stderr: true})
	if err != nil {
		l.remove(id)
		return nil, launchError("cannot attach to container", err)
	}

	h := &apiHandle{
		logger:   l.logger,
		api:      l.api,
		id:       id,
		stdout:   newCappedBuffer(cfg.MaxOutputBytes),
		stderr:   newCappedBuffer(cfg.MaxOutputBytes),
		copied:   make(chan struct{}),
		done:     make(chan struct{}),
		attached: attach,
	}
	go h.capture()

	if err := l.api.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		attach.Close()
		l.remove(id)
		return nil, launchError("cannot start container", err)
	}

	go h.reap()

	l.logger.Debug("container started",
		zap.String("backend", l.Name()),
		zap.String("container", cfg.ContainerName()),
		zap.String("image", cfg.Image))
	return h, nil
}

func (l *APILauncher) create(ctx context.Context, cfg LaunchConfig, cc *container.Config, hc *container.HostConfig) (container.CreateResponse, error) {
	created, err := l.api.ContainerCreate(ctx, cc, hc, nil, nil, cfg.ContainerName())
	if err == nil || !l.pullImage || !cerrdefs.IsNotFound(err) {
		return created, err
	}

	if err := l.pull(ctx, cfg.Image); err != nil {
		return created, err
	}
	return l.api.ContainerCreate(ctx, cc, hc, nil, nil, cfg.ContainerName())
}

// pull fetches ref within the pull timeout. The sandbox deadline only starts
// once the container runs, so the pull must not borrow from it.
func (l *APILauncher) pull(ctx context.Context, ref string) error {
	l.logger.Info("pulling image", zap.String("image", ref), zap.Duration("timeout", l.pullTimeout))
	pullCtx, cancel := context.WithTimeout(ctx, l.pullTimeout)
	defer cancel()

	rc, err := l.api.ImagePull(pullCtx, ref, image.PullOptions{})
	if err == nil {
		// The pull completes when the progress stream ends.
		_, err = io.Copy(io.Discard, rc)
		rc.Close()
	}
	if err != nil {
		if ctxErr := pullCtx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return launchError("image unavailable", fmt.Errorf("pull %s: %w", ref, err))
	}
	return nil
}

func (l *APILauncher) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := l.api.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil && !cerrdefs.IsNotFound(err) {
		l.logger.Warn("failed to remove container", zap.String("container", id), zap.Error(err))
	}
}

func containerConfigs(cfg LaunchConfig) (*container.Config, *container.HostConfig) {
	mounts := make([]mount.Mount, 0, len(cfg.Mounts))
	for _, m := range cfg.Mounts {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}
	pids := cfg.PidsLimit

	cc := &container.Config{
		Image:           cfg.Image,
		Cmd:             cfg.Argv,
		Env:             cfg.Env,
		WorkingDir:      cfg.WorkingDir,
		User:            cfg.User,
		NetworkDisabled: true,
		AttachStdout:    true,
		AttachStderr:    true,
	}
	hc := &container.HostConfig{
		NetworkMode:    container.NetworkMode(cfg.Network),
		Mounts:         mounts,
		ReadonlyRootfs: cfg.ReadOnlyFS,
		Tmpfs:          cfg.Tmpfs,
		CapDrop:        cfg.CapDrop,
		SecurityOpt:    cfg.SecurityOpt,
		Resources: container.Resources{
			Memory:     cfg.MemoryBytes,
			MemorySwap: cfg.MemorySwapBytes,
			NanoCPUs:   int64(math.Round(cfg.CPUs * 1e9)),
			PidsLimit:  &pids,
		},
	}
	return cc, hc
}

type apiHandle struct {
	logger *zap.Logger
	api    DockerAPI
	id     string

	stdout   *cappedBuffer
	stderr   *cappedBuffer
	attached types.HijackedResponse
	copied   chan struct{}

	done    chan struct{}
	exit    Exit
	waitErr error

	killMu sync.Mutex
	killed bool
}

func (h *apiHandle) capture() {
	defer close(h.copied)
	if _, err := stdcopy.StdCopy(h.stdout, h.stderr, h.attached.Reader); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Debug("output stream ended", zap.String("container", h.id), zap.Error(err))
	}
}

func (h *apiHandle) reap() {
	defer close(h.done)

	statusCh, errCh := h.api.ContainerWait(context.Background(), h.id, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		h.exit.Code = int(status.StatusCode)
		if status.Error != nil {
			h.waitErr = errors.New(status.Error.Message)
		}
	case err := <-errCh:
		h.waitErr = err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if info, err := h.api.ContainerInspect(ctx, h.id); err == nil && info.State != nil {
		h.exit.OOMKilled = info.State.OOMKilled
	}

	select {
	case <-h.copied:
	case <-time.After(defaultWaitDelay):
		h.logger.Warn("output stream did not close after exit", zap.String("container", h.id))
	}
	h.attached.Close()

	if err := h.api.ContainerRemove(ctx, h.id, container.RemoveOptions{Force: true}); err != nil && !cerrdefs.IsNotFound(err) {
		h.logger.Warn("failed to remove container", zap.String("container", h.id), zap.Error(err))
	}
}

func (h *apiHandle) Wait(ctx context.Context) (Exit, error) {
	select {
	case <-h.done:
		return h.exit, h.waitErr
	case <-ctx.Done():
		return Exit{}, ctx.Err()
	}
}

func (h *apiHandle) Kill(ctx context.Context) error {
	h.killMu.Lock()
	defer h.killMu.Unlock()

	select {
	case <-h.done:
		return nil
	default:
	}
	if h.killed {
		return nil
	}
	h.killed = true

	err := h.api.ContainerKill(ctx, h.id, "KILL")
	if err != nil && (cerrdefs.IsNotFound(err) || cerrdefs.IsConflict(err)) {
		// Already stopped or removed.
		return nil
	}
	return err
}

func (h *apiHandle) Stdout() string { return h.stdout.String() }

func (h *apiHandle) Stderr() string { return h.stderr.String() }
