package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// LocalLauncher runs the command directly on the host, inside the workspace
// directory, without a container. It provides no filesystem or network
// isolation and is meant for development only.
//
// With a cgroup root each run gets its own cgroup v2 carrying the memory, swap,
// pids and CPU ceilings, and memory kills are reported as OOM. Without one the
// data segment is capped with RLIMIT_DATA and CPU and pids are not enforced.
type LocalLauncher struct {
	logger     *zap.Logger
	path       string
	cgroupRoot string
}

// LocalLauncherOption defines a functional option for LocalLauncher
type LocalLauncherOption func(*LocalLauncher)

// WithSearchPath sets the PATH the sandboxed command sees
func WithSearchPath(path string) LocalLauncherOption {
	return func(l *LocalLauncher) {
		l.path = path
	}
}

// WithCgroupRoot places every run in a child cgroup of root
func WithCgroupRoot(root string) LocalLauncherOption {
	return func(l *LocalLauncher) {
		l.cgroupRoot = root
	}
}

// NewLocalLauncher creates a LocalLauncher that inherits the host PATH.
func NewLocalLauncher(logger *zap.Logger, opts ...LocalLauncherOption) *LocalLauncher {
	l := &LocalLauncher{
		logger: logger,
		path:   os.Getenv("PATH"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name returns "local".
func (*LocalLauncher) Name() string {
	return "local"
}

// Launch starts cfg.Argv in cfg.HostDir. The image, user and container-only
// settings are ignored.
func (l *LocalLauncher) Launch(_ context.Context, cfg LaunchConfig) (Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, launchError("invalid sandbox configuration", err)
	}

	cmd := exec.Command(cfg.Argv[0], cfg.Argv[1:]...) //nolint:gosec // Running user code is the intended functionality
	cmd.Dir = cfg.HostDir
	cmd.Env = l.environ(cfg)

	var (
		stop   func(context.Context) error
		onExit func(*Exit)
		cg     *cgroup
	)
	memoryRlimit := cfg.MemoryBytes
	if l.cgroupRoot != "" {
		var err error
		if cg, err = createCgroup(l.cgroupRoot, cfg); err != nil {
			return nil, launchError("cannot create cgroup", err)
		}
		if err := cg.attach(cmd); err != nil {
			_ = cg.remove()
			return nil, launchError("cannot create cgroup", err)
		}
		stop = func(context.Context) error { return cg.kill() }
		onExit = func(exit *Exit) {
			exit.OOMKilled = cg.oomKilled()
			if err := cg.remove(); err != nil {
				l.logger.Warn("failed to remove cgroup", zap.String("sandbox", cfg.ContainerName()), zap.Error(err))
			}
		}
		memoryRlimit = 0
	}

	h, err := startProcess(cmd, cfg.MaxOutputBytes, stop, onExit)
	if cg != nil {
		cg.started()
	}
	if err != nil {
		if cg != nil {
			_ = cg.remove()
		}
		return nil, launchError(fmt.Sprintf("cannot start %s", cfg.Argv[0]), err)
	}

	// Limits apply from here on; the first instructions of the child run unrestricted.
	if err := setResourceLimits(cmd.Process.Pid, memoryRlimit); err != nil {
		l.logger.Warn("failed to apply resource limits", zap.Int("pid", cmd.Process.Pid), zap.Error(err))
	}

	l.logger.Debug("local process started", zap.Int("pid", cmd.Process.Pid), zap.String("dir", cfg.HostDir))
	return h, nil
}

// environ gives the process a minimal environment: PATH, a HOME inside the
// workspace and the language variables, with paths under /sandbox rewritten
// to the workspace directory.
func (l *LocalLauncher) environ(cfg LaunchConfig) []string {
	env := []string{
		"PATH=" + l.path,
		"HOME=" + cfg.HostDir,
		"TMPDIR=" + cfg.HostDir,
	}
	for _, kv := range cfg.Env {
		env = append(env, strings.ReplaceAll(kv, cfg.WorkingDir, cfg.HostDir))
	}
	return env
}
