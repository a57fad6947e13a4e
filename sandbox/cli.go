package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// CLI binaries understood by CLILauncher
const (
	BinaryDocker = "docker"
	BinaryPodman = "podman"
)

// CLILauncher runs sandboxes through a container CLI (docker or podman).
// The CLI client runs in its own process group; killing a sandbox kills the
// container by name and then the client's group.
type CLILauncher struct {
	logger    *zap.Logger
	binary    string
	cmdRunner CommandRunner
}

// CLILauncherOption defines a functional option for CLILauncher
type CLILauncherOption func(*CLILauncher)

// WithCommandRunner sets the CommandRunner used for out-of-band commands such as kill
func WithCommandRunner(cmdRunner CommandRunner) CLILauncherOption {
	return func(l *CLILauncher) {
		l.cmdRunner = cmdRunner
	}
}

// WithBinary overrides the CLI executable, e.g. to an absolute path
func WithBinary(binary string) CLILauncherOption {
	return func(l *CLILauncher) {
		l.binary = binary
	}
}

// NewDockerLauncher creates a CLILauncher that uses the docker CLI
func NewDockerLauncher(logger *zap.Logger, opts ...CLILauncherOption) *CLILauncher {
	return newCLILauncher(logger, BinaryDocker, opts...)
}

// NewPodmanLauncher creates a CLILauncher that uses the podman CLI
func NewPodmanLauncher(logger *zap.Logger, opts ...CLILauncherOption) *CLILauncher {
	return newCLILauncher(logger, BinaryPodman, opts...)
}

func newCLILauncher(logger *zap.Logger, binary string, opts ...CLILauncherOption) *CLILauncher {
	l := &CLILauncher{
		logger:    logger,
		binary:    binary,
		cmdRunner: RealCommandRunner{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name returns the CLI binary name.
func (l *CLILauncher) Name() string {
	return l.binary
}

// Launch starts `<binary> run` for cfg.
func (l *CLILauncher) Launch(_ context.Context, cfg LaunchConfig) (Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, launchError("invalid sandbox configuration", err)
	}

	args := RunArgs(cfg)
	name := cfg.ContainerName()

	// Not CommandContext: the supervisor owns the lifetime through Kill.
	cmd := exec.Command(l.binary, args...) //nolint:gosec // argv is built from the language catalog
	h, err := startProcess(cmd, cfg.MaxOutputBytes, func(ctx context.Context) error {
		return l.killContainer(ctx, name)
	}, nil)
	if err != nil {
		return nil, launchError(fmt.Sprintf("%s is not available", l.binary), err)
	}

	l.logger.Debug("container started",
		zap.String("backend", l.binary),
		zap.String("container", name),
		zap.String("image", cfg.Image))
	return h, nil
}

func (l *CLILauncher) killContainer(ctx context.Context, name string) error {
	_, stderr, exitCode, err := l.cmdRunner.RunCommand(ctx, []string{l.binary, "kill", name})
	if err != nil {
		return fmt.Errorf("%s kill %s: %w", l.binary, name, err)
	}
	if exitCode != 0 {
		// The container may already be gone; --rm removes it on exit.
		if strings.Contains(strings.ToLower(stderr), "no such container") {
			return nil
		}
		return fmt.Errorf("%s kill %s: exit code %d: %s", l.binary, name, exitCode, strings.TrimSpace(stderr))
	}
	return nil
}

// RunArgs returns the `run` arguments (without the binary) for cfg.
func RunArgs(cfg LaunchConfig) []string {
	args := []string{
		"run",
		"--rm",
		"--name", cfg.ContainerName(),
		"--network", cfg.Network,
		"--memory", strconv.FormatInt(cfg.MemoryBytes, 10),
		"--memory-swap", strconv.FormatInt(cfg.MemorySwapBytes, 10),
		"--cpus", strconv.FormatFloat(cfg.CPUs, 'f', -1, 64),
		"--pids-limit", strconv.FormatInt(cfg.PidsLimit, 10),
		"--user", cfg.User,
		"--workdir", cfg.WorkingDir,
	}
	for _, c := range cfg.CapDrop {
		args = append(args, "--cap-drop", c)
	}
	for _, o := range cfg.SecurityOpt {
		args = append(args, "--security-opt", o)
	}
	if cfg.ReadOnlyFS {
		args = append(args, "--read-only")
	}

	tmpfs := make([]string, 0, len(cfg.Tmpfs))
	for path := range cfg.Tmpfs {
		tmpfs = append(tmpfs, path)
	}
	sort.Strings(tmpfs)
	for _, path := range tmpfs {
		args = append(args, "--tmpfs", path+":"+cfg.Tmpfs[path])
	}

	for _, m := range cfg.Mounts {
		bind := m.Source + ":" + m.Target
		if m.ReadOnly {
			bind += ":ro"
		}
		args = append(args, "-v", bind)
	}
	for _, e := range cfg.Env {
		args = append(args, "-e", e)
	}

	args = append(args, cfg.Image)
	return append(args, cfg.Argv...)
}
