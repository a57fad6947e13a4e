package sandbox

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/isdmx/coderun/config"
)

// NewLauncher creates the launcher selected by sandbox.backend.
func NewLauncher(logger *zap.Logger, cfg *config.Config) (Launcher, error) {
	switch cfg.Sandbox.Backend {
	case config.BackendDocker:
		return NewDockerLauncher(logger), nil
	case config.BackendPodman:
		return NewPodmanLauncher(logger), nil
	case config.BackendDockerAPI:
		cli, err := NewDockerClient()
		if err != nil {
			return nil, err
		}
		return NewAPILauncher(logger, cli), nil
	case config.BackendLocal:
		if !cfg.Sandbox.EnableLocalBackend {
			return nil, fmt.Errorf("local backend is disabled, set sandbox.enable_local_backend to use it")
		}
		logger.Warn("using the local backend: submitted code runs on the host without isolation")
		var opts []LocalLauncherOption
		if cfg.Sandbox.CgroupRoot != "" {
			opts = append(opts, WithCgroupRoot(cfg.Sandbox.CgroupRoot))
		} else {
			logger.Warn("no sandbox.cgroup_root, local runs are limited by RLIMIT_DATA only")
		}
		return NewLocalLauncher(logger, opts...), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Sandbox.Backend)
	}
}
