package sandbox

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/isdmx/coderun/config"
	"github.com/isdmx/coderun/language"
	"github.com/isdmx/coderun/workspace"
)

// Fixed isolation parameters
const (
	// MountPoint is where the workspace appears inside the sandbox.
	MountPoint = "/sandbox"
	// NetworkNone disables every network interface except loopback.
	NetworkNone = "none"
	// TmpfsOptions mounts a small writable /tmp on the otherwise read-only root.
	TmpfsOptions = "rw,exec,nosuid,size=64m,mode=1777"
	// ContainerPrefix is prepended to the execution id to name containers.
	ContainerPrefix = "coderun-"

	BytesPerMB = 1024 * 1024
	BytesPerKB = 1024
)

// Limits are the resource ceilings applied to every sandbox.
type Limits struct {
	MemoryBytes    int64
	CPUs           float64
	PidsLimit      int64
	User           string
	MaxOutputBytes int
}

// DefaultLimits returns 256 MiB, half a core, 64 processes, the nobody user and 1 MiB of output per stream.
func DefaultLimits() Limits {
	return Limits{
		MemoryBytes:    256 * BytesPerMB,
		CPUs:           0.5,
		PidsLimit:      64,
		User:           "65534:65534",
		MaxOutputBytes: 1024 * BytesPerKB,
	}
}

// LimitsFromConfig reads the ceilings from the sandbox section of the configuration.
func LimitsFromConfig(cfg *config.Config) Limits {
	return Limits{
		MemoryBytes:    int64(cfg.Sandbox.MemoryMB) * BytesPerMB,
		CPUs:           cfg.Sandbox.CPUs,
		PidsLimit:      int64(cfg.Sandbox.PidsLimit),
		User:           cfg.Sandbox.User,
		MaxOutputBytes: cfg.Sandbox.MaxOutputKB * BytesPerKB,
	}
}

// Mount is a host directory bound into the sandbox.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// LaunchConfig fully describes one sandboxed process. It is built by
// BuildLaunchConfig and consumed unchanged by every Launcher.
type LaunchConfig struct {
	ID          string
	Image       string
	Argv        []string
	Env         []string
	WorkingDir  string
	HostDir     string
	Mounts      []Mount
	User        string
	Network     string
	ReadOnlyFS  bool
	Tmpfs       map[string]string
	CapDrop     []string
	SecurityOpt []string

	MemoryBytes     int64
	MemorySwapBytes int64
	CPUs            float64
	PidsLimit       int64
	MaxOutputBytes  int
}

// ContainerName returns the name used for the container of this launch.
func (c LaunchConfig) ContainerName() string {
	return ContainerPrefix + c.ID
}

// BuildLaunchConfig combines a language, a sealed workspace and resource
// limits into a launch description. It has no side effects.
func BuildLaunchConfig(desc language.Descriptor, ws workspace.Workspace, limits Limits) (LaunchConfig, error) {
	if ws.Dir == "" || ws.SourcePath == "" {
		return LaunchConfig{}, errors.New("workspace has no source file")
	}
	if desc.Command == nil {
		return LaunchConfig{}, fmt.Errorf("language %s has no command", desc.Key)
	}

	cfg := LaunchConfig{
		ID:         ws.ID,
		Image:      desc.Image,
		Argv:       desc.Command(filepath.Base(ws.SourcePath)),
		Env:        desc.Environ(),
		WorkingDir: MountPoint,
		HostDir:    ws.Dir,
		Mounts: []Mount{
			{Source: ws.Dir, Target: MountPoint},
		},
		User:        limits.User,
		Network:     NetworkNone,
		ReadOnlyFS:  true,
		Tmpfs:       map[string]string{"/tmp": TmpfsOptions},
		CapDrop:     []string{"ALL"},
		SecurityOpt: []string{"no-new-privileges"},

		MemoryBytes:     limits.MemoryBytes,
		MemorySwapBytes: limits.MemoryBytes,
		CPUs:            limits.CPUs,
		PidsLimit:       limits.PidsLimit,
		MaxOutputBytes:  limits.MaxOutputBytes,
	}
	return cfg, cfg.Validate()
}

// Validate refuses a configuration that lacks a ceiling or asks for a network.
//
//nolint:gocyclo // flat list of independent checks
func (c LaunchConfig) Validate() error {
	switch {
	case c.ID == "":
		return errors.New("launch id is required")
	case c.Image == "":
		return errors.New("image is required")
	case len(c.Argv) == 0:
		return errors.New("command is required")
	case c.HostDir == "":
		return errors.New("host directory is required")
	case c.MemoryBytes <= 0:
		return errors.New("memory limit is required")
	case c.MemorySwapBytes < c.MemoryBytes:
		return errors.New("memory swap limit must not be below the memory limit")
	case c.CPUs <= 0:
		return errors.New("cpu limit is required")
	case c.PidsLimit <= 0:
		return errors.New("pids limit is required")
	case c.MaxOutputBytes <= 0:
		return errors.New("output limit is required")
	case c.User == "":
		return errors.New("user is required")
	case c.Network != NetworkNone:
		return fmt.Errorf("network mode %q is not allowed", c.Network)
	}

	dropsAll := false
	for _, capability := range c.CapDrop {
		if capability == "ALL" {
			dropsAll = true
		}
	}
	if !dropsAll {
		return errors.New("all capabilities must be dropped")
	}
	return nil
}
