package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isdmx/coderun/config"
	"github.com/isdmx/coderun/language"
	"github.com/isdmx/coderun/workspace"
)

func testDescriptor(t *testing.T) language.Descriptor {
	t.Helper()
	cmd, err := language.ParseCommand("python -u {file}")
	require.NoError(t, err)
	return language.Descriptor{
		Key:       "py",
		Extension: ".py",
		Image:     "python:3.11-slim",
		Env:       map[string]string{"PYTHONDONTWRITEBYTECODE": "1"},
		Command:   cmd,
	}
}

func testWorkspace() workspace.Workspace {
	return workspace.Workspace{
		ID:         "0b4f",
		Dir:        "/var/tmp/coderun/run-0b4f",
		SourcePath: "/var/tmp/coderun/run-0b4f/code-1234.py",
	}
}

func TestBuildLaunchConfig(t *testing.T) {
	cfg, err := BuildLaunchConfig(testDescriptor(t), testWorkspace(), DefaultLimits())
	require.NoError(t, err)

	assert.Equal(t, "0b4f", cfg.ID)
	assert.Equal(t, "coderun-0b4f", cfg.ContainerName())
	assert.Equal(t, "python:3.11-slim", cfg.Image)
	assert.Equal(t, []string{"python", "-u", "code-1234.py"}, cfg.Argv)
	assert.Equal(t, []string{"PYTHONDONTWRITEBYTECODE=1"}, cfg.Env)
	assert.Equal(t, MountPoint, cfg.WorkingDir)
	assert.Equal(t, []Mount{{Source: "/var/tmp/coderun/run-0b4f", Target: "/sandbox"}}, cfg.Mounts)
	assert.Equal(t, NetworkNone, cfg.Network)
	assert.Equal(t, "65534:65534", cfg.User)
	assert.Equal(t, []string{"ALL"}, cfg.CapDrop)
	assert.Equal(t, []string{"no-new-privileges"}, cfg.SecurityOpt)
	assert.True(t, cfg.ReadOnlyFS)
	assert.Contains(t, cfg.Tmpfs, "/tmp")

	assert.Equal(t, int64(256*1024*1024), cfg.MemoryBytes)
	assert.Equal(t, cfg.MemoryBytes, cfg.MemorySwapBytes)
	assert.Equal(t, 0.5, cfg.CPUs)
	assert.Equal(t, int64(64), cfg.PidsLimit)
	assert.Equal(t, 1024*1024, cfg.MaxOutputBytes)
}

func TestBuildLaunchConfigIsDeterministic(t *testing.T) {
	a, err := BuildLaunchConfig(testDescriptor(t), testWorkspace(), DefaultLimits())
	require.NoError(t, err)
	b, err := BuildLaunchConfig(testDescriptor(t), testWorkspace(), DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, RunArgs(a), RunArgs(b))
}

func TestBuildLaunchConfigErrors(t *testing.T) {
	t.Run("NoSource", func(t *testing.T) {
		ws := testWorkspace()
		ws.SourcePath = ""
		_, err := BuildLaunchConfig(testDescriptor(t), ws, DefaultLimits())
		require.Error(t, err)
	})

	t.Run("ZeroLimits", func(t *testing.T) {
		_, err := BuildLaunchConfig(testDescriptor(t), testWorkspace(), Limits{})
		require.Error(t, err)
	})
}

func TestLimitsFromConfig(t *testing.T) {
	cfg := &config.Config{Sandbox: config.SandboxConfig{
		MemoryMB:    128,
		CPUs:        1.5,
		PidsLimit:   32,
		User:        "1000:1000",
		MaxOutputKB: 64,
	}}

	assert.Equal(t, Limits{
		MemoryBytes:    128 * 1024 * 1024,
		CPUs:           1.5,
		PidsLimit:      32,
		User:           "1000:1000",
		MaxOutputBytes: 64 * 1024,
	}, LimitsFromConfig(cfg))
}

func TestLaunchConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*LaunchConfig)
		wantErr string
	}{
		{"Valid", func(*LaunchConfig) {}, ""},
		{"MissingID", func(c *LaunchConfig) { c.ID = "" }, "launch id is required"},
		{"MissingImage", func(c *LaunchConfig) { c.Image = "" }, "image is required"},
		{"MissingArgv", func(c *LaunchConfig) { c.Argv = nil }, "command is required"},
		{"MissingHostDir", func(c *LaunchConfig) { c.HostDir = "" }, "host directory is required"},
		{"NoMemoryLimit", func(c *LaunchConfig) { c.MemoryBytes = 0 }, "memory limit is required"},
		{"SwapBelowMemory", func(c *LaunchConfig) { c.MemorySwapBytes = 1 }, "memory swap limit"},
		{"NoCPULimit", func(c *LaunchConfig) { c.CPUs = 0 }, "cpu limit is required"},
		{"NoPidsLimit", func(c *LaunchConfig) { c.PidsLimit = 0 }, "pids limit is required"},
		{"NoOutputLimit", func(c *LaunchConfig) { c.MaxOutputBytes = 0 }, "output limit is required"},
		{"NoUser", func(c *LaunchConfig) { c.User = "" }, "user is required"},
		{"BridgeNetwork", func(c *LaunchConfig) { c.Network = "bridge" }, `network mode "bridge" is not allowed`},
		{"HostNetwork", func(c *LaunchConfig) { c.Network = "host" }, "is not allowed"},
		{"CapabilitiesKept", func(c *LaunchConfig) { c.CapDrop = []string{"NET_RAW"} }, "all capabilities must be dropped"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := BuildLaunchConfig(testDescriptor(t), testWorkspace(), DefaultLimits())
			require.NoError(t, err)
			tt.mutate(&cfg)

			err = cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRunArgs(t *testing.T) {
	cfg, err := BuildLaunchConfig(testDescriptor(t), testWorkspace(), DefaultLimits())
	require.NoError(t, err)

	args := RunArgs(cfg)

	assert.Equal(t, "run", args[0])
	assert.Equal(t, []string{"python:3.11-slim", "python", "-u", "code-1234.py"}, args[len(args)-4:])

	pairs := map[string]string{}
	for i := 1; i < len(args)-5; i++ {
		if len(args[i]) > 1 && args[i][0] == '-' && args[i+1][0] != '-' {
			pairs[args[i]] = args[i+1]
		}
	}
	assert.Equal(t, "coderun-0b4f", pairs["--name"])
	assert.Equal(t, "none", pairs["--network"])
	assert.Equal(t, "268435456", pairs["--memory"])
	assert.Equal(t, "268435456", pairs["--memory-swap"])
	assert.Equal(t, "0.5", pairs["--cpus"])
	assert.Equal(t, "64", pairs["--pids-limit"])
	assert.Equal(t, "65534:65534", pairs["--user"])
	assert.Equal(t, "/sandbox", pairs["--workdir"])
	assert.Equal(t, "ALL", pairs["--cap-drop"])
	assert.Equal(t, "no-new-privileges", pairs["--security-opt"])
	assert.Equal(t, "/var/tmp/coderun/run-0b4f:/sandbox", pairs["-v"])
	assert.Equal(t, "PYTHONDONTWRITEBYTECODE=1", pairs["-e"])
	assert.Equal(t, "/tmp:"+TmpfsOptions, pairs["--tmpfs"])
	assert.Contains(t, args, "--rm")
	assert.Contains(t, args, "--read-only")
}

func TestLaunchError(t *testing.T) {
	err := launchError("cannot start container", assert.AnError)

	var le *LaunchError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "cannot start container", le.Reason)
	assert.ErrorIs(t, err, ErrLaunchFailed)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "cannot start container")
}
