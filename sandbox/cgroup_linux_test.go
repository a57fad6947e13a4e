//go:build linux

package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeCgroupDir creates interface files the way cgroupfs exposes them.
func fakeCgroupDir(t *testing.T, files ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, f := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte("max\n"), 0o644))
	}
	return dir
}

func readCgroupFile(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	return string(data)
}

func TestCgroupApply(t *testing.T) {
	cfg := localLaunchConfig(t, "true")
	cfg.MemorySwapBytes = cfg.MemoryBytes

	t.Run("WritesCeilings", func(t *testing.T) {
		dir := fakeCgroupDir(t, "memory.max", "memory.swap.max", "pids.max", "cpu.max")
		require.NoError(t, (&cgroup{path: dir}).apply(cfg))

		assert.Equal(t, "268435456", readCgroupFile(t, dir, "memory.max"))
		assert.Equal(t, "0", readCgroupFile(t, dir, "memory.swap.max"))
		assert.Equal(t, "64", readCgroupFile(t, dir, "pids.max"))
		assert.Equal(t, "50000 100000", readCgroupFile(t, dir, "cpu.max"))
	})

	t.Run("SwapAccountingIsOptional", func(t *testing.T) {
		dir := fakeCgroupDir(t, "memory.max", "pids.max", "cpu.max")
		require.NoError(t, (&cgroup{path: dir}).apply(cfg))
		_, err := os.Stat(filepath.Join(dir, "memory.swap.max"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("MissingMemoryControllerFails", func(t *testing.T) {
		dir := fakeCgroupDir(t, "pids.max", "cpu.max")
		assert.Error(t, (&cgroup{path: dir}).apply(cfg))
	})
}

func TestCgroupOOMKilled(t *testing.T) {
	dir := t.TempDir()
	cg := &cgroup{path: dir}
	assert.False(t, cg.oomKilled())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "memory.events"), []byte("low 0\nhigh 0\nmax 3\noom 1\noom_kill 0\n"), 0o644))
	assert.False(t, cg.oomKilled())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "memory.events"), []byte("low 0\nhigh 0\nmax 9\noom 2\noom_kill 1\n"), 0o644))
	assert.True(t, cg.oomKilled())
}

func TestCgroupKillAndRemove(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "coderun-x")
	require.NoError(t, os.Mkdir(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cgroup.kill"), nil, 0o644))

	cg := &cgroup{path: dir}
	require.NoError(t, cg.kill())
	assert.Equal(t, "1", readCgroupFile(t, dir, "cgroup.kill"))

	require.NoError(t, os.Remove(filepath.Join(dir, "cgroup.kill")))
	require.NoError(t, cg.remove())
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, cg.remove())
}

func TestLocalLauncherCgroupUnavailable(t *testing.T) {
	l := NewLocalLauncher(zaptest.NewLogger(t), WithCgroupRoot(filepath.Join(t.TempDir(), "missing")))
	_, err := l.Launch(context.Background(), localLaunchConfig(t, "true"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLaunchFailed)
	assert.Contains(t, err.Error(), "cannot create cgroup")
}

// Needs a delegated cgroup v2 directory with the memory, pids and cpu
// controllers enabled, e.g. CODERUN_TEST_CGROUP_ROOT=/sys/fs/cgroup/coderun.
func TestLocalLauncherCgroup(t *testing.T) {
	root := os.Getenv("CODERUN_TEST_CGROUP_ROOT")
	if root == "" {
		t.Skip("CODERUN_TEST_CGROUP_ROOT not set")
	}
	l := NewLocalLauncher(zaptest.NewLogger(t), WithCgroupRoot(root))

	t.Run("ReportsOOM", func(t *testing.T) {
		cfg := localLaunchConfig(t, "python3", "-c", "x = []\nwhile True:\n    x.append(' ' * 10**7)\n")
		h, err := l.Launch(context.Background(), cfg)
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		exit, err := h.Wait(ctx)
		require.NoError(t, err)
		assert.True(t, exit.OOMKilled)

		_, err = os.Stat(filepath.Join(root, cfg.ContainerName()))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("KillReachesEscapedChildren", func(t *testing.T) {
		cfg := localLaunchConfig(t, "sh", "-c", "setsid sleep 60 & wait")
		h, err := l.Launch(context.Background(), cfg)
		require.NoError(t, err)
		require.NoError(t, h.Kill(context.Background()))

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err = h.Wait(ctx)
		require.NoError(t, err)
	})
}
