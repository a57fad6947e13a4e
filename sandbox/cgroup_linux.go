//go:build linux

package sandbox

import (
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

const (
	cgroupPeriodMicros = 100000
	cgroupRemoveTries  = 50
	cgroupRemoveWait   = 20 * time.Millisecond
)

// cgroup is a cgroup v2 directory holding exactly one local sandbox.
type cgroup struct {
	path string
	dir  *os.File
}

// createCgroup makes <root>/coderun-<id> and writes the ceilings of cfg.
// root must be a delegated cgroup v2 directory with the memory, pids and cpu
// controllers enabled in cgroup.subtree_control.
func createCgroup(root string, cfg LaunchConfig) (*cgroup, error) {
	path := filepath.Join(root, cfg.ContainerName())
	if err := os.Mkdir(path, 0o755); err != nil {
		return nil, fmt.Errorf("create cgroup: %w", err)
	}
	cg := &cgroup{path: path}
	if err := cg.apply(cfg); err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	return cg, nil
}

func (c *cgroup) apply(cfg LaunchConfig) error {
	limits := []struct {
		name     string
		value    string
		optional bool
	}{
		{name: "memory.max", value: strconv.FormatInt(cfg.MemoryBytes, 10)},
		// Absent when the kernel does not account swap.
		{name: "memory.swap.max", value: strconv.FormatInt(cfg.MemorySwapBytes-cfg.MemoryBytes, 10), optional: true},
		{name: "pids.max", value: strconv.FormatInt(cfg.PidsLimit, 10)},
		{name: "cpu.max", value: fmt.Sprintf("%d %d", int64(math.Ceil(cfg.CPUs*cgroupPeriodMicros)), cgroupPeriodMicros)},
	}
	for _, l := range limits {
		err := writeCgroupValue(c.path, l.name, l.value)
		if l.optional && errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// attach makes cmd start directly inside the cgroup.
func (c *cgroup) attach(cmd *exec.Cmd) error {
	dir, err := os.Open(c.path)
	if err != nil {
		return fmt.Errorf("open cgroup: %w", err)
	}
	c.dir = dir
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.UseCgroupFD = true
	cmd.SysProcAttr.CgroupFD = int(dir.Fd())
	return nil
}

// started releases the descriptor passed to the child.
func (c *cgroup) started() {
	if c.dir != nil {
		_ = c.dir.Close()
		c.dir = nil
	}
}

// kill terminates every process in the cgroup, including ones that left the
// process group.
func (c *cgroup) kill() error {
	err := writeCgroupValue(c.path, "cgroup.kill", "1")
	if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	// cgroup.kill needs Linux 5.14.
	data, err := os.ReadFile(filepath.Join(c.path, "cgroup.procs"))
	if err != nil {
		return err
	}
	for _, field := range strings.Fields(string(data)) {
		pid, convErr := strconv.Atoi(field)
		if convErr != nil {
			continue
		}
		if killErr := unix.Kill(pid, unix.SIGKILL); killErr != nil && !errors.Is(killErr, unix.ESRCH) {
			err = multierr.Append(err, killErr)
		}
	}
	return err
}

func (c *cgroup) oomKilled() bool {
	data, err := os.ReadFile(filepath.Join(c.path, "memory.events"))
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[0] == "oom_kill" {
			n, _ := strconv.ParseInt(fields[1], 10, 64)
			return n > 0
		}
	}
	return false
}

// remove kills what is left and deletes the cgroup. The kernel refuses
// rmdir until the last member has been reaped.
func (c *cgroup) remove() error {
	c.started()
	_ = c.kill()

	var err error
	for i := 0; i < cgroupRemoveTries; i++ {
		err = os.Remove(c.path)
		if err == nil || errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if !errors.Is(err, unix.EBUSY) {
			return err
		}
		time.Sleep(cgroupRemoveWait)
	}
	return err
}

// writeCgroupValue writes an existing interface file; cgroupfs files are
// never created.
func writeCgroupValue(dir, name, value string) error {
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(value); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	return f.Close()
}
