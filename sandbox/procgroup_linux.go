//go:build linux

package sandbox

import (
	"errors"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcessGroup puts the child in its own process group and has the
// kernel kill it if this process dies first.
func setProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
	cmd.SysProcAttr.Pdeathsig = syscall.SIGKILL
}

// killProcessGroup sends SIGKILL to every process in the group led by pid.
func killProcessGroup(pid int) error {
	if pid <= 0 {
		return nil
	}
	err := unix.Kill(-pid, unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// waitExited blocks until pid has exited without reaping it, so the pid and
// its process group id cannot be reused until cmd.Wait runs.
func waitExited(pid int) {
	var info unix.Siginfo
	for {
		err := unix.Waitid(unix.P_PID, pid, &info, unix.WEXITED|unix.WNOWAIT, nil)
		if !errors.Is(err, unix.EINTR) {
			return
		}
	}
}

// setResourceLimits caps the data segment, file size and core dumps of a
// started process. A zero memoryBytes leaves memory to the cgroup.
//
// RLIMIT_AS is not used: V8 and the JVM reserve far more address space
// than they ever touch.
func setResourceLimits(pid int, memoryBytes int64) error {
	if memoryBytes > 0 {
		data := &unix.Rlimit{Cur: uint64(memoryBytes), Max: uint64(memoryBytes)}
		if err := unix.Prlimit(pid, unix.RLIMIT_DATA, data, nil); err != nil {
			return err
		}
	}
	fsize := &unix.Rlimit{Cur: maxFileBytes, Max: maxFileBytes}
	if err := unix.Prlimit(pid, unix.RLIMIT_FSIZE, fsize, nil); err != nil {
		return err
	}
	return unix.Prlimit(pid, unix.RLIMIT_CORE, &unix.Rlimit{}, nil)
}
