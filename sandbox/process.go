package sandbox

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/multierr"
)

// maxFileBytes caps any single file written by a local sandbox.
const maxFileBytes = 64 * 1024 * 1024

// defaultWaitDelay bounds how long Wait keeps reading output after the
// process itself has exited.
const defaultWaitDelay = 2 * time.Second

// processHandle supervises an *exec.Cmd started in its own process group.
type processHandle struct {
	cmd    *exec.Cmd
	stdout *cappedBuffer
	stderr *cappedBuffer

	// stop terminates anything the process group kill cannot reach, such
	// as a container owned by a daemon.
	stop func(ctx context.Context) error
	// onExit runs once the process has been reaped, before Wait returns.
	onExit func(*Exit)

	done    chan struct{}
	exit    Exit
	waitErr error

	killMu sync.Mutex
	killed bool
}

// startProcess starts cmd with output captured into capped buffers.
func startProcess(cmd *exec.Cmd, maxOutput int, stop func(ctx context.Context) error, onExit func(*Exit)) (*processHandle, error) {
	h := &processHandle{
		cmd:    cmd,
		stdout: newCappedBuffer(maxOutput),
		stderr: newCappedBuffer(maxOutput),
		stop:   stop,
		onExit: onExit,
		done:   make(chan struct{}),
	}
	cmd.Stdout = h.stdout
	cmd.Stderr = h.stderr
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = defaultWaitDelay
	}
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	go h.reap()
	return h, nil
}

func (h *processHandle) reap() {
	// The leader stays a zombie until cmd.Wait, so its group id cannot be
	// recycled while background children are killed.
	pid := h.cmd.Process.Pid
	waitExited(pid)
	_ = killProcessGroup(pid)

	err := h.cmd.Wait()
	code := 0
	if state := h.cmd.ProcessState; state != nil {
		code = state.ExitCode()
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) && !errors.Is(err, exec.ErrWaitDelay) {
		h.waitErr = err
	}
	h.exit = Exit{Code: code}
	if h.onExit != nil {
		h.onExit(&h.exit)
	}
	close(h.done)
}

func (h *processHandle) Wait(ctx context.Context) (Exit, error) {
	select {
	case <-h.done:
		return h.exit, h.waitErr
	case <-ctx.Done():
		return Exit{}, ctx.Err()
	}
}

func (h *processHandle) exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *processHandle) Kill(ctx context.Context) error {
	h.killMu.Lock()
	defer h.killMu.Unlock()

	if h.killed || h.exited() {
		return nil
	}
	h.killed = true

	var err error
	if h.stop != nil {
		err = multierr.Append(err, h.stop(ctx))
	}
	return multierr.Append(err, killProcessGroup(h.cmd.Process.Pid))
}

func (h *processHandle) Stdout() string { return h.stdout.String() }

func (h *processHandle) Stderr() string { return h.stderr.String() }
