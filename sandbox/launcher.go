package sandbox

import (
	"context"
	"errors"
	"fmt"
)

// ErrLaunchFailed matches every *LaunchError.
var ErrLaunchFailed = errors.New("sandbox launch failed")

// LaunchError reports why a sandbox could not be started. Reason is safe to
// show to the submitter.
type LaunchError struct {
	Reason string
	Err    error
}

func (e *LaunchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrLaunchFailed, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrLaunchFailed, e.Reason)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// Is reports whether target is ErrLaunchFailed.
func (e *LaunchError) Is(target error) bool { return target == ErrLaunchFailed }

func launchError(reason string, err error) error {
	return &LaunchError{Reason: reason, Err: err}
}

// Exit describes how a sandboxed process ended.
type Exit struct {
	Code      int
	OOMKilled bool
}

// Handle is a running sandbox. Output is captured continuously from launch.
type Handle interface {
	// Wait blocks until the process exits or ctx is done.
	Wait(ctx context.Context) (Exit, error)
	// Kill terminates the process and all of its descendants. It is
	// idempotent and a no-op once the process has exited.
	Kill(ctx context.Context) error
	Stdout() string
	Stderr() string
}

// Launcher starts sandboxed processes.
type Launcher interface {
	// Launch starts the process described by cfg and returns without waiting
	// for it. Errors are *LaunchError.
	Launch(ctx context.Context, cfg LaunchConfig) (Handle, error)
	// Name identifies the backend in logs and metrics.
	Name() string
}
