package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// CommandRunner defines an interface for executing short-lived system commands
type CommandRunner interface {
	RunCommand(ctx context.Context, args []string) (stdout, stderr string, exitCode int, err error)
}

// RealCommandRunner implements CommandRunner using actual exec commands
type RealCommandRunner struct{}

// RunCommand executes the given command with arguments. A non-zero exit is
// reported through exitCode, not err.
func (RealCommandRunner) RunCommand(ctx context.Context, args []string) (stdout, stderr string, exitCode int, err error) {
	if len(args) < 1 {
		return "", "", 0, fmt.Errorf("no command provided")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...) //nolint:gosec // Safe as this is controlled input

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err = cmd.Run()

	exitCode = 0
	if err != nil {
		var exitError *exec.ExitError
		if !errors.As(err, &exitError) {
			return "", "", 0, err
		}
		exitCode = exitError.ExitCode()
	}

	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}
