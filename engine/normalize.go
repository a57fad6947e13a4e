package engine

import (
	"fmt"
	"strings"
)

// ReasonCancelled marks a TimedOut outcome caused by the caller giving up.
const ReasonCancelled = "cancelled"

// oomExitCode is 128+SIGKILL, what a container reports when the kernel OOM
// killer ends it.
const oomExitCode = 137

// OOMNote is appended to stderr when the memory limit ended the program.
const OOMNote = "Execution terminated: memory limit exceeded"

// Normalize converts an outcome into a Result. It never fails.
func Normalize(o Outcome) Result {
	switch o.Kind {
	case Completed:
		stderr := o.Stderr
		if o.OOMKilled || (o.ExitCode == oomExitCode && strings.TrimSpace(stderr) == "") {
			stderr = appendLine(stderr, OOMNote)
		}
		return Result{
			Stdout:   o.Stdout,
			Stderr:   stderr,
			ExitCode: o.ExitCode,
			Duration: o.Duration,
		}

	case TimedOut:
		note := "\nExecution timed out"
		if o.Reason == ReasonCancelled {
			note = "\nExecution cancelled"
		} else if o.Deadline > 0 {
			note = fmt.Sprintf("\nExecution timed out after %s", o.Deadline)
		}
		return Result{
			Stdout:   o.Stdout,
			Stderr:   o.Stderr + note,
			TimedOut: true,
			ExitCode: o.ExitCode,
			Duration: o.Duration,
		}

	default:
		reason := o.Reason
		if reason == "" {
			reason = "execution failed"
		}
		return Result{
			Stderr:   reason,
			ExitCode: -1,
			Duration: o.Duration,
		}
	}
}

func appendLine(s, line string) string {
	if s != "" && !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	return s + line
}
