package engine

import "time"

// Kind classifies how an execution ended.
type Kind int

const (
	// Completed means the program exited on its own before the deadline.
	Completed Kind = iota
	// TimedOut means the program was killed at the deadline or on cancellation.
	TimedOut
	// LaunchFailed means the sandbox never ran the program.
	LaunchFailed
)

func (k Kind) String() string {
	switch k {
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	case LaunchFailed:
		return "launch_failed"
	default:
		return "unknown"
	}
}

// Outcome is the raw result of one supervised execution.
type Outcome struct {
	Kind      Kind
	ExitCode  int
	Stdout    string
	Stderr    string
	OOMKilled bool
	// Reason explains LaunchFailed, or is "cancelled" for a caller cancellation.
	Reason   string
	Deadline time.Duration
	Duration time.Duration
}

// Result is what callers receive.
type Result struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	TimedOut bool          `json:"timedOut"`
	ExitCode int           `json:"exitCode"`
	Duration time.Duration `json:"-"`
}
