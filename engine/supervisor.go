package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/coderun/metrics"
	"github.com/isdmx/coderun/sandbox"
	"github.com/isdmx/coderun/workspace"
)

// State is a step of one execution's lifecycle.
type State int

// Execution states, in order. Completed, TimedOut and LaunchFailed are
// terminal outcomes; Released follows all of them.
const (
	StatePending State = iota
	StateWorkspaceReady
	StateSandboxRunning
	StateCompleted
	StateTimedOut
	StateLaunchFailed
	StateReleased
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateWorkspaceReady:
		return "workspace_ready"
	case StateSandboxRunning:
		return "sandbox_running"
	case StateCompleted:
		return "completed"
	case StateTimedOut:
		return "timed_out"
	case StateLaunchFailed:
		return "launch_failed"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// supervisor drives a single execution. It is created per call and never shared.
type supervisor struct {
	engine *Engine
	logger *zap.Logger
	id     string
	lang   string
	state  State

	ws       workspace.Workspace
	hasWS    bool
	handle   sandbox.Handle
	finished bool
}

func (s *supervisor) transition(to State) {
	s.logger.Debug("execution state", zap.Stringer("from", s.state), zap.Stringer("state", to))
	s.state = to
}

func (s *supervisor) run(ctx context.Context, source string) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("execution panicked", zap.Any("panic", r), zap.Stack("stack"))
			out = Outcome{Kind: LaunchFailed, Reason: "internal error while supervising the sandbox"}
			err = fmt.Errorf("%w: panic: %v", ErrLaunchFailed, r)
			s.transition(StateLaunchFailed)
		}
		s.release()
	}()

	desc, err := s.engine.catalog.Resolve(s.lang)
	if err != nil {
		return launchFailed(err.Error()), err
	}

	ws, err := s.engine.workspaces.Create()
	if err != nil {
		return launchFailed("failed to prepare workspace"), err
	}
	s.ws, s.hasWS = ws, true
	metrics.ActiveExecutions.Inc()

	ws, err = s.engine.workspaces.WriteSource(ws, desc.Extension, []byte(source))
	if err != nil {
		return launchFailed("failed to write source file"), err
	}
	s.ws = ws
	s.logger = s.logger.With(zap.String("workspace_id", ws.ID))
	s.transition(StateWorkspaceReady)

	cfg, err := sandbox.BuildLaunchConfig(desc, ws, s.engine.limits)
	if err != nil {
		s.transition(StateLaunchFailed)
		err = &sandbox.LaunchError{Reason: "sandbox configuration rejected", Err: err}
		return launchFailed(err.Error()), err
	}

	handle, err := s.engine.launcher.Launch(ctx, cfg)
	if err != nil {
		s.transition(StateLaunchFailed)
		if !errors.Is(err, ErrLaunchFailed) {
			err = &sandbox.LaunchError{Reason: "sandbox launch failed", Err: err}
		}
		return launchFailed(launchReason(err)), err
	}
	s.handle = handle
	s.transition(StateSandboxRunning)

	return s.supervise(ctx), nil
}

// supervise waits for the sandbox under the deadline, which starts now.
func (s *supervisor) supervise(ctx context.Context) Outcome {
	start := time.Now()
	deadline := s.engine.timeout

	waitCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	exit, err := s.handle.Wait(waitCtx)
	if err == nil {
		s.finished = true
		s.transition(StateCompleted)
		return Outcome{
			Kind:      Completed,
			ExitCode:  exit.Code,
			Stdout:    s.handle.Stdout(),
			Stderr:    s.handle.Stderr(),
			OOMKilled: exit.OOMKilled,
			Duration:  time.Since(start),
		}
	}

	if waitCtx.Err() == nil {
		// The runtime lost track of the sandbox.
		s.logger.Error("sandbox wait failed", zap.Error(err))
		s.transition(StateLaunchFailed)
		return Outcome{Kind: LaunchFailed, Reason: fmt.Sprintf("sandbox runtime error: %v", err), Duration: time.Since(start)}
	}

	reason := ""
	if ctx.Err() != nil {
		reason = ReasonCancelled
	}
	s.logger.Info("killing sandbox", zap.Duration("deadline", deadline), zap.String("reason", reason))
	s.kill()

	graceCtx, graceCancel := context.WithTimeout(context.Background(), s.engine.killGrace)
	defer graceCancel()
	exit, err = s.handle.Wait(graceCtx)
	if err == nil {
		s.finished = true
	} else {
		s.logger.Warn("sandbox did not exit within kill grace", zap.Duration("grace", s.engine.killGrace))
	}

	s.transition(StateTimedOut)
	return Outcome{
		Kind:     TimedOut,
		ExitCode: exit.Code,
		Stdout:   s.handle.Stdout(),
		Stderr:   s.handle.Stderr(),
		Reason:   reason,
		Deadline: deadline,
		Duration: time.Since(start),
	}
}

// kill never gives up on release: a failed kill is logged and counted.
func (s *supervisor) kill() {
	ctx, cancel := context.WithTimeout(context.Background(), s.engine.killGrace+time.Second)
	defer cancel()
	if err := s.handle.Kill(ctx); err != nil {
		s.logger.Error("failed to kill sandbox", zap.Error(err))
		metrics.KillFailures.WithLabelValues(s.engine.launcher.Name()).Inc()
	}
}

func (s *supervisor) release() {
	if s.handle != nil && !s.finished {
		s.kill()
	}
	if s.hasWS {
		s.engine.workspaces.Destroy(s.ws)
		metrics.ActiveExecutions.Dec()
	}
	s.transition(StateReleased)
}

func launchFailed(reason string) Outcome {
	return Outcome{Kind: LaunchFailed, Reason: reason}
}

func launchReason(err error) string {
	var le *sandbox.LaunchError
	if errors.As(err, &le) {
		if le.Err != nil {
			return fmt.Sprintf("%s: %v", le.Reason, le.Err)
		}
		return le.Reason
	}
	return err.Error()
}
