package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/isdmx/coderun/config"
	"github.com/isdmx/coderun/language"
	"github.com/isdmx/coderun/metrics"
	"github.com/isdmx/coderun/sandbox"
	"github.com/isdmx/coderun/workspace"
)

// Re-exported so callers can classify Execute errors without importing
// every collaborator package.
var (
	ErrUnsupportedLanguage = language.ErrUnsupportedLanguage
	ErrWorkspaceCreation   = workspace.ErrWorkspaceCreation
	ErrSourceWrite         = workspace.ErrSourceWrite
	ErrLaunchFailed        = sandbox.ErrLaunchFailed
)

// Defaults used when no option overrides them
const (
	DefaultTimeout   = 10 * time.Second
	DefaultKillGrace = 2 * time.Second
)

// Catalog resolves language keys.
type Catalog interface {
	Resolve(key string) (language.Descriptor, error)
	List() []language.Info
}

// Workspaces creates and removes per-execution directories.
type Workspaces interface {
	Create() (workspace.Workspace, error)
	WriteSource(ws workspace.Workspace, ext string, content []byte) (workspace.Workspace, error)
	Destroy(ws workspace.Workspace)
}

// Engine executes untrusted source code. It is safe for concurrent use.
type Engine struct {
	logger     *zap.Logger
	catalog    Catalog
	workspaces Workspaces
	launcher   sandbox.Launcher
	limits     sandbox.Limits
	timeout    time.Duration
	killGrace  time.Duration
}

// Option defines a functional option for Engine
type Option func(*Engine)

// WithTimeout sets the wall-clock limit measured from launch
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.timeout = d
	}
}

// WithKillGrace sets how long to wait for output to drain after a kill
func WithKillGrace(d time.Duration) Option {
	return func(e *Engine) {
		e.killGrace = d
	}
}

// WithLimits sets the sandbox resource ceilings
func WithLimits(l sandbox.Limits) Option {
	return func(e *Engine) {
		e.limits = l
	}
}

// New creates an Engine.
func New(logger *zap.Logger, catalog Catalog, workspaces Workspaces, launcher sandbox.Launcher, opts ...Option) *Engine {
	e := &Engine{
		logger:     logger,
		catalog:    catalog,
		workspaces: workspaces,
		launcher:   launcher,
		limits:     sandbox.DefaultLimits(),
		timeout:    DefaultTimeout,
		killGrace:  DefaultKillGrace,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewFromConfig creates an Engine with the limits and timeouts of cfg.
func NewFromConfig(logger *zap.Logger, cfg *config.Config, catalog *language.Registry, workspaces *workspace.Manager, launcher sandbox.Launcher) *Engine {
	return New(logger, catalog, workspaces, launcher,
		WithTimeout(cfg.GetTimeout()),
		WithKillGrace(cfg.GetKillGrace()),
		WithLimits(sandbox.LimitsFromConfig(cfg)),
	)
}

// Languages lists the supported languages.
func (e *Engine) Languages() []language.Info {
	return e.catalog.List()
}

// Timeout returns the execution deadline.
func (e *Engine) Timeout() time.Duration {
	return e.timeout
}

// Execute runs source as lang and blocks until it finishes, times out or ctx
// is cancelled. The Result is always well formed; a non-nil error reports an
// unsupported language, a host-side workspace failure or a launch failure, and
// the Result's stderr then carries the reason. A non-zero exit is not an error.
func (e *Engine) Execute(ctx context.Context, lang, source string) (Result, error) {
	s := &supervisor{
		engine: e,
		id:     uuid.NewString(),
		lang:   lang,
	}
	s.logger = e.logger.With(zap.String("execution_id", s.id), zap.String("language", lang))

	out, err := s.run(ctx, source)
	res := Normalize(out)

	label := lang
	if errors.Is(err, ErrUnsupportedLanguage) {
		label = "unsupported"
	}
	metrics.ExecutionsTotal.WithLabelValues(label, outcomeLabel(out, err)).Inc()
	if out.Kind != LaunchFailed {
		metrics.ExecutionDuration.WithLabelValues(label).Observe(out.Duration.Seconds())
	}

	s.logger.Info("execution finished",
		zap.Stringer("outcome", out.Kind),
		zap.Int("exit_code", res.ExitCode),
		zap.Bool("timed_out", res.TimedOut),
		zap.Duration("duration", out.Duration),
		zap.Error(err))
	return res, err
}

func outcomeLabel(out Outcome, err error) string {
	switch {
	case errors.Is(err, ErrUnsupportedLanguage):
		return metrics.OutcomeRejected
	case out.Kind == Completed:
		return metrics.OutcomeCompleted
	case out.Kind == TimedOut:
		return metrics.OutcomeTimedOut
	default:
		return metrics.OutcomeLaunchFailed
	}
}
