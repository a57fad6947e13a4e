package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/isdmx/coderun/config"
	"github.com/isdmx/coderun/metrics"
)

var (
	// ErrWorkspaceCreation is returned when the execution directory cannot be created.
	ErrWorkspaceCreation = errors.New("workspace creation failed")
	// ErrSourceWrite is returned when the source file cannot be written or sealed.
	ErrSourceWrite = errors.New("source write failed")
)

// Directory and file modes
const (
	RootPermission       = 0o711
	DirPermission        = 0o700
	SharedDirPermission  = 0o777
	TempFilePermission   = 0o600
	OwnedFilePermission  = 0o400
	SharedFilePermission = 0o444
)

const (
	dirPrefix  = "run-"
	filePrefix = "code-"
)

// Workspace is one execution's scratch directory.
type Workspace struct {
	ID         string
	Dir        string
	SourcePath string
}

// SourceName returns the base name of the source file, as seen inside the sandbox.
func (w Workspace) SourceName() string {
	if w.SourcePath == "" {
		return ""
	}
	return filepath.Base(w.SourcePath)
}

// Manager creates and destroys workspaces under a single root. It holds no
// per-execution state and is safe for concurrent use.
type Manager struct {
	logger *zap.Logger
	root   string
	fs     FileSystem
	uid    int
	gid    int
}

// Option defines a functional option for Manager
type Option func(*Manager)

// WithFileSystem sets the FileSystem for Manager
func WithFileSystem(fs FileSystem) Option {
	return func(m *Manager) {
		m.fs = fs
	}
}

// WithOwner makes sealed workspaces belong to uid:gid. A negative id leaves
// ownership unchanged and falls back to world-accessible modes.
func WithOwner(uid, gid int) Option {
	return func(m *Manager) {
		m.uid = uid
		m.gid = gid
	}
}

// NewManager creates a Manager rooted at root.
func NewManager(logger *zap.Logger, root string, opts ...Option) *Manager {
	m := &Manager{
		logger: logger,
		root:   filepath.Clean(root),
		fs:     RealFileSystem{},
		uid:    -1,
		gid:    -1,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewManagerFromConfig creates a Manager from the sandbox section of the configuration.
// Without an explicit owner, a root process hands workspaces to sandbox.user.
func NewManagerFromConfig(logger *zap.Logger, cfg *config.Config) *Manager {
	uid, gid := resolveOwner(cfg.Sandbox, os.Geteuid())
	if uid >= 0 && gid >= 0 {
		logger.Info("workspaces are owned by the sandbox user", zap.Int("uid", uid), zap.Int("gid", gid))
	} else {
		logger.Warn("no workspace owner configured, workspaces are world accessible")
	}
	return NewManager(logger, cfg.Sandbox.WorkspaceRoot, WithOwner(uid, gid))
}

func resolveOwner(sb config.SandboxConfig, euid int) (uid, gid int) {
	if sb.OwnerUID >= 0 && sb.OwnerGID >= 0 {
		return sb.OwnerUID, sb.OwnerGID
	}
	// chown needs root.
	if euid != 0 {
		return -1, -1
	}
	uid, gid, err := parseUser(sb.User)
	if err != nil {
		return -1, -1
	}
	return uid, gid
}

// parseUser parses a numeric "uid:gid".
func parseUser(user string) (uid, gid int, err error) {
	u, g, ok := strings.Cut(user, ":")
	if !ok {
		return 0, 0, fmt.Errorf("user %q is not uid:gid", user)
	}
	if uid, err = strconv.Atoi(u); err != nil {
		return 0, 0, fmt.Errorf("user %q: %w", user, err)
	}
	if gid, err = strconv.Atoi(g); err != nil {
		return 0, 0, fmt.Errorf("user %q: %w", user, err)
	}
	if uid < 0 || gid < 0 {
		return 0, 0, fmt.Errorf("user %q: negative id", user)
	}
	return uid, gid, nil
}

// Root returns the directory that holds all workspaces.
func (m *Manager) Root() string {
	return m.root
}

func (m *Manager) owned() bool {
	return m.uid >= 0 && m.gid >= 0
}

// Create makes a fresh, empty workspace directory.
func (m *Manager) Create() (Workspace, error) {
	if err := m.fs.MkdirAll(m.root, RootPermission); err != nil {
		return Workspace{}, fmt.Errorf("%w: create root: %w", ErrWorkspaceCreation, err)
	}
	// MkdirAll is subject to umask and leaves an existing root untouched.
	if err := m.fs.Chmod(m.root, RootPermission); err != nil {
		return Workspace{}, fmt.Errorf("%w: chmod root: %w", ErrWorkspaceCreation, err)
	}

	id := uuid.NewString()
	dir := filepath.Join(m.root, dirPrefix+id)
	if err := m.fs.Mkdir(dir, DirPermission); err != nil {
		return Workspace{}, fmt.Errorf("%w: %w", ErrWorkspaceCreation, err)
	}

	m.logger.Debug("workspace created", zap.String("workspace_id", id), zap.String("path", dir))
	return Workspace{ID: id, Dir: dir}, nil
}

// WriteSource writes content as code-<uuid><ext> and seals the workspace for
// the sandbox user. The file appears under its final name only once complete.
func (m *Manager) WriteSource(ws Workspace, ext string, content []byte) (Workspace, error) {
	if ws.Dir == "" {
		return ws, fmt.Errorf("%w: workspace has no directory", ErrSourceWrite)
	}

	name := filePrefix + uuid.NewString() + ext
	final := filepath.Join(ws.Dir, name)
	tmp := filepath.Join(ws.Dir, "."+name+".tmp")

	if err := m.fs.WriteFile(tmp, content, TempFilePermission); err != nil {
		m.removeTemp(tmp)
		return ws, fmt.Errorf("%w: %w", ErrSourceWrite, err)
	}
	if err := m.fs.Rename(tmp, final); err != nil {
		m.removeTemp(tmp)
		return ws, fmt.Errorf("%w: %w", ErrSourceWrite, err)
	}

	if err := m.seal(ws.Dir, final); err != nil {
		return ws, fmt.Errorf("%w: seal: %w", ErrSourceWrite, err)
	}

	ws.SourcePath = final
	return ws, nil
}

func (m *Manager) seal(dir, file string) error {
	if m.owned() {
		if err := m.fs.Chmod(file, OwnedFilePermission); err != nil {
			return err
		}
		if err := m.fs.Chown(file, m.uid, m.gid); err != nil {
			return err
		}
		return m.fs.Chown(dir, m.uid, m.gid)
	}

	if err := m.fs.Chmod(file, SharedFilePermission); err != nil {
		return err
	}
	return m.fs.Chmod(dir, SharedDirPermission)
}

func (m *Manager) removeTemp(path string) {
	if err := m.fs.Remove(path); err != nil && !isNotExist(err) {
		m.logger.Warn("failed to remove temp source file", zap.String("path", path), zap.Error(err))
	}
}

// Destroy removes the workspace and everything in it. It is idempotent and
// never fails; errors are logged and counted.
func (m *Manager) Destroy(ws Workspace) {
	if ws.Dir == "" {
		return
	}
	if !m.contains(ws.Dir) {
		m.logger.Error("refusing to remove directory outside workspace root",
			zap.String("path", ws.Dir), zap.String("root", m.root))
		metrics.WorkspaceCleanupFailures.Inc()
		return
	}

	if err := m.fs.RemoveAll(ws.Dir); err != nil {
		m.logger.Error("failed to remove workspace",
			zap.String("workspace_id", ws.ID), zap.String("path", ws.Dir), zap.Error(err))
		metrics.WorkspaceCleanupFailures.Inc()
		return
	}
	m.logger.Debug("workspace removed", zap.String("workspace_id", ws.ID))
}

// Sweep removes workspaces left behind by a previous process. It returns the
// number of directories removed.
func (m *Manager) Sweep() int {
	entries, err := m.fs.ReadDir(m.root)
	if err != nil {
		if !isNotExist(err) {
			m.logger.Warn("failed to list workspace root", zap.String("root", m.root), zap.Error(err))
		}
		return 0
	}

	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), dirPrefix) {
			continue
		}
		ws := Workspace{ID: strings.TrimPrefix(e.Name(), dirPrefix), Dir: filepath.Join(m.root, e.Name())}
		if err := m.fs.RemoveAll(ws.Dir); err != nil {
			m.logger.Warn("failed to sweep stale workspace", zap.String("path", ws.Dir), zap.Error(err))
			metrics.WorkspaceCleanupFailures.Inc()
			continue
		}
		removed++
	}
	if removed > 0 {
		m.logger.Info("removed stale workspaces", zap.Int("count", removed), zap.String("root", m.root))
	}
	return removed
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func (m *Manager) contains(dir string) bool {
	clean := filepath.Clean(dir)
	return filepath.Dir(clean) == m.root && strings.HasPrefix(filepath.Base(clean), dirPrefix)
}
