package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend names accepted by sandbox.backend
const (
	BackendDocker    = "docker"
	BackendPodman    = "podman"
	BackendDockerAPI = "docker-api"
	BackendLocal     = "local"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig        `mapstructure:"server"`
	API       APIConfig           `mapstructure:"api"`
	Sandbox   SandboxConfig       `mapstructure:"sandbox"`
	Logging   LoggingConfig       `mapstructure:"logging"`
	Languages map[string]Language `mapstructure:"languages"`
}

// ServerConfig holds the MCP server configuration
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
}

// APIConfig holds the REST API configuration
type APIConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Port     int    `mapstructure:"port"`
	BasePath string `mapstructure:"base_path"`
}

// SandboxConfig holds sandbox configuration
type SandboxConfig struct {
	Backend            string  `mapstructure:"backend"`
	TimeoutSec         int     `mapstructure:"timeout_sec"`
	KillGraceMs        int     `mapstructure:"kill_grace_ms"`
	MemoryMB           int     `mapstructure:"memory_mb"`
	CPUs               float64 `mapstructure:"cpus"`
	PidsLimit          int     `mapstructure:"pids_limit"`
	MaxOutputKB        int     `mapstructure:"max_output_kb"`
	WorkspaceRoot      string  `mapstructure:"workspace_root"`
	User               string  `mapstructure:"user"`
	OwnerUID           int     `mapstructure:"owner_uid"`
	OwnerGID           int     `mapstructure:"owner_gid"`
	CatalogFile        string  `mapstructure:"catalog_file"`
	CgroupRoot         string  `mapstructure:"cgroup_root"`
	EnableLocalBackend bool    `mapstructure:"enable_local_backend"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// Language overrides one entry of the built-in language catalog.
// Empty fields keep the built-in value.
type Language struct {
	DisplayName string            `mapstructure:"display_name"`
	Extension   string            `mapstructure:"extension"`
	Image       string            `mapstructure:"image"`
	Command     string            `mapstructure:"command"`
	Environment map[string]string `mapstructure:"environment"`
}

// New loads the configuration from ./config.yaml or ./config/config.yaml,
// falling back to defaults when no file exists.
func New() (*Config, error) {
	return Load("")
}

// Load reads the configuration from path. An empty path searches the default locations.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("CODERUN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.transport", "http")
	v.SetDefault("server.http_port", 8080)

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.port", 3000)
	v.SetDefault("api.base_path", "/api/compiler")

	// Ceilings match the original runner: 256 MiB, half a core, 64 pids, 10s.
	v.SetDefault("sandbox.backend", BackendDocker)
	v.SetDefault("sandbox.timeout_sec", 10)
	v.SetDefault("sandbox.kill_grace_ms", 2000)
	v.SetDefault("sandbox.memory_mb", 256)
	v.SetDefault("sandbox.cpus", 0.5)
	v.SetDefault("sandbox.pids_limit", 64)
	v.SetDefault("sandbox.max_output_kb", 1024)
	v.SetDefault("sandbox.workspace_root", filepath.Join(os.TempDir(), "coderun"))
	v.SetDefault("sandbox.user", "65534:65534")
	v.SetDefault("sandbox.owner_uid", -1)
	v.SetDefault("sandbox.owner_gid", -1)
	v.SetDefault("sandbox.catalog_file", "")
	v.SetDefault("sandbox.cgroup_root", "")
	v.SetDefault("sandbox.enable_local_backend", false)

	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")
}

// validate ensures the configuration is valid
//
//nolint:gocyclo // flat list of independent checks
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	if c.API.Enabled && (c.API.Port <= 0 || c.API.Port > 65535) {
		return fmt.Errorf("api.port must be a valid port, got: %d", c.API.Port)
	}

	if c.API.Enabled && !strings.HasPrefix(c.API.BasePath, "/") {
		return fmt.Errorf("api.base_path must start with '/', got: %q", c.API.BasePath)
	}

	if c.Sandbox.TimeoutSec <= 0 {
		return fmt.Errorf("sandbox.timeout_sec must be positive, got: %d", c.Sandbox.TimeoutSec)
	}

	if c.Sandbox.KillGraceMs < 0 {
		return fmt.Errorf("sandbox.kill_grace_ms must not be negative, got: %d", c.Sandbox.KillGraceMs)
	}

	if c.Sandbox.MemoryMB <= 0 {
		return fmt.Errorf("sandbox.memory_mb must be positive, got: %d", c.Sandbox.MemoryMB)
	}

	if c.Sandbox.CPUs <= 0 || c.Sandbox.CPUs > float64(runtime.NumCPU()) {
		return fmt.Errorf("sandbox.cpus must be in (0, %d], got: %g", runtime.NumCPU(), c.Sandbox.CPUs)
	}

	if c.Sandbox.PidsLimit <= 0 {
		return fmt.Errorf("sandbox.pids_limit must be positive, got: %d", c.Sandbox.PidsLimit)
	}

	if c.Sandbox.MaxOutputKB <= 0 {
		return fmt.Errorf("sandbox.max_output_kb must be positive, got: %d", c.Sandbox.MaxOutputKB)
	}

	if c.Sandbox.WorkspaceRoot == "" {
		return fmt.Errorf("sandbox.workspace_root is required")
	}

	if c.Sandbox.User == "" {
		return fmt.Errorf("sandbox.user is required")
	}

	if c.Sandbox.CgroupRoot != "" && !filepath.IsAbs(c.Sandbox.CgroupRoot) {
		return fmt.Errorf("sandbox.cgroup_root must be an absolute path, got: %q", c.Sandbox.CgroupRoot)
	}

	supportedBackends := map[string]bool{
		BackendDocker:    true,
		BackendPodman:    true,
		BackendDockerAPI: true,
		BackendLocal:     c.Sandbox.EnableLocalBackend, // local only enabled if specifically allowed
	}

	if !supportedBackends[c.Sandbox.Backend] {
		return fmt.Errorf("unsupported sandbox.backend: %s", c.Sandbox.Backend)
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error", "dpanic", "panic", "fatal":
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	for key, lang := range c.Languages {
		if lang.Extension != "" && !strings.HasPrefix(lang.Extension, ".") {
			return fmt.Errorf("languages.%s.extension must start with '.', got: %q", key, lang.Extension)
		}
	}

	return nil
}

// GetTimeout returns the execution timeout as a duration
func (c *Config) GetTimeout() time.Duration {
	return time.Duration(c.Sandbox.TimeoutSec) * time.Second
}

// GetKillGrace returns how long to wait for output to drain after a forced kill
func (c *Config) GetKillGrace() time.Duration {
	return time.Duration(c.Sandbox.KillGraceMs) * time.Millisecond
}
