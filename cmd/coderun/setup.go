package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/isdmx/coderun/config"
	"github.com/isdmx/coderun/engine"
	"github.com/isdmx/coderun/language"
	"github.com/isdmx/coderun/logger"
	"github.com/isdmx/coderun/sandbox"
	"github.com/isdmx/coderun/workspace"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// newEngine wires the engine the same way the server does.
func newEngine(cfg *config.Config) (*engine.Engine, *zap.Logger, error) {
	log, err := logger.New("development", logLevelFlag)
	if err != nil {
		return nil, nil, fmt.Errorf("creating logger: %w", err)
	}

	registry, err := language.NewRegistryFromConfig(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("loading languages: %w", err)
	}

	launcher, err := sandbox.NewLauncher(log, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating sandbox launcher: %w", err)
	}

	workspaces := workspace.NewManagerFromConfig(log, cfg)
	return engine.NewFromConfig(log, cfg, registry, workspaces, launcher), log, nil
}
