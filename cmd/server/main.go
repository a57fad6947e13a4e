package main

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/coderun/config"
	"github.com/isdmx/coderun/engine"
	"github.com/isdmx/coderun/httpapi"
	"github.com/isdmx/coderun/language"
	"github.com/isdmx/coderun/logger"
	"github.com/isdmx/coderun/mcpserver"
	"github.com/isdmx/coderun/sandbox"
	"github.com/isdmx/coderun/workspace"
)

func main() {
	app := fx.New(
		// Provide dependencies
		fx.Provide(
			// Config
			config.New,

			// Logger with configuration
			logger.NewFromConfig,

			// Language catalog, workspaces and the sandbox backend
			language.NewRegistryFromConfig,
			workspace.NewManagerFromConfig,
			sandbox.NewLauncher,

			// Engine, exposed to both transports
			engine.NewFromConfig,
			func(e *engine.Engine) mcpserver.Executor { return e },
			func(e *engine.Engine) httpapi.Executor { return e },

			// MCP Server
			mcpserver.New,

			// REST API
			httpapi.New,
		),

		fx.Invoke(sweepWorkspaces, runMCPServer, runRESTAPI),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	// Start the application
	app.Run()
}

// sweepWorkspaces removes workspaces left behind by a previous process.
func sweepWorkspaces(lc fx.Lifecycle, log *zap.Logger, ws *workspace.Manager) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if n := ws.Sweep(); n > 0 {
				log.Info("removed stale workspaces", zap.Int("count", n), zap.String("root", ws.Root()))
			}
			return nil
		},
	})
}

// runMCPServer starts the transport selected by server.transport.
func runMCPServer(lc fx.Lifecycle, sd fx.Shutdowner, cfg *config.Config, log *zap.Logger, server *mcpserver.MCPServer) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				var err error
				switch cfg.Server.Transport {
				case "stdio":
					err = server.ServeStdio()
				case "http":
					err = server.ServeHTTP()
				}
				if err != nil {
					log.Error("MCP server stopped", zap.Error(err))
					_ = sd.Shutdown(fx.ExitCode(1))
					return
				}
				// stdio returns once the client closes the stream
				if cfg.Server.Transport == "stdio" {
					_ = sd.Shutdown()
				}
			}()
			return nil
		},
		OnStop: server.Shutdown,
	})
}

// runRESTAPI starts the REST API when api.enabled is set.
func runRESTAPI(lc fx.Lifecycle, sd fx.Shutdowner, cfg *config.Config, log *zap.Logger, server *httpapi.Server) {
	if !cfg.API.Enabled {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := server.Start(); err != nil {
					log.Error("REST API stopped", zap.Error(err))
					_ = sd.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: server.Shutdown,
	})
}
