package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/coderun/config"
	"github.com/isdmx/coderun/engine"
	"github.com/isdmx/coderun/language"
)

// Executor runs submissions and lists the supported languages.
type Executor interface {
	Execute(ctx context.Context, lang, source string) (engine.Result, error)
	Languages() []language.Info
}

// MCPServer represents the MCP server
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	executor  Executor
	mcpServer *server.MCPServer

	mu         sync.Mutex
	httpServer *server.StreamableHTTPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, executor Executor) (*MCPServer, error) {
	s := &MCPServer{
		config:   cfg,
		logger:   logger,
		executor: executor,
	}

	// Log configuration parameters on startup
	logger.Info("configuration loaded",
		zap.String("server.transport", s.config.Server.Transport),
		zap.Int("server.http_port", s.config.Server.HTTPPort),
		zap.String("sandbox.backend", s.config.Sandbox.Backend),
		zap.Int("sandbox.timeout_sec", s.config.Sandbox.TimeoutSec),
		zap.Int("sandbox.memory_mb", s.config.Sandbox.MemoryMB),
		zap.Float64("sandbox.cpus", s.config.Sandbox.CPUs),
		zap.Int("sandbox.pids_limit", s.config.Sandbox.PidsLimit),
		zap.String("sandbox.workspace_root", s.config.Sandbox.WorkspaceRoot),
		zap.Bool("sandbox.enable_local_backend", s.config.Sandbox.EnableLocalBackend),
	)

	s.mcpServer = server.NewMCPServer("coderun", "Sandboxed multi-language code execution")

	s.registerExecuteCodeTool()
	s.registerListLanguagesTool()

	return s, nil
}

func (s *MCPServer) languageKeys() []string {
	infos := s.executor.Languages()
	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		keys = append(keys, info.Key)
	}
	return keys
}

// registerExecuteCodeTool registers the execute_code tool
func (s *MCPServer) registerExecuteCodeTool() {
	tool := mcp.Tool{
		Name:        "execute_code",
		Description: "Run untrusted source code in an isolated sandbox and return its output",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Source code to run",
				},
				"language": map[string]any{
					"type":        "string",
					"description": "Language key",
					"enum":        s.languageKeys(),
				},
			},
			Required: []string{"code", "language"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleExecuteCode)
}

// registerListLanguagesTool registers the list_languages tool
func (s *MCPServer) registerListLanguagesTool() {
	tool := mcp.Tool{
		Name:        "list_languages",
		Description: "List the languages execute_code accepts",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{},
		},
	}

	s.mcpServer.AddTool(tool, s.handleListLanguages)
}

// handleExecuteCode handles the execute_code tool
func (s *MCPServer) handleExecuteCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}

	lang, err := request.RequireString("language")
	if err != nil {
		return nil, fmt.Errorf("language parameter is required: %w", err)
	}

	s.logger.Info("code execution requested", zap.String("language", lang), zap.Int("code_len", len(code)))

	result, err := s.executor.Execute(ctx, lang, code)
	if err != nil && errors.Is(err, engine.ErrUnsupportedLanguage) {
		return errorResult(fmt.Sprintf("%v, must be one of: %v", err, s.languageKeys())), nil
	}
	if err != nil {
		s.logger.Error("sandbox execution failed", zap.Error(err), zap.String("language", lang))
	}

	body, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		return nil, fmt.Errorf("failed to encode result: %w", marshalErr)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(body),
			},
		},
		IsError: err != nil,
	}, nil
}

// handleListLanguages handles the list_languages tool
func (s *MCPServer) handleListLanguages(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	body, err := json.Marshal(s.executor.Languages())
	if err != nil {
		return nil, fmt.Errorf("failed to encode languages: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(body),
			},
		},
	}, nil
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: text,
			},
		},
		IsError: true,
	}
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP and blocks until it stops
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	s.mu.Lock()
	s.httpServer = httpServer
	s.mu.Unlock()

	if err := httpServer.Start(fmt.Sprintf(":%d", port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP transport if it is running
func (s *MCPServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	httpServer := s.httpServer
	s.mu.Unlock()

	if httpServer == nil {
		return nil
	}
	return httpServer.Shutdown(ctx)
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
