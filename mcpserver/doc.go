// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The server exposes two tools backed by the execution engine: execute_code,
// which runs a submission and returns {stdout, stderr, timedOut, exitCode} as
// JSON, and list_languages. It uses the mark3labs/mcp-go library for the
// protocol and supports the stdio and streamable HTTP transports.
//
// Usage:
//
//	server, err := mcpserver.New(config, logger, engine)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.ServeStdio() // or server.ServeHTTP()
package mcpserver
