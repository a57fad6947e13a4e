// Package main is the entry point for the coderun server.
//
// The server runs untrusted source code in JavaScript, TypeScript, Python,
// Java, C and C++ inside throwaway sandboxes with no network, bounded
// memory, CPU and process count, and a wall-clock deadline. It exposes the
// engine over MCP (stdio or streamable HTTP) and over a REST API with
// Prometheus metrics.
//
// The application uses Uber's fx framework for dependency injection and lifecycle
// management, with zap for structured logging and viper for configuration.
package main
