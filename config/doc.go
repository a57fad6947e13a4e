// Package config provides application configuration management.
//
// The config package handles loading and validation of the application's
// configuration from YAML files and CODERUN_-prefixed environment variables.
// It covers the MCP and REST transports, the sandbox ceilings (memory, CPU,
// process count, wall-clock deadline), logging and per-language overrides.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Sandbox backend: %s\n", cfg.Sandbox.Backend)
package config
