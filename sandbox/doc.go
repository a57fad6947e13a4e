// Package sandbox starts untrusted programs under resource and isolation limits.
//
// BuildLaunchConfig turns a language descriptor and a sealed workspace into a
// LaunchConfig: memory, CPU and process ceilings, no network, all
// capabilities dropped, a read-only root with the workspace bound at
// /sandbox. A Launcher starts it and returns a Handle that captures output
// continuously and can be waited on or killed.
//
// Backends:
//
//   - docker, podman: the container CLI, one client process per sandbox
//   - docker-api: the Docker Engine API
//   - local: host processes with rlimits, for development only
//
// Usage:
//
//	launcher, err := sandbox.NewLauncher(logger, cfg)
//	lc, err := sandbox.BuildLaunchConfig(desc, ws, sandbox.LimitsFromConfig(cfg))
//	h, err := launcher.Launch(ctx, lc)
//	exit, err := h.Wait(ctx)
package sandbox
