// Package workspace manages the per-execution scratch directories that are
// bind-mounted into a sandbox.
//
// Every execution gets its own directory named run-<uuid> under a root that is
// traversable but not listable. The source file is written atomically and the
// directory is then sealed for the sandbox user. Destroy never fails; errors
// are logged and counted.
//
// Usage:
//
//	mgr := workspace.NewManager(logger, "/tmp/coderun")
//	ws, err := mgr.Create()
//	defer mgr.Destroy(ws)
//	ws, err = mgr.WriteSource(ws, ".py", []byte("print(1)"))
package workspace
