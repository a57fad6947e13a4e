// Package engine runs one submission end to end.
//
// Engine.Execute resolves the language, prepares a workspace, launches the
// sandbox, enforces the wall-clock deadline and turns whatever happened into
// a Result. Each call gets its own supervisor; the Engine itself holds only
// read-only collaborators and is safe for concurrent use.
//
// Usage:
//
//	eng := engine.New(logger, registry, manager, launcher, engine.WithTimeout(10*time.Second))
//	res, err := eng.Execute(ctx, "py", "print('hello')")
package engine
