// Package logger provides structured logging capabilities.
//
// The logger package sets up the application's zap logger in either
// production (JSON) or development (console) mode.
//
// Usage:
//
//	logger, err := logger.New("production", "info")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	logger.Info("Application started")
package logger
