// Package httpapi serves the engine over REST.
//
// Routes, with the base path taken from api.base_path:
//
//	GET  {base}/languages  [{key, name, extension}]
//	POST {base}/run        {language, code} -> {stdout, stderr, timedOut, exitCode}
//	GET  /healthz
//	GET  /metrics
package httpapi
