// Package logging builds the structured loggers shared by every binary in
// this module.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// levelNames maps the spellings accepted through LOG_LEVEL. Unknown values
// fall back to info so a typo never silences a service.
var levelNames = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// NewJSONLogger builds the process-wide logger. Records go to stderr: stdout
// is reserved for protocol traffic in the stdio MCP binary, and the API
// server keeps the same sink so both services ship logs identically.
func NewJSONLogger(service, level string) *slog.Logger {
	lvl, ok := levelNames[strings.ToLower(strings.TrimSpace(level))]
	if !ok {
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler).With(slog.String("service", service))
}

// WithRequestID derives a request-scoped logger. An empty id returns the base
// logger unchanged so background callers can pass straight through.
func WithRequestID(base *slog.Logger, requestID string) *slog.Logger {
	if requestID == "" {
		return base
	}
	return base.With(slog.String("request_id", requestID))
}
