// Package logging sets up the process-wide slog handler once, at boot,
// pulled into its own small function so config decides the shape.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init installs a slog handler for the process. level follows LOG_LEVEL
// ("debug", "info", "warn", "error"); console selects a human-readable text
// handler (ENABLE_CONSOLE_LOGS=true) over the default JSON handler used in
// production.
func Init(level string, console bool) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if console {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
