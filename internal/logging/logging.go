package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Level resolves LOG_LEVEL. The default is Error so the terminal UI stays
// clean; verbose forces Debug.
func Level(verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}

	level := slog.LevelError
	if l, ok := os.LookupEnv("LOG_LEVEL"); ok {
		switch strings.ToLower(l) {
		case "dev", "development", "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn", "warning":
			level = slog.LevelWarn
		case "error", "production", "prod":
			level = slog.LevelError
		}
	}
	return level
}

// New builds a text logger writing to w.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Init installs the process-wide default logger on stderr.
func Init(verbose bool) *slog.Logger {
	logger := New(os.Stderr, Level(verbose))
	slog.SetDefault(logger)
	return logger
}
