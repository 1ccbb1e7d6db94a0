// Package logging sets up the engine's structured logger. Logs are
// JSON lines written under .gao-dev/logs so agent output on stdout
// stays separate from engine diagnostics.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gao-dev/gao-dev/internal/config"
)

// New creates a logger per the config, writing to a dated log file in
// the project's log directory. The returned closer flushes and closes
// the file.
func New(cfg config.LoggingConfig, projectRoot string) (*slog.Logger, io.Closer, error) {
	dir := cfg.Dir
	if dir == "" {
		dir = filepath.Join(projectRoot, ".gao-dev", "logs")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}

	name := fmt.Sprintf("gao-dev-%s.log", time.Now().UTC().Format("20060102"))
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	handler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: ParseLevel(cfg.Level)})
	return slog.New(handler), f, nil
}

// ParseLevel maps a config level string to a slog level. Unknown
// strings fall back to info.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Nop returns a logger that discards everything. Used in tests and as
// the fallback when callers pass nil.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(127)}))
}

// OrNop returns l, or a discard logger when l is nil.
func OrNop(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Nop()
	}
	return l
}
