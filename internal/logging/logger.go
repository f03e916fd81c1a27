// Package logging builds the slog.Logger handed to every pipeline component.
// Nothing in elasticprinter logs through slog.Default; the handle is passed down
// explicitly so each run can be tested in isolation.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Options configures New.
type Options struct {
	Level string
	// File, when set, receives JSON records in addition to Output.
	File string
	// Output receives human-readable records. Defaults to os.Stderr, which CUPS
	// forwards to its error log.
	Output io.Writer
}

// New returns a logger and a close function for the log file, if any.
func New(opts Options) (*slog.Logger, func() error, error) {
	level := ParseLevel(opts.Level)
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	console := slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	if opts.File == "" {
		return slog.New(console).With("service", "elasticprinter"), func() error { return nil }, nil
	}

	if dir := filepath.Dir(opts.File); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file %s: %w", opts.File, err)
	}

	file := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level})
	logger := slog.New(fanout{console, file}).With("service", "elasticprinter")
	return logger, f.Close, nil
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel converts a config level string to a slog.Level. Unknown values map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "critical", "fatal":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
