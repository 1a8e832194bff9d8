// Package log wraps log/slog with the output policy shared by every
// bun-runner entry point: warnings and errors to stderr (everything when
// verbose), and optionally all levels as JSON lines to a daily debug file.
// Nothing is ever written to stdout; the MCP server owns it.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
)

var logger *slog.Logger
var debugFile *fileWriter

// Options configures the logger.
type Options struct {
	// Verbose enables debug and info output on stderr.
	Verbose bool
	// JSONFormat switches stderr output to JSON.
	JSONFormat bool
	// DebugDir is the directory for debug log files. Empty disables them.
	DebugDir string
	// RetentionDays is how many days of debug files to keep (0 = keep all).
	RetentionDays int
	// Stderr overrides the stderr writer (for tests).
	Stderr io.Writer
}

// Init installs the global logger.
func Init(opts Options) error {
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	stderrLevel := slog.LevelWarn
	if opts.Verbose {
		stderrLevel = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: stderrLevel}

	var handlers []slog.Handler
	if opts.JSONFormat {
		handlers = append(handlers, slog.NewJSONHandler(stderr, handlerOpts))
	} else {
		handlers = append(handlers, slog.NewTextHandler(stderr, handlerOpts))
	}

	if opts.DebugDir != "" {
		if opts.RetentionDays > 0 {
			removeOldFiles(opts.DebugDir, opts.RetentionDays)
		}
		fw, err := newFileWriter(opts.DebugDir)
		if err != nil {
			return err
		}
		debugFile = fw
		handlers = append(handlers, slog.NewJSONHandler(fw, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	logger = slog.New(&multiHandler{handlers: handlers})
	slog.SetDefault(logger)
	return nil
}

// Close closes the debug file if one was opened.
func Close() {
	if debugFile != nil {
		debugFile.Close()
		debugFile = nil
	}
}

// multiHandler fans out records to every handler that accepts the level.
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		out[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: out}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		out[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: out}
}

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	logger.Debug(msg, args...)
}

// Info logs an info message.
func Info(msg string, args ...any) {
	logger.Info(msg, args...)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	logger.Warn(msg, args...)
}

// Error logs an error message.
func Error(msg string, args ...any) {
	logger.Error(msg, args...)
}

// With returns a logger carrying additional context, e.g. an execution id.
func With(args ...any) *slog.Logger {
	return logger.With(args...)
}

// SetOutput replaces the logger with a debug-level text logger on w (for tests).
func SetOutput(w io.Writer) {
	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

func init() {
	logger = slog.Default()
}
