// Package logger provides structured logging for techdex.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	defaultLogger *slog.Logger
	logFile       *os.File
	mu            sync.RWMutex
)

func init() {
	defaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// Options configures the logger.
type Options struct {
	Debug  bool         // Enable debug level logging
	Quiet  bool         // Only show errors
	JSON   bool         // Output as JSON
	Output io.Writer    // Output destination (default: stderr)
	File   string       // Also append records to this file
	Logger *slog.Logger // Custom logger (overrides all other options)
}

// Init initializes the logger with the specified options.
// A previously opened log file is closed.
func Init(opts Options) error {
	mu.Lock()
	defer mu.Unlock()

	closeFileLocked()

	if opts.Logger != nil {
		defaultLogger = opts.Logger
		return nil
	}

	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}
	if opts.Quiet {
		level = slog.LevelError
	}

	output := opts.Output
	if output == nil {
		output = os.Stderr
	}

	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) //#nosec G304 -- user-chosen log path
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		logFile = f
		output = io.MultiWriter(output, f)
	}

	handlerOpts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(output, handlerOpts)
	} else {
		handler = slog.NewTextHandler(output, handlerOpts)
	}

	defaultLogger = slog.New(handler)
	return nil
}

// Close releases the log file opened by Init, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	return closeFileLocked()
}

func closeFileLocked() error {
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}

// SetLogger replaces the package logger.
func SetLogger(l *slog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = l
}

func current() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	current().Debug(msg, args...)
}

// Info logs an info message.
func Info(msg string, args ...any) {
	current().Info(msg, args...)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	current().Warn(msg, args...)
}

// Error logs an error message.
func Error(msg string, args ...any) {
	current().Error(msg, args...)
}

// With returns a logger with the given attributes.
func With(args ...any) *slog.Logger {
	return current().With(args...)
}

// Component returns a logger tagged with the component name.
func Component(name string) *slog.Logger {
	return current().With("component", name)
}

// DebugContext logs a debug message with context.
func DebugContext(ctx context.Context, msg string, args ...any) {
	current().DebugContext(ctx, msg, args...)
}

// InfoContext logs an info message with context.
func InfoContext(ctx context.Context, msg string, args ...any) {
	current().InfoContext(ctx, msg, args...)
}

// ErrorContext logs an error message with context.
func ErrorContext(ctx context.Context, msg string, args ...any) {
	current().ErrorContext(ctx, msg, args...)
}
