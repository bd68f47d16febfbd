// Package logging configures the application loggers: structured JSON for
// machine consumption and human-readable text on the console.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

var structuredLogger *slog.Logger
var consoleLogger *slog.Logger

const (
	LevelTrace = slog.Level(-8)
	LevelFatal = slog.Level(12)
)

var levelNames = map[slog.Leveler]string{
	LevelTrace: "TRACE",
	LevelFatal: "FATAL",
}

func replaceLevelNames(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		level := a.Value.Any().(slog.Level)
		label, ok := levelNames[level]
		if !ok {
			label = level.String()
		}
		a.Value = slog.StringValue(label)
	}
	return a
}

// Init initializes the structured and console loggers at the given level and
// installs the structured logger as the slog default.
func Init(level slog.Level) {
	initWriters(os.Stdout, os.Stderr, level)
}

// SetOutput redirects logger output, preserving level customization. Used by
// tests to capture log lines.
func SetOutput(structured, console io.Writer, level slog.Level) {
	initWriters(structured, console, level)
}

// InitWithFile routes the structured logger to a rotating file while the
// console logger stays on stderr. It returns a close function for the
// underlying writer.
func InitWithFile(filePath string, level slog.Level, cfg FileLoggerConfig) (func() error, error) {
	logDir := filepath.Dir(filePath)
	if logDir != "." {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
		}
	}
	logWriter := &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}
	initWriters(logWriter, os.Stderr, level)
	return logWriter.Close, nil
}

func initWriters(structured, console io.Writer, level slog.Level) {
	structuredLogger = slog.New(slog.NewJSONHandler(structured, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevelNames,
	}))
	consoleLogger = slog.New(slog.NewTextHandler(console, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevelNames,
	}))
	slog.SetDefault(structuredLogger)
}

// Structured returns the global structured (JSON) logger, or nil before Init.
func Structured() *slog.Logger {
	return structuredLogger
}

// Console returns the global human-readable logger, or nil before Init.
func Console() *slog.Logger {
	return consoleLogger
}

// ForService returns a structured logger with the service attribute set.
// Returns nil if Init has not been called.
func ForService(serviceName string) *slog.Logger {
	if structuredLogger == nil {
		return nil
	}
	return structuredLogger.With("service", serviceName)
}

// Fatal logs at the custom fatal level and exits.
func Fatal(msg string, args ...any) {
	slog.Log(context.TODO(), LevelFatal, msg, args...)
	os.Exit(1)
}

// Trace logs at the custom trace level.
func Trace(msg string, args ...any) {
	slog.Log(context.TODO(), LevelTrace, msg, args...)
}

// FileLoggerConfig controls rotation of per-service log files.
type FileLoggerConfig struct {
	MaxSizeMB  int // rotate after this many megabytes
	MaxBackups int // number of rotated files to keep
	MaxAgeDays int // days to retain rotated files
}

// DefaultFileLoggerConfig matches the rotation defaults used when the
// configuration does not override them.
func DefaultFileLoggerConfig() FileLoggerConfig {
	return FileLoggerConfig{MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 28}
}

// NewFileLogger creates a JSON logger writing to filePath with lumberjack
// rotation, tagged with the service attribute. It returns the logger and a
// close function for the underlying writer.
func NewFileLogger(filePath, serviceName string, level slog.Level, cfg FileLoggerConfig) (*slog.Logger, func() error, error) {
	logDir := filepath.Dir(filePath)
	if logDir != "." {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
		}
	}

	logWriter := &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}

	handler := slog.NewJSONHandler(logWriter, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevelNames,
	})
	logger := slog.New(handler).With("service", serviceName)

	return logger, logWriter.Close, nil
}
