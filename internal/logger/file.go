package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// logFile holds the currently open log file (if any)
var logFile *os.File

// maxLogFileSize is the size at which the log file is rotated (10MB)
const maxLogFileSize = 10 * 1024 * 1024

// rotateLogFile renames path with a timestamp suffix once it exceeds maxLogFileSize.
func rotateLogFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("checking log file size: %w", err)
	}
	if info.Size() < maxLogFileSize {
		return nil
	}
	rotated := fmt.Sprintf("%s.%s", path, time.Now().Format("20060102-150405"))
	if err := os.Rename(path, rotated); err != nil {
		return fmt.Errorf("rotating log file: %w", err)
	}
	return nil
}

// SetLogFile tees logging to the console and to a JSON log file at path.
func SetLogFile(path string, level slog.Level, consoleFormat OutputFormat) error {
	CloseLogFile()

	if err := rotateLogFile(path); err != nil {
		Warn("log rotation failed", slog.String("error", err.Error()))
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating log directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}

	mu.Lock()
	logFile = f
	currentLevel, currentFormat = level, consoleFormat
	Logger = slog.New(&dualHandler{
		console: newConsoleHandler(consoleWriter, level, consoleFormat),
		file:    slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}),
	})
	mu.Unlock()

	Debug("log file opened",
		slog.String("path", path),
		slog.String("console_format", formatName(consoleFormat)),
	)
	return nil
}

// CloseLogFile closes the current log file if one is open.
func CloseLogFile() {
	mu.Lock()
	f := logFile
	logFile = nil
	mu.Unlock()
	if f == nil {
		return
	}
	if err := f.Sync(); err != nil {
		Warn("failed to sync log file", slog.String("error", err.Error()))
	}
	if err := f.Close(); err != nil {
		Warn("failed to close log file", slog.String("error", err.Error()))
	}
}

func formatName(f OutputFormat) string {
	if f == FormatHuman {
		return "human"
	}
	return "json"
}

// dualHandler writes every record to both a console and a file handler.
type dualHandler struct {
	console slog.Handler
	file    slog.Handler
}

func (d *dualHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return d.console.Enabled(ctx, level) || d.file.Enabled(ctx, level)
}

func (d *dualHandler) Handle(ctx context.Context, r slog.Record) error {
	if d.console.Enabled(ctx, r.Level) {
		if err := d.console.Handle(ctx, r); err != nil {
			return err
		}
	}
	if d.file.Enabled(ctx, r.Level) {
		if err := d.file.Handle(ctx, r.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (d *dualHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &dualHandler{console: d.console.WithAttrs(attrs), file: d.file.WithAttrs(attrs)}
}

func (d *dualHandler) WithGroup(name string) slog.Handler {
	return &dualHandler{console: d.console.WithGroup(name), file: d.file.WithGroup(name)}
}
