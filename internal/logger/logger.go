// Package logger provides structured logging functionality.
// It wraps the standard log/slog package for consistent logging across the exporter.
//
// Run context helpers give every export run the same snake_case fields
// (run_id, config_name, mode, stage, row_index, view).
//
// The package supports two console formats:
//   - JSON (default): Machine-readable structured logging
//   - Human: Human-readable console output with colors and prefixes
package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Logger is the default logger instance.
var Logger *slog.Logger

var (
	mu            sync.Mutex
	consoleWriter io.Writer = os.Stdout
	currentLevel            = slog.LevelInfo
	currentFormat           = FormatJSON
)

func init() {
	Logger = slog.New(newConsoleHandler(consoleWriter, currentLevel, currentFormat))
}

// OutputFormat represents the console log format.
type OutputFormat int

const (
	// FormatJSON is the default machine-readable JSON format
	FormatJSON OutputFormat = iota
	// FormatHuman is a human-readable console format with colors and prefixes
	FormatHuman
)

// ParseFormat maps "json" and "human" (or "text") to an OutputFormat.
func ParseFormat(s string) (OutputFormat, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, true
	case "human", "text":
		return FormatHuman, true
	}
	return FormatJSON, false
}

// SetLevel configures the logging level, keeping the current format.
func SetLevel(level slog.Level) {
	SetLevelAndFormat(level, currentFormat)
}

// SetFormat sets the console format, keeping the current level.
func SetFormat(format OutputFormat) {
	SetLevelAndFormat(currentLevel, format)
}

// SetLevelAndFormat sets both the log level and format.
func SetLevelAndFormat(level slog.Level, format OutputFormat) {
	mu.Lock()
	defer mu.Unlock()
	currentLevel, currentFormat = level, format
	Logger = slog.New(newConsoleHandler(consoleWriter, level, format))
}

// SetOutput redirects console logs, keeping level and format.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	consoleWriter = w
	Logger = slog.New(newConsoleHandler(w, currentLevel, currentFormat))
}

func newConsoleHandler(w io.Writer, level slog.Level, format OutputFormat) slog.Handler {
	if format == FormatHuman {
		return NewHumanHandler(w, &HumanHandlerOptions{
			Level:     level,
			UseColors: isTerminal(w),
		})
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
}

// Info logs an informational message.
func Info(msg string, args ...any) {
	Logger.Info(msg, args...)
}

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	Logger.Debug(msg, args...)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	Logger.Warn(msg, args...)
}

// Error logs an error message.
func Error(msg string, args ...any) {
	Logger.Error(msg, args...)
}

// =============================================================================
// Run Context
// =============================================================================

// RunContext identifies the run a log line belongs to.
type RunContext struct {
	// RunID is the unique identifier of the run (required)
	RunID string
	// ConfigName is the name of the export configuration
	ConfigName string
	// Mode is row-driven or fixed-list
	Mode string
	// Stage is the current step (connect, load, rows, merge)
	Stage string
	// RowIndex is the dataset row, -1 when not row-specific
	RowIndex int
	// View is the view name being exported
	View string
}

// ErrorContext contains structured context for error logging.
type ErrorContext struct {
	RunID      string
	ConfigName string
	Stage      string
	View       string

	ErrorCode    string
	ErrorMessage string
	Err          error

	RowIndex   int
	Attempt    int
	Endpoint   string
	HTTPStatus int
	Duration   time.Duration

	Extra map[string]interface{}
}

// WithRun returns a logger with run context attached.
func WithRun(ctx RunContext) *slog.Logger {
	return Logger.With(contextAttrs(ctx)...)
}

// LogRunStart logs the start of an export run.
func LogRunStart(ctx RunContext) {
	Logger.Info("export run started", contextAttrs(ctx)...)
}

// LogRunEnd logs the end of an export run with its final state and counts.
func LogRunEnd(ctx RunContext, state string, success, failed, skipped int, duration time.Duration) {
	attrs := contextAttrs(ctx)
	attrs = append(attrs,
		slog.String("state", state),
		slog.Int("success", success),
		slog.Int("failed", failed),
		slog.Int("skipped", skipped),
		slog.Duration("duration", duration),
	)
	if state == "Aborted" {
		Logger.Error("export run aborted", attrs...)
		return
	}
	Logger.Info("export run completed", attrs...)
}

// LogStageStart logs the start of a run stage.
func LogStageStart(ctx RunContext) {
	Logger.Debug("stage started", contextAttrs(ctx)...)
}

// LogStageEnd logs the end of a run stage; a non-nil err logs a failure.
func LogStageEnd(ctx RunContext, itemCount int, duration time.Duration, err error) {
	attrs := contextAttrs(ctx)
	attrs = append(attrs,
		slog.Int("item_count", itemCount),
		slog.Duration("duration", duration),
	)
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		Logger.Error("stage failed", attrs...)
		return
	}
	Logger.Debug("stage completed", attrs...)
}

// LogError logs an error with full run context.
func LogError(message string, errCtx ErrorContext) {
	attrs := make([]any, 0, 16)

	if errCtx.RunID != "" {
		attrs = append(attrs, slog.String("run_id", errCtx.RunID))
	}
	if errCtx.ConfigName != "" {
		attrs = append(attrs, slog.String("config_name", errCtx.ConfigName))
	}
	if errCtx.Stage != "" {
		attrs = append(attrs, slog.String("stage", errCtx.Stage))
	}
	if errCtx.View != "" {
		attrs = append(attrs, slog.String("view", errCtx.View))
	}
	if errCtx.ErrorCode != "" {
		attrs = append(attrs, slog.String("error_code", errCtx.ErrorCode))
	}
	if errCtx.ErrorMessage != "" {
		attrs = append(attrs, slog.String("error", errCtx.ErrorMessage))
	}
	if errCtx.Err != nil {
		attrs = append(attrs, slog.String("error_type", fmt.Sprintf("%T", errCtx.Err)))
		if chain := errorChain(errCtx.Err); len(chain) > 1 {
			attrs = append(attrs, slog.String("error_chain", strings.Join(chain, " -> ")))
		} else if errCtx.ErrorMessage == "" {
			attrs = append(attrs, slog.String("error", errCtx.Err.Error()))
		}
	}
	if errCtx.RowIndex >= 0 {
		attrs = append(attrs, slog.Int("row_index", errCtx.RowIndex))
	}
	if errCtx.Attempt > 0 {
		attrs = append(attrs, slog.Int("attempt", errCtx.Attempt))
	}
	if errCtx.Endpoint != "" {
		attrs = append(attrs, slog.String("endpoint", errCtx.Endpoint))
	}
	if errCtx.HTTPStatus > 0 {
		attrs = append(attrs, slog.Int("http_status", errCtx.HTTPStatus))
	}
	if errCtx.Duration > 0 {
		attrs = append(attrs, slog.Duration("duration", errCtx.Duration))
	}
	for k, v := range errCtx.Extra {
		attrs = append(attrs, slog.Any(k, v))
	}

	Logger.Error(message, attrs...)
}

func errorChain(err error) []string {
	chain := []string{err.Error()}
	for current := errors.Unwrap(err); current != nil; current = errors.Unwrap(current) {
		chain = append(chain, current.Error())
	}
	return chain
}

// contextAttrs builds slog attributes from a RunContext. Only set fields are included.
func contextAttrs(ctx RunContext) []any {
	attrs := make([]any, 0, 6)
	attrs = append(attrs, slog.String("run_id", ctx.RunID))
	if ctx.ConfigName != "" {
		attrs = append(attrs, slog.String("config_name", ctx.ConfigName))
	}
	if ctx.Mode != "" {
		attrs = append(attrs, slog.String("mode", ctx.Mode))
	}
	if ctx.Stage != "" {
		attrs = append(attrs, slog.String("stage", ctx.Stage))
	}
	if ctx.RowIndex >= 0 {
		attrs = append(attrs, slog.Int("row_index", ctx.RowIndex))
	}
	if ctx.View != "" {
		attrs = append(attrs, slog.String("view", ctx.View))
	}
	return attrs
}
