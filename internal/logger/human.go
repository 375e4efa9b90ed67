package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorGreen  = "\033[32m"
	colorCyan   = "\033[36m"
)

// maxInlineAttrs caps the attributes printed after the message.
const maxInlineAttrs = 6

// isTerminal returns true if the writer is a terminal (supports colors)
func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		fi, err := f.Stat()
		if err != nil {
			return false
		}
		return (fi.Mode() & os.ModeCharDevice) != 0
	}
	return false
}

// HumanHandlerOptions configures the human-readable log handler.
type HumanHandlerOptions struct {
	// Level is the minimum log level to output
	Level slog.Level
	// UseColors enables ANSI color codes
	UseColors bool
}

// HumanHandler is a slog handler that outputs one readable line per record:
//
//	15:04:05 ✓ export succeeded view=Sales attempt=1
type HumanHandler struct {
	opts   HumanHandlerOptions
	writer io.Writer
	wmu    *sync.Mutex
	attrs  []slog.Attr
	groups []string
}

// NewHumanHandler creates a new human-readable log handler.
func NewHumanHandler(w io.Writer, opts *HumanHandlerOptions) *HumanHandler {
	if opts == nil {
		opts = &HumanHandlerOptions{Level: slog.LevelInfo}
	}
	return &HumanHandler{
		opts:   *opts,
		writer: w,
		wmu:    &sync.Mutex{},
	}
}

// Enabled returns true if the handler is enabled for the given level.
func (h *HumanHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level
}

// Handle outputs a log record in human-readable format.
func (h *HumanHandler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder

	sb.WriteString(r.Time.Format("15:04:05"))
	sb.WriteString(" ")
	sb.WriteString(h.prefix(r.Level, r.Message))
	sb.WriteString(" ")
	sb.WriteString(r.Message)

	var inline []string
	r.Attrs(func(a slog.Attr) bool {
		inline = append(inline, h.formatAttr(a))
		return true
	})
	for _, a := range h.attrs {
		inline = append(inline, h.formatAttr(a))
	}

	if len(inline) > 0 {
		shown := inline
		if len(shown) > maxInlineAttrs {
			shown = shown[:maxInlineAttrs]
		}
		sb.WriteString(" ")
		sb.WriteString(strings.Join(shown, " "))
		if len(inline) > maxInlineAttrs {
			sb.WriteString(fmt.Sprintf(" (+%d more)", len(inline)-maxInlineAttrs))
		}
	}
	sb.WriteString("\n")

	h.wmu.Lock()
	defer h.wmu.Unlock()
	_, err := io.WriteString(h.writer, sb.String())
	return err
}

// WithAttrs returns a new handler with the given attributes added.
func (h *HumanHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &HumanHandler{opts: h.opts, writer: h.writer, wmu: h.wmu, attrs: merged, groups: h.groups}
}

// WithGroup returns a new handler with the given group name.
func (h *HumanHandler) WithGroup(name string) slog.Handler {
	groups := append(append([]string{}, h.groups...), name)
	return &HumanHandler{opts: h.opts, writer: h.writer, wmu: h.wmu, attrs: h.attrs, groups: groups}
}

var successWords = []string{"completed", "succeeded", "success", "exported", "merged", "trimmed"}

// prefix returns the level marker, ✓ for info messages reporting success.
func (h *HumanHandler) prefix(level slog.Level, message string) string {
	lower := strings.ToLower(message)
	isSuccess := false
	for _, w := range successWords {
		if strings.Contains(lower, w) {
			isSuccess = true
			break
		}
	}

	var mark, color string
	switch {
	case level >= slog.LevelError:
		mark, color = "✗", colorRed
	case level >= slog.LevelWarn:
		mark, color = "⚠", colorYellow
	case level >= slog.LevelInfo && isSuccess:
		mark, color = "✓", colorGreen
	case level >= slog.LevelInfo:
		mark, color = "ℹ", colorCyan
	default:
		mark, color = "·", colorReset
	}

	if h.opts.UseColors {
		return color + mark + colorReset
	}
	return mark
}

// formatAttr formats a single attribute for display.
func (h *HumanHandler) formatAttr(a slog.Attr) string {
	value := a.Value.Any()
	if d, ok := value.(time.Duration); ok {
		return fmt.Sprintf("%s=%s", a.Key, formatDuration(d))
	}
	if f, ok := value.(float64); ok {
		return fmt.Sprintf("%s=%.2f", a.Key, f)
	}
	if s, ok := value.(string); ok && strings.ContainsAny(s, " \t") {
		return fmt.Sprintf("%s=%q", a.Key, s)
	}
	return fmt.Sprintf("%s=%v", a.Key, value)
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}
