package logger_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/canectors/viewexport/internal/logger"
)

// captureJSON swaps the package logger for a JSON logger writing to a buffer.
func captureJSON(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	original := logger.Logger
	t.Cleanup(func() { logger.Logger = original })
	logger.Logger = slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return &buf
}

func decodeLast(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry); err != nil {
		t.Fatalf("invalid JSON log line %q: %v", lines[len(lines)-1], err)
	}
	return entry
}

func TestLoggerInitialization(t *testing.T) {
	if logger.Logger == nil {
		t.Fatal("Logger should be initialized on package load")
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want logger.OutputFormat
		ok   bool
	}{
		{"json", logger.FormatJSON, true},
		{"", logger.FormatJSON, true},
		{"Human", logger.FormatHuman, true},
		{"text", logger.FormatHuman, true},
		{"xml", logger.FormatJSON, false},
	}
	for _, tt := range tests {
		got, ok := logger.ParseFormat(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseFormat(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestWithRun(t *testing.T) {
	buf := captureJSON(t)

	logger.WithRun(logger.RunContext{
		RunID:      "run-1",
		ConfigName: "regional",
		Mode:       "row-driven",
		Stage:      "rows",
		RowIndex:   3,
		View:       "Sales",
	}).Info("exporting")

	entry := decodeLast(t, buf)
	want := map[string]interface{}{
		"run_id":      "run-1",
		"config_name": "regional",
		"mode":        "row-driven",
		"stage":       "rows",
		"row_index":   float64(3),
		"view":        "Sales",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s = %v, want %v", k, entry[k], v)
		}
	}
}

func TestRunContextOmitsEmptyFields(t *testing.T) {
	buf := captureJSON(t)

	logger.LogRunStart(logger.RunContext{RunID: "run-2", RowIndex: -1})

	entry := decodeLast(t, buf)
	for _, k := range []string{"config_name", "mode", "stage", "row_index", "view"} {
		if _, ok := entry[k]; ok {
			t.Errorf("%s should be omitted, got %v", k, entry[k])
		}
	}
	if entry["msg"] != "export run started" {
		t.Errorf("msg = %v", entry["msg"])
	}
}

func TestLogRunEnd(t *testing.T) {
	buf := captureJSON(t)

	logger.LogRunEnd(logger.RunContext{RunID: "r", RowIndex: -1}, "CompletedWithErrors", 4, 1, 2, 3*time.Second)
	entry := decodeLast(t, buf)
	if entry["state"] != "CompletedWithErrors" || entry["success"] != float64(4) ||
		entry["failed"] != float64(1) || entry["skipped"] != float64(2) {
		t.Errorf("unexpected entry %v", entry)
	}
	if entry["level"] != "INFO" {
		t.Errorf("level = %v, want INFO", entry["level"])
	}

	logger.LogRunEnd(logger.RunContext{RunID: "r", RowIndex: -1}, "Aborted", 0, 0, 0, time.Second)
	if entry := decodeLast(t, buf); entry["level"] != "ERROR" {
		t.Errorf("aborted level = %v, want ERROR", entry["level"])
	}
}

func TestLogStageEnd(t *testing.T) {
	buf := captureJSON(t)
	ctx := logger.RunContext{RunID: "r", Stage: "load", RowIndex: -1}

	logger.LogStageEnd(ctx, 12, time.Second, nil)
	if entry := decodeLast(t, buf); entry["msg"] != "stage completed" || entry["item_count"] != float64(12) {
		t.Errorf("unexpected entry %v", entry)
	}

	logger.LogStageEnd(ctx, 0, time.Second, errors.New("sheet missing"))
	if entry := decodeLast(t, buf); entry["msg"] != "stage failed" || entry["error"] != "sheet missing" {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestLogError(t *testing.T) {
	buf := captureJSON(t)

	base := errors.New("403 forbidden")
	logger.LogError("export failed", logger.ErrorContext{
		RunID:      "run-9",
		Stage:      "export",
		View:       "Margins",
		ErrorCode:  "PERMISSION_DENIED",
		Err:        fmt.Errorf("render: %w", base),
		RowIndex:   2,
		Attempt:    1,
		HTTPStatus: 403,
		Extra:      map[string]interface{}{"path": "out/a.pdf"},
	})

	entry := decodeLast(t, buf)
	checks := map[string]interface{}{
		"run_id":      "run-9",
		"view":        "Margins",
		"error_code":  "PERMISSION_DENIED",
		"row_index":   float64(2),
		"attempt":     float64(1),
		"http_status": float64(403),
		"path":        "out/a.pdf",
		"error_chain": "render: 403 forbidden -> 403 forbidden",
	}
	for k, v := range checks {
		if entry[k] != v {
			t.Errorf("%s = %v, want %v", k, entry[k], v)
		}
	}
}

func TestHumanHandler(t *testing.T) {
	var buf bytes.Buffer
	h := logger.NewHumanHandler(&buf, &logger.HumanHandlerOptions{Level: slog.LevelInfo})
	l := slog.New(h).With("run_id", "abc")

	l.Info("view exported", "view", "Sales Overview", "duration", 1500*time.Millisecond)
	l.Warn("column missing")
	l.Error("export failed")
	l.Debug("hidden")

	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[0], "✓ view exported") || !strings.Contains(lines[0], `view="Sales Overview"`) ||
		!strings.Contains(lines[0], "duration=1.50s") || !strings.Contains(lines[0], "run_id=abc") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.Contains(lines[1], "⚠ column missing") {
		t.Errorf("line 1 = %q", lines[1])
	}
	if !strings.Contains(lines[2], "✗ export failed") {
		t.Errorf("line 2 = %q", lines[2])
	}
}

func TestSetOutputAndFormat(t *testing.T) {
	var buf bytes.Buffer
	original := logger.Logger
	defer func() {
		logger.SetOutput(os.Stdout)
		logger.SetLevelAndFormat(slog.LevelInfo, logger.FormatJSON)
		logger.Logger = original
	}()

	logger.SetOutput(&buf)
	logger.SetLevelAndFormat(slog.LevelWarn, logger.FormatHuman)
	logger.Info("skipped")
	logger.Warn("shown")

	if strings.Contains(buf.String(), "skipped") || !strings.Contains(buf.String(), "⚠ shown") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestSetLogFile(t *testing.T) {
	var console bytes.Buffer
	original := logger.Logger
	defer func() {
		logger.CloseLogFile()
		logger.SetOutput(os.Stdout)
		logger.SetLevelAndFormat(slog.LevelInfo, logger.FormatJSON)
		logger.Logger = original
	}()
	logger.SetOutput(&console)

	path := filepath.Join(t.TempDir(), "logs", "run.log")
	if err := logger.SetLogFile(path, slog.LevelInfo, logger.FormatHuman); err != nil {
		t.Fatalf("SetLogFile() error = %v", err)
	}
	logger.Info("written to both", "view", "Sales")
	logger.CloseLogFile()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"written to both"`) {
		t.Errorf("file content = %q", data)
	}
	if !strings.Contains(console.String(), "written to both") {
		t.Errorf("console = %q", console.String())
	}
}
