// Package logger provides tests for the structured logging system
package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	ferrors "github.com/armorclaw/faultline/pkg/errors"
)

// TestNewLogger tests creating a new logger instance
func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:   "valid text logger",
			config: Config{Level: "info", Format: "text", Output: "stdout", Component: "test"},
		},
		{
			name:   "valid json logger",
			config: Config{Level: "debug", Format: "json", Output: "stderr", Component: "test"},
		},
		{
			name:   "invalid log level falls back to info",
			config: Config{Level: "invalid", Format: "text", Output: "discard"},
		},
		{
			name:   "empty values use defaults",
			config: Config{},
		},
		{
			name:   "file output",
			config: Config{Output: filepath.Join(t.TempDir(), "logs", "faultline.log")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && l == nil {
				t.Fatal("New() returned nil logger")
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{Level: "warn", Format: "text"}, &buf)

	l.Info("hidden")
	l.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info message should be filtered at warn level")
	}
	if !strings.Contains(out, "shown") {
		t.Error("warn message missing")
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{Format: "json"}, &buf).WithComponent("stream")

	if l.Component() != "stream" {
		t.Errorf("Component() = %q, want stream", l.Component())
	}
	l.Info("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	if entry["component"] != "stream" {
		t.Errorf("component = %v, want stream", entry["component"])
	}
}

func TestWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{Format: "json"}, &buf).WithRequestID("req-1")
	l.Info("request")

	if !strings.Contains(buf.String(), `"request_id":"req-1"`) {
		t.Errorf("request_id missing: %s", buf.String())
	}
}

func TestFaultEvent(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{Format: "json", Level: "debug"}, &buf)

	c := ferrors.NewBuilder(ferrors.CodeNetworkTimeout).WithOrigin("orders", "load").WithCause("i/o timeout").Build()
	l.FaultEvent(context.Background(), "fault logged", c, slog.Int("attempt", 2))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	checks := map[string]any{
		"level":    "WARN",
		"code":     ferrors.CodeNetworkTimeout,
		"kind":     "network",
		"origin":   "orders/load",
		"cause":    "i/o timeout",
		"attempt":  float64(2),
		"severity": "warning",
	}
	for k, want := range checks {
		if entry[k] != want {
			t.Errorf("%s = %v, want %v", k, entry[k], want)
		}
	}

	buf.Reset()
	l.FaultEvent(context.Background(), "nil", nil)
	if buf.Len() != 0 {
		t.Error("FaultEvent(nil) should not log")
	}
}

func TestSeverityLevel(t *testing.T) {
	if SeverityLevel(ferrors.SeverityCritical) != slog.LevelError {
		t.Error("critical should log at error level")
	}
	if SeverityLevel(ferrors.SeverityInfo) != slog.LevelInfo {
		t.Error("info should log at info level")
	}
}

func TestErrorEvent(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{Format: "json"}, &buf)
	l.ErrorEvent(context.Background(), "operation failed", errors.New("boom"))

	out := buf.String()
	if !strings.Contains(out, `"error":"boom"`) || !strings.Contains(out, `"level":"ERROR"`) {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestGlobalLogger(t *testing.T) {
	if Global() == nil {
		t.Fatal("Global() returned nil before initialization")
	}
	if err := Initialize(Config{Level: "debug", Output: "discard"}); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if Global().Component() != "faultline" {
		t.Errorf("Component() = %q, want faultline", Global().Component())
	}
	Info("global info")
	Debug("global debug")
}
