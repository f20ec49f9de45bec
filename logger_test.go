package agentroom

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"DEBUG", LogLevelDebug},
		{"debug", LogLevelDebug},
		{"INFO", LogLevelInfo},
		{"WARN", LogLevelWarn},
		{"WARNING", LogLevelWarn},
		{"ERROR", LogLevelError},
		{"OFF", LogLevelOff},
		{"nonsense", LogLevelInfo},
		{"", LogLevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLogLevel(tt.input); got != tt.expected {
			t.Errorf("ParseLogLevel(%q) = %v, expected %v", tt.input, got, tt.expected)
		}
	}
}

func TestLogLevelString(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LogLevelDebug, "DEBUG"},
		{LogLevelInfo, "INFO"},
		{LogLevelWarn, "WARN"},
		{LogLevelError, "ERROR"},
		{LogLevelOff, "OFF"},
		{LogLevel(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.level.String(); got != tt.expected {
			t.Errorf("LogLevel(%d).String() = %q, expected %q", tt.level, got, tt.expected)
		}
	}
}

func newCapturedLogger(level LogLevel) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := NewLogger(level)
	l.logger = log.New(&buf, "", 0)
	return l, &buf
}

func TestLogger_LevelFiltering(t *testing.T) {
	l, buf := newCapturedLogger(LogLevelWarn)

	l.Debug("debug_event", nil)
	l.Info("info_event", nil)
	if buf.Len() != 0 {
		t.Errorf("expected debug/info filtered out, got %q", buf.String())
	}

	l.Warn("warn_event", nil)
	l.Error("error_event", nil)
	out := buf.String()
	if !strings.Contains(out, "warn_event") || !strings.Contains(out, "error_event") {
		t.Errorf("expected warn and error logged, got %q", out)
	}
}

func TestLogger_Fields(t *testing.T) {
	l, buf := newCapturedLogger(LogLevelDebug)

	l.Info("rpc_timeout", map[string]any{"method": "agent.describe"})
	out := buf.String()
	if !strings.Contains(out, "rpc_timeout") {
		t.Errorf("missing event name: %q", out)
	}
	if !strings.Contains(out, "method=agent.describe") {
		t.Errorf("missing field: %q", out)
	}
	if !strings.Contains(out, "[agentroom]") {
		t.Errorf("missing prefix: %q", out)
	}
}

func TestLogger_SetLevel(t *testing.T) {
	l, buf := newCapturedLogger(LogLevelError)

	l.Info("dropped", nil)
	if buf.Len() != 0 {
		t.Error("expected info filtered at error level")
	}

	l.SetLevel(LogLevelDebug)
	l.Info("kept", nil)
	if !strings.Contains(buf.String(), "kept") {
		t.Error("expected info logged after lowering level")
	}
}

func TestLogger_WithContext(t *testing.T) {
	l, buf := newCapturedLogger(LogLevelDebug)
	cl := l.WithContext(map[string]any{"room": "assistant-1", "identity": "user-1"})

	cl.Info("joined", map[string]any{"identity": "override"})
	out := buf.String()
	if !strings.Contains(out, "room=assistant-1") {
		t.Errorf("missing context field: %q", out)
	}
	// Message fields override context fields
	if !strings.Contains(out, "identity=override") {
		t.Errorf("field not overridden: %q", out)
	}
}

func TestLogger_LoggerFunc(t *testing.T) {
	l, buf := newCapturedLogger(LogLevelDebug)
	fn := l.LoggerFunc()

	fn("signal_connected", map[string]any{"room": "r1"})
	if !strings.Contains(buf.String(), "signal_connected") {
		t.Errorf("LoggerFunc did not log: %q", buf.String())
	}
}

func TestNewLoggerFromEnv(t *testing.T) {
	t.Setenv("AGENTROOM_LOG_LEVEL", "ERROR")
	l := NewLoggerFromEnv()
	if l.level != LogLevelError {
		t.Errorf("expected error level from env, got %v", l.level)
	}

	t.Setenv("AGENTROOM_LOG_LEVEL", "")
	l = NewLoggerFromEnv()
	if l.level != LogLevelInfo {
		t.Errorf("expected default info level, got %v", l.level)
	}
}
