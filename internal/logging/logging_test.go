package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)
	logger.SetLevel(LevelInfo)

	logger.Debug("debug message")
	if buf.Len() > 0 {
		t.Error("debug message should be filtered at INFO level")
	}

	logger.Info("info message")
	if buf.Len() == 0 {
		t.Error("info message should be logged")
	}
	if !strings.Contains(buf.String(), "INFO") {
		t.Errorf("entry missing level: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "info message") {
		t.Errorf("entry missing message: %s", buf.String())
	}
}

func TestLogger_WithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New().WithComponent("broker")
	logger.SetOutput(&buf)

	logger.Info("test message")

	if !strings.Contains(buf.String(), "[broker]") {
		t.Errorf("expected component tag, got %s", buf.String())
	}
}

func TestLogger_WithTaskID(t *testing.T) {
	var buf bytes.Buffer
	logger := New().WithTaskID("task-123")
	logger.SetOutput(&buf)

	logger.Info("test message")

	if !strings.Contains(buf.String(), "(task-123)") {
		t.Errorf("expected task tag, got %s", buf.String())
	}
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)

	logger.Info("set", map[string]interface{}{"provider": "github", "owner": "u1"})

	out := buf.String()
	if !strings.Contains(out, "provider=github") || !strings.Contains(out, "owner=u1") {
		t.Errorf("expected fields in output, got %s", out)
	}
}

func TestRedact(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"openai key", "key is sk-abcdefgh1234", "key is [REDACTED]"},
		{"github token", "token ghp_abcdefgh1234 granted", "token [REDACTED] granted"},
		{"bearer header", "Authorization: Bearer abc.def.ghi", "Authorization: [REDACTED]"},
		{"clean text", "nothing secret here", "nothing secret here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Redact(tt.in); got != tt.want {
				t.Errorf("Redact(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestLogger_RedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)

	logger.Info("credential stored", map[string]interface{}{"value": "ghp_supersecret99"})

	if strings.Contains(buf.String(), "ghp_supersecret99") {
		t.Errorf("secret leaked into log output: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "[REDACTED]") {
		t.Errorf("expected redaction marker, got %s", buf.String())
	}
}
