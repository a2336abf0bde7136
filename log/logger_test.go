package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestLogger_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithOutput(Context{Mission: "radsat-sk", Node: "obc-1"}, &buf, zapcore.DebugLevel)
	l.With(map[string]any{"pass_id": "p-1"}).Info("pass started", map[string]any{"pass_length": 600})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	for key, want := range map[string]any{
		"mission": "radsat-sk",
		"node":    "obc-1",
		"pass_id": "p-1",
		"level":   "info",
		"message": "pass started",
	} {
		if entry[key] != want {
			t.Errorf("%s = %v, want %v", key, entry[key], want)
		}
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Error("missing timestamp")
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["pass_length"] != float64(600) {
		t.Errorf("fields = %v", entry["fields"])
	}
}

func TestLogger_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithOutput(Context{}, &buf, zapcore.WarnLevel)
	l.Debug("hidden", nil)
	l.Info("hidden", nil)
	l.Warn("shown", nil)
	if strings.Count(buf.String(), "\n") != 1 || !strings.Contains(buf.String(), "shown") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.InfoLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"WARN", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"trace", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewNop(t *testing.T) {
	l := NewNop()
	l.Error("discarded", map[string]any{"k": "v"})
	l.Sugar().Infof("discarded %d", 1)
}
