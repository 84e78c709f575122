package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(FormatJSON, "info", &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Debug("hidden")
	logger.Info("indexed resources", "embedded", 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec["msg"] != "indexed resources" || rec["embedded"] != float64(3) {
		t.Errorf("record = %v", rec)
	}
}

func TestNewText(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(FormatText, "debug", &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Debug("state", "request_id", "abc")
	if !strings.Contains(buf.String(), "request_id=abc") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestNewConsole(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(FormatConsole, "info", &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("serving")
	if !strings.Contains(buf.String(), "serving") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestNewRejectsUnknown(t *testing.T) {
	if _, err := New("xml", "info", &bytes.Buffer{}); err == nil {
		t.Error("expected error for unknown format")
	}
	if _, err := New(FormatText, "loud", &bytes.Buffer{}); err == nil {
		t.Error("expected error for unknown level")
	}
}
