package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for raw, want := range cases {
		if got := ParseLevel(raw); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestNewWithWriterTagsService(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "deploywatchd", slog.LevelInfo)
	log.Debug("dropped")
	log.Info("hello", "hook_id", "h1")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected a single JSON line, got %q: %v", buf.String(), err)
	}
	if entry["service"] != "deploywatchd" {
		t.Fatalf("expected service attribute, got %v", entry["service"])
	}
	if entry["msg"] != "hello" {
		t.Fatalf("unexpected message %v", entry["msg"])
	}
}
