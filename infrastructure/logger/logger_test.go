package logger

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewRejectsBadLevel(t *testing.T) {
	if _, err := New(Config{Level: "loud"}); err == nil {
		t.Fatalf("expected invalid level error")
	}
}

func TestNewWritesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	l, err := New(Config{Level: "debug", Outputs: []string{"file"}, OutputFile: path, Format: "json"})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	l.LogQuote("submitted", "r1", "q1", zap.Float64("price", 0.55))
	_ = l.Close()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(b), `"quote_id":"q1"`) || !strings.Contains(string(b), `"event":"submitted"`) {
		t.Fatalf("unexpected log content: %s", b)
	}
}

func TestHelpersAddEventFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := Wrap(zap.New(core))

	l.LogQuote("priced", "r1", "")
	l.LogExposure("track", 10, 10, 90)
	l.LogError(errors.New("boom"), "cancel_failed", zap.String("quote_id", "q1"))

	entries := logs.All()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if _, ok := entries[0].ContextMap()["quote_id"]; ok {
		t.Fatalf("empty quote id should be omitted")
	}
	if entries[1].ContextMap()["available"] != 90.0 {
		t.Fatalf("unexpected exposure fields: %v", entries[1].ContextMap())
	}
	if entries[2].Level != zapcore.ErrorLevel || entries[2].ContextMap()["error"] != "boom" {
		t.Fatalf("unexpected error entry: %+v", entries[2])
	}
}
