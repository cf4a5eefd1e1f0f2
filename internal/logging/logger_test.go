package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readEntries(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("log line is not JSON: %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestNewWritesJSONToDebugLog(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(dir, "info")
	if err != nil {
		t.Fatal(err)
	}

	logger.Info("hello", "issue", 42)
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}

	entries := readEntries(t, filepath.Join(dir, "debug.log"))
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0]["msg"] != "hello" {
		t.Errorf("msg = %v", entries[0]["msg"])
	}
	if entries[0]["issue"] != float64(42) {
		t.Errorf("issue = %v", entries[0]["issue"])
	}
}

func TestLevelFiltering(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(dir, "warn")
	if err != nil {
		t.Fatal(err)
	}

	logger.Debug("dropped")
	logger.Info("dropped too")
	logger.Warn("kept")
	logger.Error("also kept")
	logger.Close()

	entries := readEntries(t, filepath.Join(dir, "debug.log"))
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
}

func TestChildLoggersCarryAttributes(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(dir, "debug")
	if err != nil {
		t.Fatal(err)
	}

	child := logger.WithComponent("registry").WithInstance("claude-0").WithIssue(7)
	child.Info("status changed", "extra", "x")
	logger.Close()

	entries := readEntries(t, filepath.Join(dir, "debug.log"))
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e["component"] != "registry" || e["instance_id"] != "claude-0" || e["issue"] != float64(7) || e["extra"] != "x" {
		t.Errorf("attributes missing: %v", e)
	}
}

func TestChildDoesNotMutateParent(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(dir, "info")
	if err != nil {
		t.Fatal(err)
	}

	_ = logger.WithComponent("child")
	logger.Info("parent entry")
	logger.Close()

	entries := readEntries(t, filepath.Join(dir, "debug.log"))
	if _, ok := entries[0]["component"]; ok {
		t.Error("parent logger inherited child attribute")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	logger, err := New(t.TempDir(), "info")
	if err != nil {
		t.Fatal(err)
	}
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestNopDiscards(t *testing.T) {
	// Must not panic or write anywhere.
	Nop().WithComponent("x").Info("ignored")
}
