package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LogLevel(999), "UNKNOWN"},
	}

	for _, test := range tests {
		result := test.level.String()
		if result != test.expected {
			t.Errorf("LogLevel(%d).String() = %s, expected %s", test.level, result, test.expected)
		}
	}
}

func TestLogLevel_SlogLevel(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{LevelError, slog.LevelError},
		{LogLevel(999), slog.LevelInfo}, // Default for unknown
	}

	for _, test := range tests {
		result := test.level.SlogLevel()
		if result != test.expected {
			t.Errorf("LogLevel(%d).SlogLevel() = %v, expected %v", test.level, result, test.expected)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in       string
		expected LogLevel
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"bogus", LevelInfo},
		{"", LevelInfo},
	}

	for _, test := range tests {
		if got := ParseLevel(test.in); got != test.expected {
			t.Errorf("ParseLevel(%q) = %v, expected %v", test.in, got, test.expected)
		}
	}
}

func TestInitForCLI(t *testing.T) {
	var buf bytes.Buffer

	InitForCLI(LevelInfo, &buf)

	if defaultLogger == nil {
		t.Error("Expected defaultLogger to be set after InitForCLI")
	}

	Info("test-subsystem", "test message")

	output := buf.String()
	if !strings.Contains(output, "test message") {
		t.Error("Expected log message to appear in CLI output")
	}

	if !strings.Contains(output, "test-subsystem") {
		t.Error("Expected subsystem to appear in CLI output")
	}
}

func TestCLILevelFiltering(t *testing.T) {
	var buf bytes.Buffer

	InitForCLI(LevelInfo, &buf)

	// Debug should be filtered out
	Debug("test", "debug message")

	// Info should appear
	Info("test", "info message")

	output := buf.String()
	if strings.Contains(output, "debug message") {
		t.Error("Debug message should be filtered out at INFO level")
	}

	if !strings.Contains(output, "info message") {
		t.Error("Info message should appear at INFO level")
	}
}

func TestLogEntry(t *testing.T) {
	now := time.Now()
	testErr := errors.New("test error")

	entry := LogEntry{
		Timestamp: now,
		Level:     LevelError,
		Subsystem: "test-subsystem",
		Message:   "test message",
		Err:       testErr,
	}

	if entry.Timestamp != now {
		t.Error("Timestamp not set correctly")
	}

	if entry.Level != LevelError {
		t.Error("Level not set correctly")
	}

	if entry.Subsystem != "test-subsystem" {
		t.Error("Subsystem not set correctly")
	}

	if entry.Message != "test message" {
		t.Error("Message not set correctly")
	}

	if entry.Err != testErr {
		t.Error("Error not set correctly")
	}
}

func TestSubscribeReceivesEntries(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelInfo, &buf)

	ch := Subscribe()
	defer Unsubscribe(ch)

	Warn("subsystem-x", "watch out %d", 42)

	select {
	case entry := <-ch:
		if entry.Level != LevelWarn {
			t.Errorf("expected warn entry, got %v", entry.Level)
		}
		if entry.Subsystem != "subsystem-x" {
			t.Errorf("expected subsystem-x, got %s", entry.Subsystem)
		}
		if entry.Message != "watch out 42" {
			t.Errorf("unexpected message %q", entry.Message)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive log entry")
	}
}

func TestSubscribeSeesFilteredLevels(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelInfo, &buf)

	ch := Subscribe()
	defer Unsubscribe(ch)

	// Below the handler level: suppressed from output, still broadcast.
	Debug("quiet", "hidden from console")

	select {
	case entry := <-ch:
		if entry.Message != "hidden from console" {
			t.Errorf("unexpected entry %q", entry.Message)
		}
	case <-time.After(time.Second):
		t.Fatal("debug entry not delivered to subscriber")
	}

	if strings.Contains(buf.String(), "hidden from console") {
		t.Error("debug entry should not reach the console at INFO level")
	}
}

func TestInitForHubWritesFile(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "hub.log")
	var buf bytes.Buffer

	if err := InitForHub(LevelInfo, &buf, logPath); err != nil {
		t.Fatalf("InitForHub failed: %v", err)
	}
	defer Close()

	Info("filecheck", "goes to both sinks")

	if !strings.Contains(buf.String(), "goes to both sinks") {
		t.Error("expected console output")
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "goes to both sinks") {
		t.Error("expected file output")
	}
}

func TestRotatingWriterRotates(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "rot.log")

	w, err := newRotatingWriter(logPath, 64, 2)
	if err != nil {
		t.Fatalf("newRotatingWriter failed: %v", err)
	}
	defer w.Close()

	line := strings.Repeat("a", 40) + "\n"
	for i := 0; i < 4; i++ {
		if _, err := w.Write([]byte(line)); err != nil {
			t.Fatalf("write %d failed: %v", i, err)
		}
	}

	if _, err := os.Stat(logPath); err != nil {
		t.Errorf("live log file missing: %v", err)
	}
	if _, err := os.Stat(logPath + ".1"); err != nil {
		t.Errorf("first backup missing: %v", err)
	}
}
