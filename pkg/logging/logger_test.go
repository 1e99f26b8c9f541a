package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"slowburn/pkg/config"
)

func TestInit(t *testing.T) {
	tempDir := t.TempDir()
	serverLog := filepath.Join(tempDir, "server.log")
	requestLog := filepath.Join(tempDir, "requests.log")

	// A leftover from a previous run must be rotated away
	if err := os.WriteFile(serverLog, []byte("old run\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &config.LogConfig{
		Server:   config.LogSettings{Path: serverLog, Level: "DEBUG"},
		Requests: config.LogSettings{Path: requestLog, Level: "INFO"},
	}

	prev := slog.Default()
	cleanup, err := Init(cfg)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer func() {
		cleanup()
		slog.SetDefault(prev)
	}()

	if _, err := os.Stat(requestLog); os.IsNotExist(err) {
		t.Error("Request log file not created")
	}
	if RequestLogger == nil {
		t.Error("RequestLogger was not initialized")
	}
	old, err := os.ReadFile(serverLog + ".old")
	if err != nil || string(old) != "old run\n" {
		t.Errorf("expected rotated log, got %q (%v)", old, err)
	}

	slog.Info("Store: opened", "path", "x.db")
	if !strings.Contains(GlobalLogCapture.LastLine(), "Store: opened") {
		t.Errorf("capture missed INFO line: %q", GlobalLogCapture.LastLine())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRecentLines_Bounded(t *testing.T) {
	w := NewRecentLines(2)
	for _, s := range []string{"a\n", "b\n", "c\n"} {
		_, _ = w.Write([]byte(s))
	}
	got := w.Lines()
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("unexpected lines: %v", got)
	}
}
