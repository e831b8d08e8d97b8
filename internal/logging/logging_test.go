package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetupWritesConsoleAndFile(t *testing.T) {
	dir := t.TempDir()
	day := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	var console bytes.Buffer

	logger, err := setup(&console, "warn", dir, day)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("rename failed", "table", "tbl_doctor")

	data, err := os.ReadFile(filepath.Join(dir, "schemashift-2026-10-19.log"))
	if err != nil {
		t.Fatalf("log file: %v", err)
	}
	for _, out := range []string{console.String(), string(data)} {
		if strings.Contains(out, "hidden") || !strings.Contains(out, "table=tbl_doctor") {
			t.Errorf("unexpected output: %q", out)
		}
	}
}

func TestPruneFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"schemashift-2026-08-01.log",
		"schemashift-2026-09-18.log",
		"schemashift-2026-10-18.log",
		"notes.log",
		"schemashift-latest.log",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	removed, err := PruneFiles(dir, 30, now)
	if err != nil {
		t.Fatalf("PruneFiles: %v", err)
	}
	if diff := cmp.Diff([]string{"schemashift-2026-08-01.log", "schemashift-2026-09-18.log"}, removed); diff != "" {
		t.Errorf("removed mismatch (-want +got):\n%s", diff)
	}
	left, _ := os.ReadDir(dir)
	if len(left) != 3 {
		t.Errorf("expected 3 files left, got %d", len(left))
	}
}

func TestPruneFiles_MissingDirectory(t *testing.T) {
	removed, err := PruneFiles(filepath.Join(t.TempDir(), "absent"), 30, time.Now())
	if err != nil || removed != nil {
		t.Errorf("PruneFiles = %v, %v", removed, err)
	}
}
