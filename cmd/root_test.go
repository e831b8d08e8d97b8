package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"

	"github.com/dmeworks/schemashift/internal/config"
	"github.com/dmeworks/schemashift/internal/plan"
)

func TestCommandsRegistered(t *testing.T) {
	want := []string{
		"plan-rename", "execute-rename", "build-levels", "backup-and-drop",
		"verify", "prune-log", "rollback-script", "report", "status",
		"discover", "init", "config",
	}
	for _, name := range want {
		c, _, err := rootCmd.Find([]string{name})
		if err != nil || c == rootCmd {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestPersistentFlags(t *testing.T) {
	for _, name := range []string{"config", "log-level", "dry-run", "catalog", "sql-dir"} {
		if rootCmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("missing --%s", name)
		}
	}
	if backupAndDropCmd.Flags().Lookup("confirm") == nil {
		t.Error("backup-and-drop needs --confirm")
	}
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"abc", "***"},
		{"secret123", "se*****23"},
	}
	for _, tt := range tests {
		if got := maskSecret(tt.in); got != tt.want {
			t.Errorf("maskSecret(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRunIDOf(t *testing.T) {
	if got := runIDOf(nil); got != "" {
		t.Errorf("runIDOf(nil) = %q", got)
	}
	if got := runIDOf(&plan.Batch{RunID: "r1"}); got != "r1" {
		t.Errorf("runIDOf = %q", got)
	}
}

func TestDotenvOverridesConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("SCHEMASHIFT_BATCH_SIZE=7\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SCHEMASHIFT_BATCH_SIZE", "")
	os.Unsetenv("SCHEMASHIFT_BATCH_SIZE")
	if err := godotenv.Load(path); err != nil {
		t.Fatalf("loading .env: %v", err)
	}
	cfg, err := config.LoadOrDefault(filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg.Migration.BatchSize != 7 {
		t.Errorf("BatchSize = %d, want 7 from .env", cfg.Migration.BatchSize)
	}
}
