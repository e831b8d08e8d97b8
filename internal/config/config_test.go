package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schemashift.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `version: 1
source:
  host: legacy.internal
  database: dme_legacy
  username: reader
  password: testpass
target:
  host: localhost
  port: 5433
  database: dmeworks
  username: migrator
  password: testpass
migration:
  target_schema: dmeworks
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Version != 1 {
		t.Errorf("expected version 1, got %d", cfg.Version)
	}
	if cfg.Source.Port != 5432 || cfg.Target.Port != 5433 {
		t.Errorf("ports = %d, %d", cfg.Source.Port, cfg.Target.Port)
	}
	if cfg.Target.MaxConnections != 4 {
		t.Errorf("expected default max_connections 4, got %d", cfg.Target.MaxConnections)
	}
	m := cfg.Migration
	if m.TargetSchema != "dmeworks" || m.PrefixToRemove != "tbl_" || m.BatchSize != 50 || m.LogRetentionDays != 30 {
		t.Errorf("migration defaults = %+v", m)
	}
	if m.BackupSchema != "backup" || m.LogSchema != "migration_audit" {
		t.Errorf("schema defaults = %+v", m)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default log level info, got %s", cfg.Logging.Level)
	}
}

func TestLoadInvalidVersion(t *testing.T) {
	path := writeConfig(t, "version: 99\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid version")
	}
}

func TestLoadExplicitEmptyPrefix(t *testing.T) {
	path := writeConfig(t, `version: 1
migration:
  prefix_to_remove: ""
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Migration.PrefixToRemove != "" {
		t.Errorf("explicit empty prefix should disable stripping, got %q", cfg.Migration.PrefixToRemove)
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, `version: 1
target:
  host: localhost
  database: dmeworks
migration:
  batch_size: 10
`)
	t.Setenv("SCHEMASHIFT_BATCH_SIZE", "25")
	t.Setenv("SCHEMASHIFT_TARGET_SCHEMA", "repository")
	t.Setenv("SCHEMASHIFT_TARGET_HOST", "db.internal")
	t.Setenv("SCHEMASHIFT_LOGGING_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Migration.BatchSize != 25 {
		t.Errorf("BatchSize = %d, want 25", cfg.Migration.BatchSize)
	}
	if cfg.Migration.TargetSchema != "repository" {
		t.Errorf("TargetSchema = %s", cfg.Migration.TargetSchema)
	}
	if cfg.Target.Host != "db.internal" || cfg.Target.Database != "dmeworks" {
		t.Errorf("Target = %+v", cfg.Target)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %s", cfg.Logging.Level)
	}
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	t.Setenv("SCHEMASHIFT_PREFIX_TO_REMOVE", "old_")
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Migration.PrefixToRemove != "old_" || cfg.Migration.BatchSize != 50 {
		t.Errorf("migration = %+v", cfg.Migration)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	cfg.Migration.BackupSchema = cfg.Migration.TargetSchema
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when backup schema equals target schema")
	}
}

func TestRejectsNegativeBatchSize(t *testing.T) {
	path := writeConfig(t, `version: 1
migration:
  batch_size: -5
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "batch_size") {
		t.Errorf("expected batch_size error, got %v", err)
	}
}

func TestConnString(t *testing.T) {
	d := DatabaseConfig{Host: "localhost", Port: 5432, Database: "dmeworks", Username: "migrator", Password: "it's secret"}
	want := `host=localhost port=5432 dbname=dmeworks user=migrator password='it\'s secret' sslmode=disable`
	if got := d.ConnString(); got != want {
		t.Errorf("ConnString =\n%s\nwant\n%s", got, want)
	}
	d.SSL = true
	d.Password = "plain"
	if got := d.ConnString(); !strings.HasSuffix(got, "password=plain sslmode=require") {
		t.Errorf("ConnString = %s", got)
	}
}

func TestResolveEnvSecret(t *testing.T) {
	t.Setenv("TEST_SECRET", "mysecret")
	val, err := ResolveValue("${ENV:TEST_SECRET}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "mysecret" {
		t.Errorf("expected mysecret, got %s", val)
	}
}

func TestResolvePlainValue(t *testing.T) {
	val, err := ResolveValue("plaintext")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "plaintext" {
		t.Errorf("expected plaintext, got %s", val)
	}
}

func TestMaxConnectionsCapped(t *testing.T) {
	path := writeConfig(t, `version: 1
target:
  host: localhost
  database: dmeworks
  max_connections: 100
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Target.MaxConnections != 20 {
		t.Errorf("expected max_connections capped at 20, got %d", cfg.Target.MaxConnections)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "schemashift.yaml")
	cfg := Default()
	cfg.Target.Host = "localhost"
	cfg.Target.Database = "dmeworks"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !loaded.Target.Configured() || loaded.Source.Configured() {
		t.Errorf("Configured: target=%v source=%v", loaded.Target.Configured(), loaded.Source.Configured())
	}
}
