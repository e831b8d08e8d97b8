package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	CurrentVersion = 1
	DefaultPath    = "~/.schemashift/schemashift.yaml"

	// EnvPrefix prefixes every environment override, e.g. SCHEMASHIFT_BATCH_SIZE.
	EnvPrefix = "SCHEMASHIFT_"
)

// Config is the top-level configuration.
type Config struct {
	Version   int             `yaml:"version"`
	Source    DatabaseConfig  `yaml:"source" envPrefix:"SOURCE_"`
	Target    DatabaseConfig  `yaml:"target" envPrefix:"TARGET_"`
	Migration MigrationConfig `yaml:"migration"`
	Logging   LogConfig       `yaml:"logging,omitempty" envPrefix:"LOGGING_"`
}

// DatabaseConfig defines a Postgres connection.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"HOST"`
	Port           int    `yaml:"port" env:"PORT"`
	Database       string `yaml:"database" env:"DATABASE"`
	Username       string `yaml:"username" env:"USERNAME"`
	Password       string `yaml:"password" env:"PASSWORD"`
	SSL            bool   `yaml:"ssl,omitempty" env:"SSL"`
	MaxConnections int    `yaml:"max_connections,omitempty" env:"MAX_CONNECTIONS"` // default 4, max 20
}

// MigrationConfig holds the rename and cleanup options.
type MigrationConfig struct {
	TargetSchema     string `yaml:"target_schema" env:"TARGET_SCHEMA"`
	PrefixToRemove   string `yaml:"prefix_to_remove" env:"PREFIX_TO_REMOVE"`
	BatchSize        int    `yaml:"batch_size" env:"BATCH_SIZE"`
	LogRetentionDays int    `yaml:"log_retention_days" env:"LOG_RETENTION_DAYS"`
	BackupSchema     string `yaml:"backup_schema" env:"BACKUP_SCHEMA"`
	LogSchema        string `yaml:"log_schema" env:"LOG_SCHEMA"`

	// prefixSet records an explicit empty prefix_to_remove, which disables
	// prefix stripping instead of falling back to the default.
	prefixSet bool
}

// LogConfig defines logging settings.
type LogConfig struct {
	Level         string `yaml:"level,omitempty" env:"LEVEL"`                   // debug, info, warn, error
	Directory     string `yaml:"directory,omitempty" env:"DIRECTORY"`           // default ~/.schemashift/logs/
	RetentionDays int    `yaml:"retention_days,omitempty" env:"RETENTION_DAYS"` // default 30
}

// Default returns a configuration with every default applied and no
// connection details.
func Default() *Config {
	cfg := &Config{Version: CurrentVersion}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the config file from the given path, then applies
// SCHEMASHIFT_* environment overrides, resolves secrets and fills defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ExpandHome(DefaultPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.Migration.prefixSet = hasKey(data, "prefix_to_remove")

	if cfg.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentVersion)
	}

	return cfg.finish()
}

// LoadOrDefault is Load, except that a missing file yields the defaults
// plus environment overrides.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return (&Config{Version: CurrentVersion}).finish()
	}
	return cfg, err
}

func (c *Config) finish() (*Config, error) {
	if _, ok := os.LookupEnv(EnvPrefix + "PREFIX_TO_REMOVE"); ok {
		c.Migration.prefixSet = true
	}
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}
	if err := c.resolveSecrets(); err != nil {
		return nil, fmt.Errorf("resolving secrets: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Save writes the config to the given path.
func (c *Config) Save(path string) error {
	if path == "" {
		path = ExpandHome(DefaultPath)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate rejects option values no component can work with.
func (c *Config) Validate() error {
	if c.Migration.BatchSize < 1 {
		return fmt.Errorf("migration.batch_size must be positive, got %d", c.Migration.BatchSize)
	}
	if c.Migration.LogRetentionDays < 1 {
		return fmt.Errorf("migration.log_retention_days must be positive, got %d", c.Migration.LogRetentionDays)
	}
	if c.Migration.BackupSchema == c.Migration.TargetSchema {
		return fmt.Errorf("migration.backup_schema must differ from target_schema (%s)", c.Migration.TargetSchema)
	}
	return nil
}

func (c *Config) applyDefaults() {
	for _, db := range []*DatabaseConfig{&c.Source, &c.Target} {
		if db.Port == 0 {
			db.Port = 5432
		}
		if db.MaxConnections == 0 {
			db.MaxConnections = 4
		}
		if db.MaxConnections > 20 {
			db.MaxConnections = 20
		}
	}
	m := &c.Migration
	if m.TargetSchema == "" {
		m.TargetSchema = "public"
	}
	if m.PrefixToRemove == "" && !m.prefixSet {
		m.PrefixToRemove = "tbl_"
	}
	if m.BatchSize == 0 {
		m.BatchSize = 50
	}
	if m.LogRetentionDays == 0 {
		m.LogRetentionDays = 30
	}
	if m.BackupSchema == "" {
		m.BackupSchema = "backup"
	}
	if m.LogSchema == "" {
		m.LogSchema = "migration_audit"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Directory == "" {
		c.Logging.Directory = ExpandHome("~/.schemashift/logs/")
	}
	if c.Logging.RetentionDays == 0 {
		c.Logging.RetentionDays = 30
	}
}

// Configured reports whether connection details were provided.
func (d DatabaseConfig) Configured() bool {
	return d.Host != "" && d.Database != ""
}

// ConnString returns a pgx key/value connection string.
func (d DatabaseConfig) ConnString() string {
	s := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s",
		d.Host, d.Port, d.Database, d.Username, quoteConnValue(d.Password))
	if d.SSL {
		s += " sslmode=require"
	} else {
		s += " sslmode=disable"
	}
	return s
}

func quoteConnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// hasKey reports whether key appears in the YAML document, at any depth.
func hasKey(data []byte, key string) bool {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return false
	}
	var walk func(n *yaml.Node) bool
	walk = func(n *yaml.Node) bool {
		if n.Kind == yaml.MappingNode {
			for i := 0; i+1 < len(n.Content); i += 2 {
				if n.Content[i].Value == key {
					return true
				}
			}
		}
		for _, child := range n.Content {
			if walk(child) {
				return true
			}
		}
		return false
	}
	return walk(&node)
}

var secretPattern = regexp.MustCompile(`\$\{(ENV|VAULT|AWS_SM):([^}]+)\}`)

func (c *Config) resolveSecrets() error {
	var err error
	c.Source.Password, err = ResolveValue(c.Source.Password)
	if err != nil {
		return fmt.Errorf("source password: %w", err)
	}
	c.Target.Password, err = ResolveValue(c.Target.Password)
	if err != nil {
		return fmt.Errorf("target password: %w", err)
	}
	return nil
}

// ResolveValue resolves secret references in a string value.
func ResolveValue(val string) (string, error) {
	matches := secretPattern.FindStringSubmatch(val)
	if matches == nil {
		return val, nil
	}

	provider := matches[1]
	ref := matches[2]

	switch provider {
	case "ENV":
		v := os.Getenv(ref)
		if v == "" {
			return "", fmt.Errorf("environment variable %s not set", ref)
		}
		return v, nil
	case "VAULT":
		return resolveVault(ref)
	case "AWS_SM":
		return resolveAWSSecretsManager(ref)
	default:
		return "", fmt.Errorf("unknown secrets provider: %s", provider)
	}
}

// ExpandHome expands ~ to the user's home directory.
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
