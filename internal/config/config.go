package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfig       = "AGENTGUARD_CONFIG"
	EnvLogLevel     = "AGENTGUARD_LOG_LEVEL"
	EnvStateBackend = "AGENTGUARD_STATE_BACKEND"
	EnvSocket       = "AGENTGUARD_SOCKET"
	EnvDataDir      = "AGENTGUARD_DATA_DIR"

	// DirName is used for both ~/.agentguard and <project>/.agentguard.
	DirName        = ".agentguard"
	ConfigFileName = "config.yaml"
	SocketName     = "agentguard.sock"
)

type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	State   StateConfig   `yaml:"state"`
	Backup  BackupConfig  `yaml:"backup"`
	Git     GitConfig     `yaml:"git"`
	Server  ServerConfig  `yaml:"server"`
	Paths   PathsConfig   `yaml:"paths"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	// Format is text, json, or auto: text on a terminal, json otherwise.
	Format string `yaml:"format"`
	// Output is stderr or a file path. Hook output owns stdout, so stdout is
	// not accepted.
	Output string `yaml:"output"`
}

type StateConfig struct {
	Backend    string `yaml:"backend"`
	SessionTTL string `yaml:"session_ttl"`
}

type BackupConfig struct {
	CompressThreshold string `yaml:"compress_threshold"`
	KeepDays          string `yaml:"keep_days"`
	TrashQuota        string `yaml:"trash_quota"`
}

type GitConfig struct {
	Timeout string `yaml:"timeout"`
	Fetch   bool   `yaml:"fetch"`
}

type ServerConfig struct {
	Socket      string `yaml:"socket"`
	Permissions string `yaml:"permissions"` // e.g. "0600"
	// Forward makes `agentguard hook` try the daemon before mediating
	// in-process.
	Forward bool `yaml:"forward"`
}

type PathsConfig struct {
	ConfigDir string `yaml:"config_dir"`
	// DataDir is the project-local artifact directory; relative values
	// resolve against the project root.
	DataDir string `yaml:"data_dir"`
	// Levels pins the level table location.
	Levels string `yaml:"levels"`
}

// DefaultPath is the operator config location: $AGENTGUARD_CONFIG, then
// ~/.agentguard/config.yaml.
func DefaultPath() string {
	if v := os.Getenv(EnvConfig); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, DirName, ConfigFileName)
}

// Load reads the config at path. A missing file is not an error: defaults
// and environment overrides apply to an empty config.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromBytes loads configuration from bytes without applying environment
// overrides. This is intended for testing where env vars should not interfere.
func LoadFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "warn"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "auto"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stderr"
	}
	if cfg.State.Backend == "" {
		cfg.State.Backend = "file"
	}
	if cfg.State.SessionTTL == "" {
		cfg.State.SessionTTL = "24h"
	}
	if cfg.Backup.CompressThreshold == "" {
		cfg.Backup.CompressThreshold = "10000"
	}
	if cfg.Backup.KeepDays == "" {
		cfg.Backup.KeepDays = "7d"
	}
	if cfg.Backup.TrashQuota == "" {
		cfg.Backup.TrashQuota = "1GB"
	}
	if cfg.Git.Timeout == "" {
		cfg.Git.Timeout = "10s"
	}
	home, _ := os.UserHomeDir()
	if cfg.Paths.ConfigDir == "" && home != "" {
		cfg.Paths.ConfigDir = filepath.Join(home, DirName)
	}
	if cfg.Paths.DataDir == "" {
		cfg.Paths.DataDir = DirName
	}
	if cfg.Server.Socket == "" && cfg.Paths.ConfigDir != "" {
		cfg.Server.Socket = filepath.Join(cfg.Paths.ConfigDir, SocketName)
	}
	if cfg.Server.Permissions == "" {
		cfg.Server.Permissions = "0600"
	}
	cfg.Paths.ConfigDir = expandHome(cfg.Paths.ConfigDir, home)
	cfg.Paths.Levels = expandHome(cfg.Paths.Levels, home)
	cfg.Server.Socket = expandHome(cfg.Server.Socket, home)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv(EnvStateBackend); v != "" {
		cfg.State.Backend = v
	}
	if v := os.Getenv(EnvSocket); v != "" {
		cfg.Server.Socket = v
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		cfg.Paths.DataDir = v
	}
}

func validateConfig(cfg *Config) error {
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid logging.level %q", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "auto", "text", "json":
	default:
		return fmt.Errorf("invalid logging.format %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output == "stdout" {
		return fmt.Errorf("logging.output cannot be stdout, hook responses are written there")
	}
	switch cfg.State.Backend {
	case "file", "sqlite", "memory":
	default:
		return fmt.Errorf("invalid state.backend %q", cfg.State.Backend)
	}
	if _, err := ParseDuration(cfg.State.SessionTTL); err != nil {
		return fmt.Errorf("state.session_ttl: %w", err)
	}
	if _, err := ParseDuration(cfg.Backup.KeepDays); err != nil {
		return fmt.Errorf("backup.keep_days: %w", err)
	}
	if _, err := ParseDuration(cfg.Git.Timeout); err != nil {
		return fmt.Errorf("git.timeout: %w", err)
	}
	if _, err := ParseByteSize(cfg.Backup.CompressThreshold); err != nil {
		return fmt.Errorf("backup.compress_threshold: %w", err)
	}
	if _, err := ParseByteSize(cfg.Backup.TrashQuota); err != nil {
		return fmt.Errorf("backup.trash_quota: %w", err)
	}
	if _, err := cfg.Server.FileMode(); err != nil {
		return err
	}
	return nil
}

// SessionTTL returns state.session_ttl. Load has validated it.
func (c *Config) SessionTTL() time.Duration {
	d, _ := ParseDuration(c.State.SessionTTL)
	return d
}

func (c *Config) KeepFor() time.Duration {
	d, _ := ParseDuration(c.Backup.KeepDays)
	return d
}

func (c *Config) GitTimeout() time.Duration {
	d, _ := ParseDuration(c.Git.Timeout)
	return d
}

func (c *Config) CompressThreshold() int64 {
	n, _ := ParseByteSize(c.Backup.CompressThreshold)
	return n
}

func (c *Config) TrashQuota() int64 {
	n, _ := ParseByteSize(c.Backup.TrashQuota)
	return n
}

// FileMode parses server.permissions as an octal mode.
func (s ServerConfig) FileMode() (os.FileMode, error) {
	n, err := strconv.ParseUint(s.Permissions, 8, 32)
	if err != nil || n > 0o777 {
		return 0, fmt.Errorf("invalid server.permissions %q", s.Permissions)
	}
	return os.FileMode(n), nil
}

// ParseDuration accepts time.ParseDuration syntax plus a whole-day "d"
// suffix such as "7d".
func ParseDuration(s string) (time.Duration, error) {
	in := strings.TrimSpace(s)
	if strings.HasSuffix(in, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(in, "d"))
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(in)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

func expandHome(p, home string) string {
	if home == "" {
		return p
	}
	if p == "~" {
		return home
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(home, p[2:])
	}
	return p
}
