package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromBytes_Defaults(t *testing.T) {
	cfg, err := LoadFromBytes(nil)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "auto", cfg.Logging.Format)
	assert.Equal(t, "stderr", cfg.Logging.Output)
	assert.Equal(t, "file", cfg.State.Backend)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL())
	assert.Equal(t, 7*24*time.Hour, cfg.KeepFor())
	assert.Equal(t, 10*time.Second, cfg.GitTimeout())
	assert.Equal(t, int64(10000), cfg.CompressThreshold())
	assert.Equal(t, int64(1000*1000*1000), cfg.TrashQuota())
	assert.Equal(t, DirName, cfg.Paths.DataDir)

	mode, err := cfg.Server.FileMode()
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), mode)
}

func TestLoadFromBytes_Sections(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(`
logging:
  level: debug
  format: json
  output: /var/log/agentguard.log
state:
  backend: sqlite
  session_ttl: 2d
backup:
  compress_threshold: 64KiB
  keep_days: 30d
  trash_quota: 500MB
git:
  timeout: 3s
  fetch: true
server:
  socket: /run/agentguard.sock
  permissions: "0660"
  forward: true
paths:
  data_dir: .guard
  levels: /etc/agentguard/levels.yaml
`))
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "sqlite", cfg.State.Backend)
	assert.Equal(t, 48*time.Hour, cfg.SessionTTL())
	assert.Equal(t, int64(64*1024), cfg.CompressThreshold())
	assert.Equal(t, 30*24*time.Hour, cfg.KeepFor())
	assert.True(t, cfg.Git.Fetch)
	assert.Equal(t, 3*time.Second, cfg.GitTimeout())
	assert.True(t, cfg.Server.Forward)
	assert.Equal(t, "/run/agentguard.sock", cfg.Server.Socket)
	assert.Equal(t, ".guard", cfg.Paths.DataDir)
	assert.Equal(t, "/etc/agentguard/levels.yaml", cfg.Paths.Levels)
}

func TestLoadFromBytes_Invalid(t *testing.T) {
	cases := map[string]string{
		"level":       "logging: {level: loud}",
		"format":      "logging: {format: xml}",
		"stdout":      "logging: {output: stdout}",
		"backend":     "state: {backend: redis}",
		"ttl":         "state: {session_ttl: soon}",
		"threshold":   "backup: {compress_threshold: lots}",
		"permissions": `server: {permissions: "rw"}`,
		"yaml":        "logging: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv(EnvLogLevel, "")
	t.Setenv(EnvStateBackend, "")
	t.Setenv(EnvSocket, "")
	t.Setenv(EnvDataDir, "")
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "file", cfg.State.Backend)
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte("logging: {level: info}\nstate: {backend: file}\n"), 0o600))

	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvStateBackend, "memory")
	t.Setenv(EnvSocket, filepath.Join(dir, "s.sock"))
	t.Setenv(EnvDataDir, "/srv/data")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "memory", cfg.State.Backend)
	assert.Equal(t, filepath.Join(dir, "s.sock"), cfg.Server.Socket)
	assert.Equal(t, "/srv/data", cfg.Paths.DataDir)
}

func TestLoad_InvalidEnvOverrideRejected(t *testing.T) {
	t.Setenv(EnvStateBackend, "etcd")
	_, err := Load("")
	assert.Error(t, err)
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("7d")
	require.NoError(t, err)
	assert.Equal(t, 168*time.Hour, d)

	d, err = ParseDuration(" 90m ")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, d)

	for _, bad := range []string{"", "d", "-1d", "-5m", "xd"} {
		_, err := ParseDuration(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseByteSize(t *testing.T) {
	for in, want := range map[string]int64{
		"10000": 10000,
		"1KB":   1000,
		"1KiB":  1024,
		"2MB":   2 * 1000 * 1000,
		"1_000": 1000,
	} {
		got, err := ParseByteSize(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseByteSize("-1")
	assert.Error(t, err)
}

func TestExpandHome(t *testing.T) {
	assert.Equal(t, "/h/.agentguard", expandHome("~/.agentguard", "/h"))
	assert.Equal(t, "/h", expandHome("~", "/h"))
	assert.Equal(t, "/abs", expandHome("/abs", "/h"))
	assert.Equal(t, "~/x", expandHome("~/x", ""))
}
