package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigWritesDefaultsWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "config.json")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 11434, cfg.Scanner.OllamaPort)
	assert.Equal(t, 16, cfg.Scanner.Concurrency)
	assert.Equal(t, 8686, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Auth.PasswordHash)

	_, err = os.Stat(path)
	require.NoError(t, err, "default config should be saved")
	assert.Equal(t, path, cfg.Path())
}

func TestLoadConfigJSONOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"database": {"path": "/tmp/compass-test.db"},
		"scanner": {"subnet": "10.0.0.0/28", "concurrency": 4},
		"server": {"port": 9000}
	}`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/compass-test.db", cfg.Database.Path)
	assert.Equal(t, "10.0.0.0/28", cfg.Scanner.Subnet)
	assert.Equal(t, 4, cfg.Scanner.Concurrency)
	assert.Equal(t, 9000, cfg.Server.Port)
	// 未出现的字段保留默认值
	assert.Equal(t, 11434, cfg.Scanner.OllamaPort)
	assert.Equal(t, 120, cfg.Monitor.Interval)
}

func TestLoadConfigYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  path: /tmp/yaml.db
scanner:
  ollama_port: 11500
  rate_limit: 0
log:
  level: debug
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/yaml.db", cfg.Database.Path)
	assert.Equal(t, 11500, cfg.Scanner.OllamaPort)
	assert.Equal(t, 0, cfg.Scanner.RateLimit)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	t.Setenv("COMPASS_DB_PATH", "/tmp/env.db")
	t.Setenv("COMPASS_OLLAMA_PORT", "12000")
	t.Setenv("COMPASS_SUBNET", "172.16.0.0/30")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/env.db", cfg.Database.Path)
	assert.Equal(t, 12000, cfg.Scanner.OllamaPort)
	assert.Equal(t, "172.16.0.0/30", cfg.Scanner.Subnet)
}

func TestLoadConfigRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Server.Port = 70000
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Database.Path = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Auth.PasswordHash = "$2a$10$hash"
	cfg.Auth.JWTSecret = ""
	assert.Error(t, cfg.Validate())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	cfg.Scanner.Subnet = "192.168.50.0/24"
	require.NoError(t, cfg.Save())

	again, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "192.168.50.0/24", again.Scanner.Subnet)
}

func TestLoadConfigGeneratesSecretForPasswordOnlyAuth(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"auth":{"password_hash":"$2a$10$abcdefghijklmnopqrstuv"}}`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NotEmpty(t, cfg.Auth.JWTSecret)
	assert.NotEqual(t, legacyJWTSecret, cfg.Auth.JWTSecret)
	assert.Len(t, cfg.Auth.JWTSecret, 64)

	// 密钥已写回文件，重启后保持不变
	again, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Auth.JWTSecret, again.Auth.JWTSecret)
}

func TestDefaultConfigHasNoJWTSecret(t *testing.T) {
	assert.Empty(t, DefaultConfig().Auth.JWTSecret)
}

func TestValidateRejectsLegacySecret(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Auth.PasswordHash = "$2a$10$hash"
	cfg.Auth.JWTSecret = legacyJWTSecret
	assert.Error(t, cfg.Validate())

	cfg.Auth.JWTSecret = "a-private-secret"
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigRejectsMalformedDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("COMPASS_SUBNET=\"10.0.0.0/24\n"), 0644))
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	_, err = LoadConfig(filepath.Join(dir, "config.json"))
	assert.Error(t, err)
}
