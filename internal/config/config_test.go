package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{
		"QUERYDUCK_URL", "QUERYDUCK_USERNAME", "QUERYDUCK_PASSWORD", "QUERYDUCK_TIMEOUT",
		"QUERYDUCK_COMPRESSION", "QUERYDUCK_DEBUG", "QUERYDUCK_LISTEN", "QUERYDUCK_DATA", "QUERYDUCK_ENGINE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "qd.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
url: https://qd.example.org/api/v0
username: alice
password: hunter2
timeout: 5s
compression: true
schema_files:
  - schemas/*.json
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://qd.example.org/api/v0", cfg.URL)
	assert.Equal(t, "alice", cfg.Username)
	assert.Equal(t, "hunter2", cfg.Password)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.True(t, cfg.Compression)
	assert.Equal(t, []string{"schemas/*.json"}, cfg.SchemaFiles)
	assert.Equal(t, ":5000", cfg.Listen, "unset keys keep their defaults")
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "qd.yml")
	require.NoError(t, os.WriteFile(path, []byte("url: http://file\ndebug: false\n"), 0o644))

	t.Setenv("QUERYDUCK_URL", "http://env")
	t.Setenv("QUERYDUCK_DEBUG", "true")
	t.Setenv("QUERYDUCK_TIMEOUT", "not-a-duration")
	t.Setenv("QUERYDUCK_ENGINE", "bolt")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://env", cfg.URL)
	assert.True(t, cfg.Debug)
	assert.Equal(t, 60*time.Second, cfg.Timeout, "invalid values are ignored")
	assert.Equal(t, "bolt", cfg.Engine)
}

func TestLoadMissing(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "absent.yml"))
	assert.Error(t, err, "an explicit path must exist")

	t.Chdir(dir)
	cfg, err := Load("")
	require.NoError(t, err, "the default file is optional")
	assert.Equal(t, Default(), cfg)

	require.NoError(t, os.WriteFile(DefaultFile, []byte("url: [\n"), 0o644))
	_, err = Load("")
	assert.Error(t, err)
}

func TestSchemaPaths(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "a", "b"), 0o755))
	for _, name := range []string{"core.json", "a/x.json", "a/b/y.json", "a/b/notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o644))
	}

	cfg := &Config{SchemaFiles: []string{
		filepath.Join(dir, "**", "*.json"),
		filepath.Join(dir, "core.json"),
	}}
	paths, err := cfg.SchemaPaths()
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a", "b", "y.json"),
		filepath.Join(dir, "a", "x.json"),
		filepath.Join(dir, "core.json"),
	}, paths)

	cfg.SchemaFiles = []string{filepath.Join(dir, "*.yaml")}
	_, err = cfg.SchemaPaths()
	assert.Error(t, err)
}
