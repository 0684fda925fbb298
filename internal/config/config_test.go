package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { os.Chdir(wd) }) //nolint:errcheck

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "trueup.db", cfg.Store.SQLitePath)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, 0.8, cfg.Anomaly.Threshold)
	assert.Equal(t, 5, cfg.Anomaly.MinSamples)
	assert.Equal(t, 8, cfg.Batch.Concurrency)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_ConfigFile(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	dir := t.TempDir()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) }) //nolint:errcheck

	doc := `store:
  driver: postgres
  database_url: postgres://localhost/trueup
anomaly:
  threshold: 0.9
server:
  port: 9090
  allowed_origins:
    - https://review.example.com
`
	require.NoError(t, os.WriteFile("config.yaml", []byte(doc), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/trueup", cfg.Store.DatabaseURL)
	assert.Equal(t, 0.9, cfg.Anomaly.Threshold)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://review.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "trueup.db", cfg.Store.SQLitePath, "unset keys keep their defaults")
}

func TestLoad_EnvOverride(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { os.Chdir(wd) }) //nolint:errcheck

	t.Setenv("TRUEUP_STORE_DRIVER", "postgres")
	t.Setenv("TRUEUP_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))

	err := InitLogger(LogConfig{Level: "shouting", Format: "json"})
	require.Error(t, err)
}
