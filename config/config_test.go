package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
	"transcribe-api/constant"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutConfigFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Server.HttpPort)
	assert.Equal(t, 1, cfg.Server.Workers)
	assert.Equal(t, constant.DatabaseDriverSQLite, cfg.Database.Driver)
	assert.Equal(t, constant.QueueDriverMemory, cfg.Queue.Driver)
	assert.Equal(t, constant.TranscriberBackendWhisperCPP, cfg.Transcriber.Backend)
	assert.Equal(t, "base", cfg.Transcriber.Model)
	assert.False(t, cfg.Storage.CleanupOnDelete)
	assert.Equal(t, DefaultHints["hi"], cfg.Transcriber.Hints["hi"])
	assert.Equal(t, int64(1024<<20), cfg.Server.MaxUploadBytes())
}

func TestLoad_WhisperModelFromEnvironment(t *testing.T) {
	t.Setenv("WHISPER_MODEL", "small")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "small", cfg.Transcriber.Model)
}

func TestLoad_ConfigFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	content := `
server:
  port: "9090"
  workers: 4
storage:
  cleanup_on_delete: true
transcriber:
  timeout: 90s
  hints:
    ja: "こんにちは"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644))
	t.Setenv("SERVER_WORKERS", "2")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.HttpPort)
	assert.Equal(t, 2, cfg.Server.Workers)
	assert.True(t, cfg.Storage.CleanupOnDelete)
	assert.Equal(t, 90*time.Second, cfg.Transcriber.Timeout)
	assert.Equal(t, "こんにちは", cfg.Transcriber.Hints["ja"])
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	t.Setenv("QUEUE_DRIVER", "kafka")

	_, err := Load(t.TempDir())
	require.Error(t, err)
}

func TestNewDatabase_SQLite(t *testing.T) {
	db, err := NewDatabase(Database{
		Driver: constant.DatabaseDriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "nested", "jobs.db"),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, sqlDB.Ping())
}
