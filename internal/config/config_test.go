package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_DefaultsAndFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
database:
  driver: sqlite
  path: /tmp/dg
  name: grid
upload:
  max_rows: 50
  timezone: Asia/Kolkata
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "/tmp/dg/grid.db", cfg.Database.DSN())
	assert.Equal(t, 50, cfg.Upload.MaxRows)
	assert.Equal(t, time.Hour, cfg.Upload.StagingTTL)
	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTTL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "Asia/Kolkata", cfg.Upload.Location().String())
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9000\n")
	t.Setenv("DATAGRID_SERVER_PORT", "9191")
	t.Setenv("DATAGRID_UPLOAD_MAX_ROWS", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, 7, cfg.Upload.MaxRows)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Config{
		Server:   ServerConfig{Port: 0},
		Database: DatabaseConfig{Driver: "oracle"},
		Storage:  StorageConfig{Driver: "s3"},
		Upload:   UploadConfig{MaxRows: 1, StagingTTL: time.Minute, Timezone: "Mars/Base"},
		Auth:     AuthConfig{Enabled: true},
	}
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"server.port", "database.driver", "database.name", "storage.driver", "upload.timezone", "jwt_secret"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestUploadLocation_FallsBackToUTC(t *testing.T) {
	assert.Equal(t, time.UTC, UploadConfig{}.Location())
	assert.Equal(t, time.UTC, UploadConfig{Timezone: "nowhere"}.Location())
}
