package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, StorageSQLite, cfg.Storage.Driver)
	assert.Equal(t, 15*time.Minute, cfg.Locks.TTL)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "esgbu.yaml")
	body := `
storage:
  driver: postgres
  postgres_dsn: postgres://db/esgbu
locks:
  ttl: 5m
log:
  level: debug
  format: json
audit:
  driver: fs
  root: /var/lib/esgbu/audit
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, StoragePostgres, cfg.Storage.Driver)
	assert.Equal(t, "postgres://db/esgbu", cfg.Storage.PostgresDSN)
	assert.Equal(t, 5*time.Minute, cfg.Locks.TTL)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, AuditFS, cfg.Audit.Driver)
	assert.Equal(t, 100, cfg.Audit.BatchSize, "unset keys keep defaults")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(lookupFrom(map[string]string{
		"ESGBU_STORAGE_DRIVER":   "MEMORY",
		"ESGBU_LOCK_TTL":         "90s",
		"ESGBU_AUDIT_DRIVER":     "s3",
		"ESGBU_AUDIT_BUCKET":     "audit",
		"ESGBU_AUDIT_PATH_STYLE": "true",
		"ESGBU_AUDIT_BATCH_SIZE": "10",
		"ESGBU_LOG_LEVEL":        "",
	}))
	require.NoError(t, err)
	assert.Equal(t, StorageMemory, cfg.Storage.Driver)
	assert.Equal(t, 90*time.Second, cfg.Locks.TTL)
	assert.Equal(t, "audit", cfg.Audit.Bucket)
	assert.True(t, cfg.Audit.PathStyle)
	assert.Equal(t, 10, cfg.Audit.BatchSize)
	assert.Equal(t, "info", cfg.Log.Level, "empty variables are ignored")
	require.NoError(t, cfg.Validate())
}

func TestApplyEnvRejectsBadValues(t *testing.T) {
	for name, value := range map[string]string{
		"ESGBU_LOCK_TTL":         "soon",
		"ESGBU_AUDIT_PATH_STYLE": "maybe",
		"ESGBU_AUDIT_BATCH_SIZE": "many",
	} {
		cfg := Default()
		err := cfg.ApplyEnv(lookupFrom(map[string]string{name: value}))
		assert.ErrorContains(t, err, name)
	}
}

func TestValidateReportsFields(t *testing.T) {
	cfg := Default()
	cfg.Storage.Driver = StoragePostgres
	cfg.Locks.TTL = 0
	cfg.Log.Format = "xml"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PostgresDSN")
	assert.Contains(t, err.Error(), "TTL")
	assert.Contains(t, err.Error(), "Format")

	cfg = Default()
	cfg.Audit.Driver = AuditS3
	assert.ErrorContains(t, cfg.Validate(), "Bucket")
}
