package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
server:
  addr: ":9090"
  storage:
    driver: sqlite
    sqlite_path: /tmp/mesh.db
client:
  base_url: http://mesh.local:9090
  timeout: 5s
log:
  level: debug
resources:
  - name: note
    fields:
      - name: title
        type: text
        required: true
        sortable: true
      - name: rank
        type: integer
        rules: min=0
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meshcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, StorageMemory, cfg.Server.Storage.Driver)
	assert.Equal(t, 30*time.Second, cfg.Client.Timeout)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, StorageSQLite, cfg.Server.Storage.Driver)
	assert.Equal(t, "/tmp/mesh.db", cfg.Server.Storage.SQLitePath)
	assert.Equal(t, 5*time.Second, cfg.Client.Timeout)
	assert.Equal(t, "fs", cfg.Server.Storage.Blob.Driver, "unset sections keep defaults")

	res, ok := cfg.Resource("note")
	require.True(t, ok)
	assert.Equal(t, "id", res.IDField)
	_, hasID := res.Field("id")
	assert.True(t, hasID)
	_, ok = cfg.Resource("missing")
	assert.False(t, ok)
}

func TestEnvironmentWins(t *testing.T) {
	t.Setenv("MESHCORE_SERVER_ADDR", ":7070")
	t.Setenv("MESHCORE_STORAGE_DRIVER", "blob")
	t.Setenv("MESHCORE_BLOB_DRIVER", "memory")
	t.Setenv("MESHCORE_CLIENT_TIMEOUT", "2s")
	t.Setenv("MESHCORE_METRICS_ENABLED", "false")

	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, StorageBlob, cfg.Server.Storage.Driver)
	assert.Equal(t, "memory", cfg.Server.Storage.Blob.Driver)
	assert.Equal(t, 2*time.Second, cfg.Client.Timeout)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, "environment", cfg.LoadedFrom[len(cfg.LoadedFrom)-1])
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown driver":    "server:\n  storage:\n    driver: redis\n",
		"postgres no dsn":   "server:\n  storage:\n    driver: postgres\n",
		"s3 without bucket": "server:\n  storage:\n    driver: blob\n    blob:\n      driver: s3\n",
		"duplicate resource": "resources:\n  - name: a\n    fields: []\n  - name: a\n    fields: []\n",
		"unknown operator":   "resources:\n  - name: a\n    fields:\n      - name: x\n        type: text\n        operators: [near]\n",
		"bad yaml":           "server: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoggerLevels(t *testing.T) {
	logger, err := Log{Level: "warn", Development: true}.Logger()
	require.NoError(t, err)
	assert.NotNil(t, logger)
	_, err = Log{Level: "loud"}.Logger()
	assert.Error(t, err)
}
