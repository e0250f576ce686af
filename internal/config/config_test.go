package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("MODE", "")
	c := FromEnv()
	require.Equal(t, ModeOffline, c.Mode)
	require.Equal(t, "sqlite", c.DBDriver)
	require.Equal(t, 8*time.Hour, c.TokenTTL)
	require.Equal(t, c.CORSOriginsOffline, c.CORSOrigins())
}

func TestLoadLayers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exams.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db_driver: postgres
db_dsn: postgres://file/exams
token_ttl: 2h
log_level: debug
cors_origins_offline: [http://a.test]
`), 0o600))

	t.Setenv("DB_DRIVER", "")
	t.Setenv("MODE", "")
	t.Setenv("DB_DSN", "postgres://env/exams")
	t.Setenv("CORS_ORIGINS_OFFLINE", "http://b.test, http://c.test")

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "postgres", c.DBDriver)
	require.Equal(t, "postgres://env/exams", c.DBDSN)
	require.Equal(t, 2*time.Hour, c.TokenTTL)
	require.Equal(t, slog.LevelDebug, c.SlogLevel())
	require.Equal(t, []string{"http://b.test", "http://c.test"}, c.CORSOriginsOffline)
}

func TestLoadRejects(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("DB_DRIVER", "mysql")
	_, err := Load("")
	require.ErrorContains(t, err, "DB_DRIVER")

	t.Setenv("DB_DRIVER", "memory")
	t.Setenv("MODE", "online")
	t.Setenv("AUTH_HMAC_SECRET", "")
	_, err = Load("")
	require.ErrorContains(t, err, "AUTH_HMAC_SECRET")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
