package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnvConfig_Defaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "")
	require.NoError(t, LoadEnvConfigFrom(filepath.Join(t.TempDir(), "missing.env")))

	assert.Equal(t, "8080", DefaultEnvConfig.APP_PORT)
	assert.Equal(t, BackendMemory, DefaultEnvConfig.STORE_BACKEND)
	assert.Equal(t, 30, DefaultEnvConfig.NOTIFICATION_LIMIT)
	assert.Equal(t, 10*time.Second, DefaultEnvConfig.SESSION_RESOLVE_TIMEOUT)
}

func TestLoadEnvConfig_FromEnvironment(t *testing.T) {
	t.Setenv("APP_PORT", "9191")
	t.Setenv("REMOTE_BACKOFF", "1s")
	t.Setenv("BREAKER_MAX_FAILURES", "7")
	t.Setenv("STORE_BACKEND", BackendMongo)
	t.Setenv("MONGO_URI", "mongodb://localhost:27017")

	require.NoError(t, LoadEnvConfigFrom(""))
	assert.Equal(t, "9191", DefaultEnvConfig.APP_PORT)
	assert.Equal(t, time.Second, DefaultEnvConfig.REMOTE_BACKOFF)
	assert.Equal(t, 7, DefaultEnvConfig.BREAKER_MAX_FAILURES)
	assert.Equal(t, BackendMongo, DefaultEnvConfig.STORE_BACKEND)
}

func TestLoadEnvConfig_DotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("ELASTIC_INDEX=dotenv-tasks\n"), 0o600))
	t.Setenv("STORE_BACKEND", "")
	t.Cleanup(func() { os.Unsetenv("ELASTIC_INDEX") })

	require.NoError(t, LoadEnvConfigFrom(path))
	assert.Equal(t, "dotenv-tasks", DefaultEnvConfig.ELASTIC_INDEX)
}

func TestLoadEnvConfig_Invalid(t *testing.T) {
	t.Run("bad duration", func(t *testing.T) {
		t.Setenv("REMOTE_TIMEOUT", "soon")
		assert.Error(t, LoadEnvConfigFrom(""))
	})
	t.Run("unknown backend", func(t *testing.T) {
		t.Setenv("STORE_BACKEND", "firebase")
		assert.Error(t, LoadEnvConfigFrom(""))
	})
	t.Run("postgres without dsn", func(t *testing.T) {
		t.Setenv("STORE_BACKEND", BackendPostgres)
		t.Setenv("POSTGRES_DSN", "")
		assert.Error(t, LoadEnvConfigFrom(""))
	})
}
