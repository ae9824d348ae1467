package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "production") // skip .env lookup
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	chdir(t, t.TempDir())

	cfg := Load()
	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, 15*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 20, cfg.Database.MaxConnections)
	assert.Equal(t, 10000, cfg.WS.MaxConnections)
	assert.Equal(t, 60*time.Second, cfg.WS.PongTimeout)
	assert.Equal(t, 4000, cfg.WS.MaxContentLength)
	assert.Equal(t, "all", cfg.WS.PresenceScope)
	assert.Empty(t, cfg.RedisURL)
	assert.Equal(t, "messaging:frames", cfg.RedisChannel)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "api.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server_addr: ":9090"
ws_pong_timeout: 30
presence_scope: partners
redis_url: redis://cache:6379/0
`), 0o600))
	t.Setenv("APP_ENV", "production")
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("SERVER_ADDR", ":7070")
	t.Setenv("MAX_CONTENT_LENGTH", "10")
	t.Setenv("WS_SEND_BUFFER_SIZE", "not-a-number")

	cfg := Load()
	assert.Equal(t, ":7070", cfg.ServerAddr, "env wins over yaml")
	assert.Equal(t, 30*time.Second, cfg.WS.PongTimeout)
	assert.Equal(t, "partners", cfg.WS.PresenceScope)
	assert.Equal(t, "redis://cache:6379/0", cfg.RedisURL)
	assert.Equal(t, 10, cfg.WS.MaxContentLength)
	assert.Equal(t, 256, cfg.WS.SendBufferSize, "invalid int falls back")
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(`
# comment
LOG_LEVEL="debug"
JWT_SECRET='from-dotenv'
SERVER_ADDR=:6060
`), 0o600))
	chdir(t, dir)
	t.Setenv("APP_ENV", "")
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("SERVER_ADDR", ":5050")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("JWT_SECRET", "")

	cfg := Load()
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "from-dotenv", cfg.JWTSecret)
	assert.Equal(t, ":5050", cfg.ServerAddr, "existing env is not overwritten")
}

func TestValidateProduction(t *testing.T) {
	cfg := &Config{Env: "development", JWTSecret: devJWTSecret}
	assert.NoError(t, cfg.Validate())

	cfg.Env = "production"
	cfg.Database.URL = defaults().DatabaseURL
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "DATABASE_URL")

	cfg.JWTSecret = "real"
	cfg.Database.URL = "postgres://db.internal/messaging"
	cfg.CORSAllowedOrigins = "https://app.example.com"
	assert.NoError(t, cfg.Validate())
}

// chdir changes the working directory for the duration of the test, like
// testing.T.Chdir (Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}
