package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/emberlink/chatd/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, "server:\n  debug: true\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Server.Debug)
	assert.Equal(t, "sqlite", cfg.Database.Mode)
	assert.Equal(t, 3, cfg.Database.TxRetries)
	assert.Equal(t, 2000, cfg.Chat.MaxMessageLen)
	assert.EqualValues(t, 50, cfg.Chat.HistoryOnJoin)
	assert.EqualValues(t, 200, cfg.Chat.RoomHistoryCap)
	assert.Equal(t, 72*time.Hour, cfg.Security.JWTTTL)
	assert.Equal(t, float64(100), cfg.Security.RateLimitRPS)
	assert.Equal(t, 30*time.Second, cfg.Cache.LocalGCInterval)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, `
server:
  port: 9000
database:
  mode: mysql
  mysql_dsn: user:pass@tcp(localhost:3306)/chat
  tx_retries: 5
chat:
  max_message_len: 500
security:
  jwt_secret: sekrit
  jwt_ttl: 1h
  allowed_origins:
    - https://chat.example.com
`))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "mysql", cfg.Database.Mode)
	assert.Equal(t, 5, cfg.Database.TxRetries)
	assert.Equal(t, 500, cfg.Chat.MaxMessageLen)
	assert.Equal(t, "sekrit", cfg.Security.JWTSecret)
	assert.Equal(t, time.Hour, cfg.Security.JWTTTL)
	assert.Equal(t, []string{"https://chat.example.com"}, cfg.Security.AllowedOrigins)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
