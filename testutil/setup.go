package testutil

import (
	"testing"

	"github.com/emberlink/chatd/cache"
	"github.com/emberlink/chatd/config"
	dbadapter "github.com/emberlink/chatd/db"
	"github.com/emberlink/chatd/model"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// SetupTestDB creates an in-memory SQLite DB and runs AutoMigrate.
// It requires no external services and is safe to use in parallel tests.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := dbadapter.Open(config.DatabaseConfig{
		Mode: dbadapter.ModeMemory,
	})
	require.NoError(t, err, "SetupTestDB: Open")
	require.NoError(t, model.AutoMigrate(db), "SetupTestDB: AutoMigrate")
	return db
}

// SetupTestCache creates LocalCache and LocalPubSub (no Redis required).
func SetupTestCache(t *testing.T) (cache.Cache, cache.PubSub) {
	t.Helper()
	cfg := cache.CacheConfig{} // empty RedisAddr selects the in-process backends
	c, err := cache.NewCache(cfg)
	require.NoError(t, err, "SetupTestCache: NewCache")
	ps, err := cache.NewPubSub(cfg)
	require.NoError(t, err, "SetupTestCache: NewPubSub")
	return c, ps
}

// CreateUser inserts a user row with a fixed bcrypt-free password hash.
// Handlers that verify credentials should create users through the auth
// endpoint instead.
func CreateUser(t *testing.T, db *gorm.DB, username string) *model.User {
	t.Helper()
	user := &model.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "x",
	}
	require.NoError(t, db.Create(user).Error, "CreateUser")
	return user
}
