package db

import (
	"fmt"

	"github.com/emberlink/chatd/config"
	dbmysql "github.com/emberlink/chatd/db/mysql"
	dbsqlite "github.com/emberlink/chatd/db/sqlite"
	"gorm.io/gorm"
)

const (
	ModeSQLite = "sqlite"
	ModeMemory = "memory"
	ModeMySQL  = "mysql"
)

// Open returns a *gorm.DB for the configured database mode.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	switch cfg.Mode {
	case ModeSQLite:
		return dbsqlite.Open(cfg.SQLitePath)
	case ModeMemory:
		return dbsqlite.OpenMemory()
	case ModeMySQL:
		return dbmysql.Open(cfg.MySQLDSN, cfg.MySQLMaxOpen, cfg.MySQLMaxIdle, cfg.MySQLMaxLife)
	default:
		return nil, fmt.Errorf("db: unknown mode %q", cfg.Mode)
	}
}
