package db

import (
	"fmt"
	"strings"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens dsn with the matching driver: "file:" or ":memory:" DSNs use
// the pure-Go SQLite driver, anything else is treated as a MySQL DSN.
func Connect(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(dialector(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("db handle: %w", err)
	}
	if isSQLite(dsn) {
		// sqlite allows a single writer
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return gdb, nil
}

func isSQLite(dsn string) bool {
	return strings.HasPrefix(dsn, "file:") || dsn == ":memory:"
}

func dialector(dsn string) gorm.Dialector {
	if isSQLite(dsn) {
		return gormsqlite.Open(dsn)
	}
	return mysql.Open(dsn)
}
