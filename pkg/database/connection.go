package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"userstore/internal/config"
	"userstore/pkg/logger"
)

// Open connects to the configured backend, applies pool limits and pings it.
func Open(ctx context.Context, cfg config.DatabaseConfig, log logger.Logger) (*sql.DB, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("veritabanı bağlantısı kurulamadı: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if cfg.Driver == config.DriverSQLite {
		// sqlite serializes writers; a single connection avoids SQLITE_BUSY.
		maxOpen = 1
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("veritabanı bağlantısı test edilemedi: %w", err)
	}

	log.Info("Veritabanı bağlantısı başarılı", map[string]interface{}{
		"driver":         cfg.Driver,
		"max_open_conns": maxOpen,
	})

	return db, nil
}

func Stats(db *sql.DB) map[string]interface{} {
	dbStats := db.Stats()
	return map[string]interface{}{
		"open_connections": dbStats.OpenConnections,
		"in_use":           dbStats.InUse,
		"idle":             dbStats.Idle,
		"wait_count":       dbStats.WaitCount,
	}
}
