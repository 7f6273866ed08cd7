package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"runserver/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// PoolOptions bound the connection pool under the gorm handle
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// Connect opens postgres through the pgx stdlib driver and wraps it in gorm.
// The returned handle has been pinged.
func Connect(ctx context.Context, dsn string, pool PoolOptions, log *slog.Logger) (*gorm.DB, error) {
	if log == nil {
		log = slog.Default()
	}

	connConfig, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database url: %w", err)
	}
	sqlDB := stdlib.OpenDB(*connConfig)
	sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)

	// Verify the connection
	if err := sqlDB.PingContext(ctx); err != nil {
		// close the db handle if ping fails to avoid resource leak
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to open gorm: %w", err)
	}

	log.Info("database_connected",
		"host", connConfig.Host,
		"database", connConfig.Database,
	)
	return db, nil
}

// EnsureTable creates the record table with its two well-known columns when
// it does not exist yet. Other columns are the operator's business.
func EnsureTable(ctx context.Context, db *gorm.DB, table, contentColumn string) error {
	if contentColumn == "" {
		contentColumn = store.DefaultContentColumn
	}
	if err := store.ValidateIdentifier(table); err != nil {
		return err
	}
	if err := store.ValidateIdentifier(contentColumn); err != nil {
		return err
	}

	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (id TEXT PRIMARY KEY, %q TEXT)`, table, contentColumn)
	if err := db.WithContext(ctx).Exec(stmt).Error; err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}
	return nil
}

// Close releases the pool behind db
func Close(db *gorm.DB) error {
	sqlDB, err := sqlHandle(db)
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func sqlHandle(db *gorm.DB) (*sql.DB, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql handle: %w", err)
	}
	return sqlDB, nil
}
