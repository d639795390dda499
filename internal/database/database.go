package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/ridhamxdev/TaskNexus/internal/config"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// DSN builds the driver specific connection string.
func DSN(cfg config.DatabaseConfig) string {
	if cfg.Driver == DriverSQLite {
		return SQLiteDSN(cfg.SQLitePath)
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode,
	)
}

// SQLiteDSN opens every transaction with BEGIN IMMEDIATE so concurrent
// writers queue on the busy timeout instead of failing on lock upgrade.
func SQLiteDSN(path string) string {
	params := url.Values{}
	params.Set("_busy_timeout", "10000")
	params.Set("_txlock", "immediate")
	params.Set("_foreign_keys", "on")
	params.Set("_journal_mode", "WAL")
	return "file:" + path + "?" + params.Encode()
}

// Open connects, pings and configures the pool.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open(cfg.Driver, DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}

// InitDatabase opens the database and applies the schema, exiting on failure.
func InitDatabase(ctx context.Context, cfg config.DatabaseConfig, log logrus.FieldLogger) *sql.DB {
	db, err := Open(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	if err := Migrate(ctx, db, cfg.Driver); err != nil {
		log.WithError(err).Fatal("failed to apply schema")
	}
	log.WithField("driver", cfg.Driver).Info("database connection established")
	return db
}
