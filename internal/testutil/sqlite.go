// Package testutil provides throwaway databases for package tests.
package testutil

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ridhamxdev/TaskNexus/internal/config"
	"github.com/ridhamxdev/TaskNexus/internal/database"
	"github.com/ridhamxdev/TaskNexus/internal/models"
	"github.com/ridhamxdev/TaskNexus/internal/store"
)

// NewSQLiteStore opens a migrated file backed SQLite database that is removed
// with the test's temp dir.
func NewSQLiteStore(t *testing.T) (*store.Store, *sql.DB) {
	t.Helper()

	cfg := config.DatabaseConfig{
		Driver:       database.DriverSQLite,
		SQLitePath:   filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns: 8,
		MaxIdleConns: 8,
	}
	ctx := context.Background()
	db, err := database.Open(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.Migrate(ctx, db, database.DriverSQLite))
	return store.New(db, store.SQLite), db
}

// CreateAccount inserts an account with the given opening balance.
func CreateAccount(t *testing.T, s *store.Store, name string, role models.AccountRole, balance string) *models.Account {
	t.Helper()

	a := &models.Account{
		Name:    name,
		Email:   name + "@example.com",
		Role:    role,
		Balance: decimal.RequireFromString(balance),
	}
	require.NoError(t, s.CreateAccount(context.Background(), a))
	return a
}
