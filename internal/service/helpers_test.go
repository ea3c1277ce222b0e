package service

import (
	"path/filepath"
	"testing"

	"renaissance/internal/config"
	"renaissance/internal/infrastructure/database"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(&config.DatabaseConfig{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "ledger.db"),
	}, "silent")
	require.NoError(t, err)

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newUserID() string {
	return uuid.NewString()
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testBusinessConfig() *config.BusinessConfig {
	return &config.BusinessConfig{
		ActiveWindowDays:      30,
		HibernatingWindowDays: 90,
	}
}
