package repository

import (
	"path/filepath"
	"testing"
	"time"

	"skillyug/config"
	"skillyug/internal/database"
	"skillyug/internal/domain"
	"skillyug/internal/models"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.NewDB(&config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          filepath.Join(t.TempDir(), "repo.db") + "?_pragma=busy_timeout(5000)",
		MaxIdleConns: 1,
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func seedOrder(t *testing.T, repo *OrderRepository, ref, buyer, course string, expiresAt time.Time) *models.Order {
	t.Helper()
	o := &models.Order{
		OrderRef:         ref,
		BuyerID:          buyer,
		CourseID:         course,
		AmountMinorUnits: 499900,
		Currency:         "INR",
		Provider:         domain.GatewayStub,
		Status:           domain.OrderStatusCreated,
		ExpiresAt:        expiresAt,
	}
	require.NoError(t, repo.Create(o))
	return o
}
