// Package testutil provides shared helpers for service-level tests.
package testutil

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/courierhq/courier/internal/models"
)

// NewDB opens an in-memory sqlite database with the full schema applied.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	// A single connection keeps every session on the same in-memory database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.Product{},
		&models.Content{},
		&models.Channel{},
		&models.Publication{},
		&models.Automation{},
		&models.AutomationLog{},
		&models.DeliveryJob{},
	))

	return db
}

// Fixture seeds one product with a content record and an active channel and
// returns them for use in tests.
func Fixture(t *testing.T, db *gorm.DB, platform string) (*models.Content, *models.Channel) {
	t.Helper()

	product := models.Product{Name: "acme"}
	require.NoError(t, db.Create(&product).Error)

	content := models.Content{
		ProductID:   product.ID,
		Body:        "Release day! Read the changelog at https://example.com #release",
		Adaptations: models.AdaptationMap{},
	}
	require.NoError(t, db.Create(&content).Error)

	channel := models.Channel{
		ProductID: product.ID,
		Platform:  platform,
		Name:      "main " + platform,
		Status:    models.ChannelStatusActive,
		Credentials: models.JSONMap{
			"access_token": "test-token",
		},
	}
	require.NoError(t, db.Create(&channel).Error)

	return &content, &channel
}

// FutureTime returns a timestamp safely in the future for scheduling tests.
func FutureTime() time.Time {
	return time.Now().Add(time.Hour)
}
