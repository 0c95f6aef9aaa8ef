package utils

import (
	"fmt"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"mailpilot/models"
)

// newTestDB opens an isolated in-memory database migrated with the full
// schema. One connection keeps SQLite happy under concurrent tests.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Sender{},
		&models.Lead{},
		&models.Campaign{},
		&models.SequenceStep{},
		&models.CampaignLead{},
		&models.CampaignSender{},
		&models.EmailLog{},
		&models.WarmupEmail{},
		&models.SyncCursor{},
		&models.InboxEmail{},
	))

	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func createSender(t *testing.T, db *gorm.DB, mutate func(*models.Sender)) *models.Sender {
	t.Helper()

	sender := &models.Sender{
		UserID:       1,
		Name:         "Primary",
		FromEmail:    "primary@example.com",
		FromName:     "Primary Sender",
		SMTPHost:     "smtp.example.com",
		SMTPPort:     587,
		SMTPUsername: "primary@example.com",
		SMTPPassword: "secret",
		Encryption:   "STARTTLS",
		IsActive:     true,
		DailyLimit:   50,
	}
	if mutate != nil {
		mutate(sender)
	}
	require.NoError(t, db.Create(sender).Error)
	return sender
}
