package worker

import (
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"mailpilot/models"
	"mailpilot/utils"
)

type stubMailer struct{}

func (stubMailer) Send(sender *models.Sender, msg utils.OutboundEmail) (string, error) {
	return "<stub@example.com>", nil
}

func newWorkerTestDB(t *testing.T) *gorm.DB {
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
		&models.Sender{},
		&models.Lead{},
		&models.Campaign{},
		&models.SequenceStep{},
		&models.CampaignLead{},
		&models.CampaignSender{},
		&models.EmailLog{},
		&models.WarmupEmail{},
	))

	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestProcessCampaignSchedulesAndCompletes(t *testing.T) {
	db := newWorkerTestDB(t)
	logger := quietLogger()

	quota := utils.NewQuotaTracker(db)
	queue := utils.NewIntentQueue(1, logger)
	dispatcher := utils.NewDispatcher(db, quota, stubMailer{}, queue, logger)
	scheduler := utils.NewCampaignScheduler(db, quota, logger)

	cw := NewCampaignWorker(db, scheduler, dispatcher, logger, time.Minute)

	sender := &models.Sender{
		UserID: 1, Name: "Primary", FromEmail: "primary@example.com", FromName: "Primary",
		SMTPHost: "smtp.example.com", SMTPPort: 587, SMTPUsername: "primary@example.com",
		SMTPPassword: "secret", Encryption: "STARTTLS", IsActive: true, DailyLimit: 50,
	}
	require.NoError(t, db.Create(sender).Error)

	lead := &models.Lead{UserID: 1, Email: "ada@corp.com", Status: models.LeadStatusNew}
	require.NoError(t, db.Create(lead).Error)

	campaign := &models.Campaign{UserID: 1, Name: "Launch", Status: models.CampaignStatusActive, DelayBetweenEmails: 0}
	require.NoError(t, db.Create(campaign).Error)
	require.NoError(t, db.Create(&models.SequenceStep{CampaignID: campaign.ID, StepNumber: 1, Subject: "Hi", IsActive: true}).Error)
	require.NoError(t, db.Create(&models.CampaignSender{CampaignID: campaign.ID, SenderID: sender.ID}).Error)
	require.NoError(t, db.Create(&models.CampaignLead{CampaignID: campaign.ID, LeadID: lead.ID}).Error)

	// First pass plans the only lead and defers one intent
	require.NoError(t, cw.processCampaign(campaign))
	assert.Equal(t, 1, queue.Len())

	var queued int64
	db.Model(&models.EmailLog{}).Where("campaign_id = ? AND status = ?", campaign.ID, models.EmailStatusQueued).Count(&queued)
	assert.EqualValues(t, 1, queued)

	// Simulate the send having gone out, then lead has no steps left
	require.NoError(t, db.Model(&models.EmailLog{}).
		Where("campaign_id = ?", campaign.ID).
		Update("status", models.EmailStatusSent).Error)
	require.NoError(t, db.Model(lead).Updates(map[string]interface{}{
		"status":            models.LeadStatusContacted,
		"last_contacted_at": time.Now(),
	}).Error)

	require.NoError(t, cw.processCampaign(campaign))

	var reloaded models.Campaign
	require.NoError(t, db.First(&reloaded, campaign.ID).Error)
	assert.Equal(t, models.CampaignStatusCompleted, reloaded.Status)
	assert.NotNil(t, reloaded.CompletedAt)
}

func TestProcessCampaignIgnoresCampaignWithPendingFollowUps(t *testing.T) {
	db := newWorkerTestDB(t)
	logger := quietLogger()

	quota := utils.NewQuotaTracker(db)
	queue := utils.NewIntentQueue(1, logger)
	dispatcher := utils.NewDispatcher(db, quota, stubMailer{}, queue, logger)
	scheduler := utils.NewCampaignScheduler(db, quota, logger)

	cw := NewCampaignWorker(db, scheduler, dispatcher, logger, time.Minute)

	sender := &models.Sender{
		UserID: 1, Name: "Primary", FromEmail: "primary@example.com", FromName: "Primary",
		SMTPHost: "smtp.example.com", SMTPPort: 587, SMTPUsername: "primary@example.com",
		SMTPPassword: "secret", Encryption: "STARTTLS", IsActive: true, DailyLimit: 50,
	}
	require.NoError(t, db.Create(sender).Error)

	now := time.Now()
	lead := &models.Lead{UserID: 1, Email: "ada@corp.com", Status: models.LeadStatusContacted, LastContactedAt: &now}
	require.NoError(t, db.Create(lead).Error)

	campaign := &models.Campaign{UserID: 1, Name: "Launch", Status: models.CampaignStatusActive}
	require.NoError(t, db.Create(campaign).Error)
	require.NoError(t, db.Create(&models.SequenceStep{CampaignID: campaign.ID, StepNumber: 1, Subject: "Hi", IsActive: true}).Error)
	require.NoError(t, db.Create(&models.SequenceStep{CampaignID: campaign.ID, StepNumber: 2, Subject: "Bump", DelayDays: 3, IsActive: true}).Error)
	require.NoError(t, db.Create(&models.CampaignSender{CampaignID: campaign.ID, SenderID: sender.ID}).Error)
	require.NoError(t, db.Create(&models.CampaignLead{CampaignID: campaign.ID, LeadID: lead.ID}).Error)

	require.NoError(t, db.Create(&models.EmailLog{
		UserID: 1, SenderID: sender.ID, LeadID: &lead.ID, CampaignID: &campaign.ID,
		StepNumber: 1, Type: models.EmailTypeCampaign, Recipient: lead.Email,
		Status: models.EmailStatusSent,
	}).Error)

	// Step two is not due yet; the campaign must stay active, not complete
	require.NoError(t, cw.processCampaign(campaign))
	assert.Zero(t, queue.Len())

	var reloaded models.Campaign
	require.NoError(t, db.First(&reloaded, campaign.ID).Error)
	assert.Equal(t, models.CampaignStatusActive, reloaded.Status)
}
