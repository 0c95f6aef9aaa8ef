package worker

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"mailpilot/models"
	"mailpilot/utils"
)

// CampaignWorker periodically runs a scheduling pass over every active
// campaign. Passes are idempotent per lead state, so overlapping firings
// are tolerated.
type CampaignWorker struct {
	DB         *gorm.DB
	Scheduler  *utils.CampaignScheduler
	Dispatcher *utils.Dispatcher
	Logger     *logrus.Logger
	Interval   time.Duration
}

func NewCampaignWorker(db *gorm.DB, scheduler *utils.CampaignScheduler, dispatcher *utils.Dispatcher, logger *logrus.Logger, interval time.Duration) *CampaignWorker {
	return &CampaignWorker{
		DB:         db,
		Scheduler:  scheduler,
		Dispatcher: dispatcher,
		Logger:     logger,
		Interval:   interval,
	}
}

func (cw *CampaignWorker) Start(ctx context.Context) {
	cw.Logger.Info("campaign worker started")

	ticker := time.NewTicker(cw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cw.Logger.Info("campaign worker shutting down")
			return
		case <-ticker.C:
			cw.processActiveCampaigns()
		}
	}
}

func (cw *CampaignWorker) processActiveCampaigns() {
	var campaigns []models.Campaign
	if err := cw.DB.Where("status = ?", models.CampaignStatusActive).Find(&campaigns).Error; err != nil {
		cw.Logger.WithError(err).Error("failed to fetch active campaigns")
		return
	}

	for i := range campaigns {
		if err := cw.processCampaign(&campaigns[i]); err != nil {
			cw.Logger.WithError(err).WithField("campaign_id", campaigns[i].ID).Error("campaign pass failed")
			sentry.CaptureException(err)
		}
	}
}

// processCampaign plans one pass and defers every produced intent. When
// nothing is left to plan and no lead still has steps ahead, the campaign
// is complete.
func (cw *CampaignWorker) processCampaign(campaign *models.Campaign) error {
	intents, err := cw.Scheduler.PlanCampaign(campaign)
	if err != nil {
		return err
	}

	for _, intent := range intents {
		if err := cw.Dispatcher.Enqueue(intent); err != nil {
			cw.Logger.WithError(err).WithFields(logrus.Fields{
				"campaign_id": campaign.ID,
				"recipient":   intent.Recipient,
			}).Error("failed to enqueue intent")
		}
	}

	if len(intents) > 0 {
		cw.Logger.WithFields(logrus.Fields{
			"campaign_id": campaign.ID,
			"intents":     len(intents),
		}).Info("campaign pass scheduled")
		return nil
	}

	remaining, err := cw.Scheduler.RemainingLeads(campaign)
	if err != nil {
		return err
	}
	if remaining == 0 {
		now := time.Now()
		if err := cw.DB.Model(campaign).Updates(map[string]interface{}{
			"status":       models.CampaignStatusCompleted,
			"completed_at": now,
		}).Error; err != nil {
			return err
		}
		cw.Logger.WithField("campaign_id", campaign.ID).Info("campaign completed")
	}
	return nil
}
