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

// WarmupWorker periodically builds reciprocal send plans for every
// mailbox with warmup enabled.
type WarmupWorker struct {
	DB         *gorm.DB
	Scheduler  *utils.WarmupScheduler
	Dispatcher *utils.Dispatcher
	Logger     *logrus.Logger
	Interval   time.Duration
}

func NewWarmupWorker(db *gorm.DB, scheduler *utils.WarmupScheduler, dispatcher *utils.Dispatcher, logger *logrus.Logger, interval time.Duration) *WarmupWorker {
	return &WarmupWorker{
		DB:         db,
		Scheduler:  scheduler,
		Dispatcher: dispatcher,
		Logger:     logger,
		Interval:   interval,
	}
}

func (ww *WarmupWorker) Start(ctx context.Context) {
	// Initial delay to let the server start up
	select {
	case <-ctx.Done():
		return
	case <-time.After(10 * time.Second):
	}

	ww.Logger.Info("warmup worker started")

	ticker := time.NewTicker(ww.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			ww.Logger.Info("warmup worker shutting down")
			return
		case <-ticker.C:
			ww.processActiveWarmups()
		}
	}
}

func (ww *WarmupWorker) processActiveWarmups() {
	var senders []models.Sender
	if err := ww.DB.Where("warmup_enabled = ? AND is_active = ?", true, true).Find(&senders).Error; err != nil {
		ww.Logger.WithError(err).Error("failed to fetch warming senders")
		return
	}

	for i := range senders {
		if err := ww.processSenderWarmup(&senders[i]); err != nil {
			ww.Logger.WithError(err).WithField("sender_id", senders[i].ID).Error("warmup pass failed")
			sentry.CaptureException(err)
			ww.recordSenderError(senders[i].ID, err.Error())
		}
	}
}

func (ww *WarmupWorker) processSenderWarmup(sender *models.Sender) error {
	if sender.WarmupStartedAt == nil {
		now := time.Now()
		if err := ww.DB.Model(sender).Update("warmup_started_at", now).Error; err != nil {
			return err
		}
		sender.WarmupStartedAt = &now
	}

	if ww.warmupFinished(sender) {
		now := time.Now()
		if err := ww.DB.Model(sender).Updates(map[string]interface{}{
			"warmup_enabled":      false,
			"warmup_completed_at": now,
		}).Error; err != nil {
			return err
		}
		ww.Logger.WithField("sender_id", sender.ID).Info("warmup completed")
		return nil
	}

	intents, err := ww.Scheduler.PlanWarmup(sender)
	if err != nil {
		return err
	}

	// Each intent is deferred on its own; one enqueue failure never
	// blocks or rolls back the rest of the plan.
	for _, intent := range intents {
		if err := ww.Dispatcher.Enqueue(intent); err != nil {
			ww.Logger.WithError(err).WithField("sender_id", sender.ID).Error("failed to enqueue warmup intent")
		}
	}

	if len(intents) > 0 {
		ww.Logger.WithFields(logrus.Fields{
			"sender_id": sender.ID,
			"intents":   len(intents),
		}).Info("warmup pass scheduled")
	}
	return nil
}

// warmupFinished checks whether the mailbox has served its full ramp
// period and earned a healthy reputation.
func (ww *WarmupWorker) warmupFinished(sender *models.Sender) bool {
	if sender.WarmupStartedAt == nil || sender.RampUpDays <= 0 {
		return false
	}
	daysIn := int(time.Since(*sender.WarmupStartedAt).Hours() / 24)
	return daysIn >= sender.RampUpDays && sender.ReputationScore >= 90
}

func (ww *WarmupWorker) recordSenderError(senderID uint, message string) {
	ww.DB.Model(&models.Sender{}).Where("id = ?", senderID).
		Updates(map[string]interface{}{
			"last_error":     message,
			"last_tested_at": time.Now(),
		})
}
