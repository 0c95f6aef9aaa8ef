package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/badoux/checkmail"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"mailpilot/models"
)

// Dispatcher is the single component that commits a scheduled send: it
// re-checks preconditions, settles the quota reservation, invokes the
// transport, and applies the completion updates for the intent's type.
type Dispatcher struct {
	db     *gorm.DB
	quota  *QuotaTracker
	mailer Mailer
	queue  *IntentQueue
	logger *logrus.Logger

	// Base URL for open/click tracking; empty disables injection
	TrackingBaseURL string
}

func NewDispatcher(db *gorm.DB, quota *QuotaTracker, mailer Mailer, queue *IntentQueue, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		db:     db,
		quota:  quota,
		mailer: mailer,
		queue:  queue,
		logger: logger,
	}
}

// Enqueue records the intent as a queued EmailLog row and defers it until
// its fire time. The scheduling pass returns immediately.
func (d *Dispatcher) Enqueue(intent *Intent) error {
	now := time.Now()
	record := models.EmailLog{
		UserID:        intent.UserID,
		SenderID:      intent.SenderID,
		LeadID:        intent.LeadID,
		CampaignID:    intent.CampaignID,
		StepNumber:    intent.StepNumber,
		WarmupEmailID: intent.WarmupEmailID,
		Type:          intent.Type,
		Recipient:     intent.Recipient,
		Subject:       intent.Subject,
		Status:        models.EmailStatusQueued,
		QueuedAt:      &now,
		TrackingID:    uuid.New().String(),
	}
	if err := d.db.Create(&record).Error; err != nil {
		if intent.Reservation != nil {
			intent.Reservation.Release()
		}
		return fmt.Errorf("failed to record queued intent: %w", err)
	}

	intent.EmailLogID = record.ID
	d.queue.Enqueue(intent)
	return nil
}

// HandleIntent adapts Dispatch for the intent queue's handler signature.
func (d *Dispatcher) HandleIntent(intent *Intent) {
	if _, err := d.Dispatch(intent); err != nil {
		d.logger.WithFields(logrus.Fields{
			"type":      intent.Type,
			"sender_id": intent.SenderID,
			"recipient": intent.Recipient,
		}).WithError(err).Warn("dispatch failed")
	}
}

// Dispatch commits one intent. Every terminal outcome lands on the
// intent's EmailLog row; a returned error reports a transport or
// persistence failure already recorded there.
func (d *Dispatcher) Dispatch(intent *Intent) (*models.EmailLog, error) {
	record, err := d.loadRecord(intent)
	if err != nil {
		if intent.Reservation != nil {
			intent.Reservation.Release()
		}
		return nil, err
	}

	// The jittered delay can be minutes long; the status check from
	// scheduling time no longer holds. Re-check right before transport.
	if intent.CampaignID != nil {
		if reason := d.campaignSendBlocked(intent); reason != "" {
			if intent.Reservation != nil {
				intent.Reservation.Release()
			}
			d.markFailed(record, reason)
			return record, nil
		}
	}

	reservation := intent.Reservation
	if reservation == nil {
		reservation, err = d.quota.TryReserve(intent.SenderID)
		if errors.Is(err, ErrQuotaExhausted) {
			d.markFailed(record, "sender daily quota exhausted")
			return record, nil
		} else if err != nil {
			d.markFailed(record, err.Error())
			return record, err
		}
	}

	if err := checkmail.ValidateFormat(intent.Recipient); err != nil {
		reservation.Release()
		d.markFailed(record, fmt.Sprintf("invalid recipient %s: %v", intent.Recipient, err))
		return record, nil
	}

	sender, err := d.loadSender(intent.SenderID)
	if err != nil {
		// The sender row can disappear between scheduling and fire time
		reservation.Release()
		d.markFailed(record, err.Error())
		return record, nil
	}

	messageID, sendErr := d.mailer.Send(sender, d.buildOutbound(intent, record))
	if sendErr != nil {
		// The reservation never counts against the daily limit; the
		// failed record surfaces the send for the next scheduling pass.
		reservation.Release()
		d.markFailed(record, sendErr.Error())
		d.completeFailure(intent)
		return record, sendErr
	}

	if err := reservation.Commit(); err != nil {
		d.logger.WithError(err).WithField("sender_id", intent.SenderID).Error("failed to commit quota reservation")
	}

	now := time.Now()
	if err := d.db.Model(record).Updates(map[string]interface{}{
		"status":     models.EmailStatusSent,
		"sent_at":    now,
		"message_id": messageID,
	}).Error; err != nil {
		return record, fmt.Errorf("failed to update email log: %w", err)
	}
	record.Status = models.EmailStatusSent
	record.SentAt = &now
	record.MessageID = messageID

	d.completeSuccess(intent)
	return record, nil
}

func (d *Dispatcher) loadRecord(intent *Intent) (*models.EmailLog, error) {
	if intent.EmailLogID == 0 {
		// Direct dispatch without prior Enqueue (manual reply path)
		now := time.Now()
		record := models.EmailLog{
			UserID:        intent.UserID,
			SenderID:      intent.SenderID,
			LeadID:        intent.LeadID,
			CampaignID:    intent.CampaignID,
			StepNumber:    intent.StepNumber,
			WarmupEmailID: intent.WarmupEmailID,
			Type:          intent.Type,
			Recipient:     intent.Recipient,
			Subject:       intent.Subject,
			Status:        models.EmailStatusQueued,
			QueuedAt:      &now,
			TrackingID:    uuid.New().String(),
		}
		if err := d.db.Create(&record).Error; err != nil {
			return nil, fmt.Errorf("failed to create email log: %w", err)
		}
		intent.EmailLogID = record.ID
		return &record, nil
	}

	var record models.EmailLog
	if err := d.db.First(&record, intent.EmailLogID).Error; err != nil {
		return nil, fmt.Errorf("failed to load email log %d: %w", intent.EmailLogID, err)
	}
	return &record, nil
}

// campaignSendBlocked returns a skip reason when the campaign or lead is
// no longer in a sendable state, or "" when the send may proceed.
func (d *Dispatcher) campaignSendBlocked(intent *Intent) string {
	var campaign models.Campaign
	if err := d.db.First(&campaign, *intent.CampaignID).Error; err != nil {
		return fmt.Sprintf("campaign %d not found", *intent.CampaignID)
	}
	if campaign.Status != models.CampaignStatusActive {
		return "campaign not active"
	}

	if intent.LeadID != nil {
		var lead models.Lead
		if err := d.db.First(&lead, *intent.LeadID).Error; err != nil {
			return fmt.Sprintf("lead %d not found", *intent.LeadID)
		}
		if !lead.Contactable() {
			return fmt.Sprintf("lead no longer contactable (status %s)", lead.Status)
		}
	}
	return ""
}

func (d *Dispatcher) loadSender(senderID uint) (*models.Sender, error) {
	var sender models.Sender
	if err := d.db.First(&sender, senderID).Error; err != nil {
		return nil, fmt.Errorf("failed to load sender %d: %w", senderID, err)
	}
	return &sender, nil
}

func (d *Dispatcher) buildOutbound(intent *Intent, record *models.EmailLog) OutboundEmail {
	msg := OutboundEmail{
		To:      intent.Recipient,
		Subject: intent.Subject,
		Body:    intent.Body,
		Headers: map[string]string{},
	}

	switch intent.Type {
	case models.EmailTypeWarmup:
		msg.Headers["X-Warmup"] = "true"
		msg.Headers["Auto-Submitted"] = "auto-generated"
	case models.EmailTypeCampaign:
		msg.HTML = true
		if d.TrackingBaseURL != "" {
			msg.Body = InjectTracking(msg.Body, d.TrackingBaseURL, record.TrackingID)
		}
	case models.EmailTypeReply:
		if intent.InReplyTo != "" {
			msg.Headers["In-Reply-To"] = intent.InReplyTo
			msg.Headers["References"] = intent.InReplyTo
		}
	}
	return msg
}

// completeSuccess applies the type-specific updates after a committed
// send. For campaign sends the lead update lands first and the campaign
// counter second: a crash in between undercounts, never double-counts.
func (d *Dispatcher) completeSuccess(intent *Intent) {
	now := time.Now()

	switch intent.Type {
	case models.EmailTypeCampaign:
		if intent.LeadID != nil {
			updates := map[string]interface{}{"last_contacted_at": now}
			if err := d.db.Model(&models.Lead{}).
				Where("id = ? AND status = ?", *intent.LeadID, models.LeadStatusNew).
				Update("status", models.LeadStatusContacted).Error; err != nil {
				d.logger.WithError(err).WithField("lead_id", *intent.LeadID).Error("failed to advance lead status")
			}
			if err := d.db.Model(&models.Lead{}).
				Where("id = ?", *intent.LeadID).
				Updates(updates).Error; err != nil {
				d.logger.WithError(err).WithField("lead_id", *intent.LeadID).Error("failed to stamp lead contact time")
			}
		}
		if intent.CampaignID != nil {
			if err := d.db.Model(&models.Campaign{}).
				Where("id = ?", *intent.CampaignID).
				Update("sent_count", gorm.Expr("sent_count + ?", 1)).Error; err != nil {
				d.logger.WithError(err).WithField("campaign_id", *intent.CampaignID).Error("failed to increment campaign counter")
			}
			if intent.StepNumber > 0 {
				d.db.Model(&models.SequenceStep{}).
					Where("campaign_id = ? AND step_number = ?", *intent.CampaignID, intent.StepNumber).
					Update("sent_count", gorm.Expr("sent_count + ?", 1))
			}
		}

	case models.EmailTypeWarmup:
		if intent.WarmupEmailID != nil {
			if err := d.db.Model(&models.WarmupEmail{}).
				Where("id = ?", *intent.WarmupEmailID).
				Updates(map[string]interface{}{
					"status":  models.WarmupStatusSent,
					"sent_at": now,
				}).Error; err != nil {
				d.logger.WithError(err).WithField("warmup_email_id", *intent.WarmupEmailID).Error("failed to mark warmup email sent")
			}
		}
		d.db.Model(&models.Sender{}).
			Where("id = ?", intent.SenderID).
			Update("warmup_sent_today", gorm.Expr("warmup_sent_today + ?", 1))
	}
}

func (d *Dispatcher) completeFailure(intent *Intent) {
	if intent.Type == models.EmailTypeWarmup && intent.WarmupEmailID != nil {
		d.db.Model(&models.WarmupEmail{}).
			Where("id = ?", *intent.WarmupEmailID).
			Update("status", models.WarmupStatusFailed)
	}
}

func (d *Dispatcher) markFailed(record *models.EmailLog, reason string) {
	now := time.Now()
	if err := d.db.Model(record).Updates(map[string]interface{}{
		"status":       models.EmailStatusFailed,
		"failed_at":    now,
		"error_detail": reason,
	}).Error; err != nil {
		d.logger.WithError(err).WithField("email_log_id", record.ID).Error("failed to record send failure")
	}
	record.Status = models.EmailStatusFailed
	record.FailedAt = &now
	record.ErrorDetail = reason
}
