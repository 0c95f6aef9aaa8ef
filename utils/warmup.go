package utils

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"mailpilot/models"
)

// Rotating content set for warmup traffic. Pseudo-natural subjects and
// bodies keep the reciprocal mail from looking scripted.
var warmupSubjects = []string{
	"Quick question about your recent post",
	"Following up on our last conversation",
	"Checking in to see how you're doing",
	"Thought you might find this interesting",
	"Let's reconnect soon",
	"An idea I wanted to share with you",
	"Regarding your recent project",
}

var warmupBodies = []string{
	"Hi there,\n\nI wanted to follow up on our previous conversation. Let me know if you have any questions!\n\nBest regards,\n%s",
	"Hello,\n\nI came across this and thought you might find it valuable. What do you think?\n\nRegards,\n%s",
	"Hi,\n\nJust checking in to see if you had any thoughts on this topic?\n\nThanks,\n%s",
	"Greetings,\n\nI wanted to share this with you. Let me know your thoughts when you get a chance.\n\nBest,\n%s",
	"Hello,\n\nHope this message finds you well. I wanted to touch base about...\n\nWarm regards,\n%s",
}

// WarmupScheduler builds reciprocal send plans between a user's own
// mailboxes to raise sender reputation over the ramp period.
type WarmupScheduler struct {
	db     *gorm.DB
	quota  *QuotaTracker
	logger *logrus.Logger
}

func NewWarmupScheduler(db *gorm.DB, quota *QuotaTracker, logger *logrus.Logger) *WarmupScheduler {
	return &WarmupScheduler{db: db, quota: quota, logger: logger}
}

// PlanWarmup produces today's remaining warmup intents for one sender:
// ceil(remaining/peerCount) reciprocal emails to the owner's other active
// mailboxes, peers rotated round-robin, each jittered 1-5 minutes out.
// No peers means zero intents, not an error. Each intent is enqueued
// independently by the caller; one failure never rolls back the others.
func (ws *WarmupScheduler) PlanWarmup(sender *models.Sender) ([]*Intent, error) {
	if !sender.WarmupEnabled || !sender.IsActive {
		return nil, nil
	}

	var peers []models.Sender
	if err := ws.db.
		Where("user_id = ? AND id <> ? AND is_active = ?", sender.UserID, sender.ID, true).
		Order("id ASC").
		Find(&peers).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch peer senders: %w", err)
	}
	if len(peers) == 0 {
		ws.logger.WithField("sender_id", sender.ID).Debug("no peer mailboxes for warmup")
		return nil, nil
	}

	// Planned-but-not-yet-sent emails count against today's volume too:
	// intents wait out a multi-minute jitter while passes re-fire much
	// faster, so committed sends alone would re-plan the same work.
	pending, err := ws.pendingToday(sender.ID)
	if err != nil {
		return nil, err
	}

	remaining := ws.todayTarget(sender) - sender.WarmupSentToday - pending
	if remaining <= 0 {
		return nil, nil
	}

	count := (remaining + len(peers) - 1) / len(peers)

	var intents []*Intent
	for i := 0; i < count; i++ {
		reservation, err := ws.quota.TryReserve(sender.ID)
		if errors.Is(err, ErrQuotaExhausted) {
			ws.logger.WithField("sender_id", sender.ID).Debug("daily limit reached, truncating warmup plan")
			break
		} else if err != nil {
			return intents, err
		}

		peer := peers[i%len(peers)]
		subject := warmupSubjects[i%len(warmupSubjects)]
		body := fmt.Sprintf(warmupBodies[i%len(warmupBodies)], sender.FromName)

		warmupEmail := models.WarmupEmail{
			UserID:       sender.UserID,
			FromSenderID: sender.ID,
			ToSenderID:   peer.ID,
			Subject:      subject,
			Body:         body,
			Status:       models.WarmupStatusPending,
		}
		if err := ws.db.Create(&warmupEmail).Error; err != nil {
			reservation.Release()
			return intents, fmt.Errorf("failed to create warmup email: %w", err)
		}

		warmupID := warmupEmail.ID
		intents = append(intents, &Intent{
			Type:          models.EmailTypeWarmup,
			UserID:        sender.UserID,
			SenderID:      sender.ID,
			Recipient:     peer.FromEmail,
			Subject:       subject,
			Body:          body,
			FireAt:        time.Now().Add(warmupJitter()),
			WarmupEmailID: &warmupID,
			Reservation:   reservation,
		})
	}

	return intents, nil
}

// pendingToday counts this sender's warmup emails planned today that have
// not reached a terminal state yet.
func (ws *WarmupScheduler) pendingToday(senderID uint) (int, error) {
	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var pending int64
	err := ws.db.Model(&models.WarmupEmail{}).
		Where("from_sender_id = ? AND status = ? AND created_at >= ?",
			senderID, models.WarmupStatusPending, midnight).
		Count(&pending).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count pending warmup emails: %w", err)
	}
	return int(pending), nil
}

// todayTarget ramps the configured daily volume linearly over RampUpDays
// so a fresh mailbox starts small.
func (ws *WarmupScheduler) todayTarget(sender *models.Sender) int {
	target := sender.DailyWarmupTarget
	if sender.RampUpDays <= 0 || sender.WarmupStartedAt == nil {
		return target
	}

	daysIn := int(time.Since(*sender.WarmupStartedAt).Hours()/24) + 1
	if daysIn >= sender.RampUpDays {
		return target
	}

	ramped := target * daysIn / sender.RampUpDays
	if ramped < 1 {
		ramped = 1
	}
	return ramped
}

// warmupJitter spreads sends over 1-5 minutes so the pattern does not
// look bursty to receiving providers.
func warmupJitter() time.Duration {
	return time.Duration(60+rand.Intn(240)) * time.Second
}
