package utils

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"mailpilot/models"
)

// ErrSyncInProgress rejects a sync request for a sender whose mailbox is
// already being scanned. Requests are rejected, not queued.
var ErrSyncInProgress = errors.New("sync already in progress for this sender")

// SyncResult summarizes one inbox scan
type SyncResult struct {
	Processed    int `json:"processed"`
	RepliesFound int `json:"replies_found"`
	BouncesFound int `json:"bounces_found"`
}

// Substrings that mark a message as a delivery failure report
var bounceSenderPatterns = []string{"mailer-daemon", "postmaster", "mail delivery subsystem"}

var bounceSubjectPatterns = []string{
	"undeliverable",
	"undelivered mail",
	"delivery status notification",
	"delivery failure",
	"failure notice",
	"returned mail",
	"mail delivery failed",
}

// InboxSynchronizer incrementally scans a sender's mailbox, classifies
// each new message (bounce, reply, ordinary) and applies the matching
// lead/campaign/warmup updates. The cursor guarantees each message is
// classified exactly once absent transport data loss.
type InboxSynchronizer struct {
	db     *gorm.DB
	reader MailboxReader
	logger *logrus.Logger
}

func NewInboxSynchronizer(db *gorm.DB, reader MailboxReader, logger *logrus.Logger) *InboxSynchronizer {
	return &InboxSynchronizer{db: db, reader: reader, logger: logger}
}

// Sync scans one sender's mailbox from its cursor. Partial progress is
// always preserved: a mid-scan error advances the cursor to the last
// message successfully classified and marks the cursor errored so the
// next trigger resumes from there.
func (s *InboxSynchronizer) Sync(sender *models.Sender) (*SyncResult, error) {
	cursor, err := s.acquireCursor(sender)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{}
	lastProcessed := cursor.LastSeenUID

	messages, fetchErr := s.reader.FetchSince(sender, cursor.LastSeenUID)

	var classifyErr error
	for i := range messages {
		if err := s.classify(sender, &messages[i], result); err != nil {
			classifyErr = err
			break
		}
		lastProcessed = messages[i].UID
		result.Processed++
	}

	runErr := fetchErr
	if runErr == nil {
		runErr = classifyErr
	}

	now := time.Now()
	updates := map[string]interface{}{
		"last_seen_uid":    lastProcessed,
		"last_sync_at":     now,
		"emails_processed": result.Processed,
		"replies_found":    result.RepliesFound,
		"bounces_found":    result.BouncesFound,
	}
	if runErr != nil {
		updates["sync_status"] = models.SyncStatusError
		updates["last_error"] = runErr.Error()
	} else {
		updates["sync_status"] = models.SyncStatusIdle
		updates["last_error"] = ""
	}
	if err := s.db.Model(&models.SyncCursor{}).
		Where("sender_id = ?", sender.ID).
		Updates(updates).Error; err != nil {
		s.logger.WithError(err).WithField("sender_id", sender.ID).Error("failed to update sync cursor")
	}

	return result, runErr
}

// acquireCursor flips the sender's cursor to syncing, creating it on first
// sync. The compare-and-set guards against concurrent overlapping scans.
func (s *InboxSynchronizer) acquireCursor(sender *models.Sender) (*models.SyncCursor, error) {
	var cursor models.SyncCursor
	if err := s.db.
		Where(models.SyncCursor{SenderID: sender.ID}).
		Attrs(models.SyncCursor{UserID: sender.UserID, SyncStatus: models.SyncStatusIdle}).
		FirstOrCreate(&cursor).Error; err != nil {
		return nil, fmt.Errorf("failed to load sync cursor: %w", err)
	}

	res := s.db.Model(&models.SyncCursor{}).
		Where("sender_id = ? AND sync_status <> ?", sender.ID, models.SyncStatusSyncing).
		Update("sync_status", models.SyncStatusSyncing)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to acquire sync cursor: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrSyncInProgress
	}

	cursor.SyncStatus = models.SyncStatusSyncing
	return &cursor, nil
}

// classify routes one message to its bounce/reply/ordinary handling.
func (s *InboxSynchronizer) classify(sender *models.Sender, msg *InboundMessage, result *SyncResult) error {
	if isBounce(msg) {
		return s.handleBounce(sender, msg, result)
	}

	if handled, err := s.handleReply(sender, msg, result); err != nil || handled {
		return err
	}

	// Warmup traffic is excluded from inbox views by convention
	if msg.IsWarmup {
		return nil
	}

	return s.storeInbox(sender, msg)
}

func isBounce(msg *InboundMessage) bool {
	from := strings.ToLower(msg.From)
	for _, pattern := range bounceSenderPatterns {
		if strings.Contains(from, pattern) {
			return true
		}
	}
	subject := strings.ToLower(msg.Subject)
	for _, pattern := range bounceSubjectPatterns {
		if strings.Contains(subject, pattern) {
			return true
		}
	}
	return false
}

// handleBounce attributes a delivery failure back to the originating send
// by looking for the failed recipient in the report body, then marks the
// lead and campaign.
func (s *InboxSynchronizer) handleBounce(sender *models.Sender, msg *InboundMessage, result *SyncResult) error {
	result.BouncesFound++

	var origin models.EmailLog
	err := s.db.
		Where("sender_id = ? AND type = ? AND status IN ?",
			sender.ID, models.EmailTypeCampaign,
			[]string{models.EmailStatusSent, models.EmailStatusDelivered, models.EmailStatusOpened, models.EmailStatusClicked}).
		Order("id DESC").
		First(&origin, "? LIKE '%' || recipient || '%'", msg.Body).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Unattributable report; keep it visible in the inbox
		return s.storeInbox(sender, msg)
	} else if err != nil {
		return fmt.Errorf("failed to look up bounce origin: %w", err)
	}

	now := time.Now()
	if err := s.db.Model(&models.EmailLog{}).Where("id = ?", origin.ID).Updates(map[string]interface{}{
		"status":     models.EmailStatusBounced,
		"bounced_at": now,
	}).Error; err != nil {
		return fmt.Errorf("failed to mark send bounced: %w", err)
	}

	if origin.LeadID != nil {
		if err := s.db.Model(&models.Lead{}).Where("id = ?", *origin.LeadID).Updates(map[string]interface{}{
			"status":       models.LeadStatusBounced,
			"bounce_count": gorm.Expr("bounce_count + ?", 1),
		}).Error; err != nil {
			return fmt.Errorf("failed to mark lead bounced: %w", err)
		}
	}
	if origin.CampaignID != nil {
		if err := s.db.Model(&models.Campaign{}).Where("id = ?", *origin.CampaignID).
			Update("bounce_count", gorm.Expr("bounce_count + ?", 1)).Error; err != nil {
			return fmt.Errorf("failed to increment campaign bounces: %w", err)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"sender_id":    sender.ID,
		"email_log_id": origin.ID,
	}).Info("bounce recorded")
	return nil
}

// handleReply correlates an inbound message to a prior send, via the
// In-Reply-To thread header first and the remitter's address second.
func (s *InboxSynchronizer) handleReply(sender *models.Sender, msg *InboundMessage, result *SyncResult) (bool, error) {
	var origin models.EmailLog

	found := false
	if msg.InReplyTo != "" {
		err := s.db.
			Where("message_id = ? AND sender_id = ?", msg.InReplyTo, sender.ID).
			First(&origin).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return false, fmt.Errorf("failed to look up thread origin: %w", err)
		}
		found = err == nil
	}

	if !found {
		fromAddr := ExtractAddress(msg.From)
		if fromAddr == "" {
			return false, nil
		}
		err := s.db.
			Where("sender_id = ? AND recipient = ? AND type <> ? AND status IN ?",
				sender.ID, fromAddr, models.EmailTypeReply,
				[]string{models.EmailStatusSent, models.EmailStatusDelivered, models.EmailStatusOpened, models.EmailStatusClicked}).
			Order("id DESC").
			First(&origin).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		} else if err != nil {
			return false, fmt.Errorf("failed to look up reply origin: %w", err)
		}
	}

	result.RepliesFound++
	now := time.Now()

	if err := s.db.Model(&models.EmailLog{}).Where("id = ?", origin.ID).Updates(map[string]interface{}{
		"status":     models.EmailStatusReplied,
		"replied_at": now,
	}).Error; err != nil {
		return true, fmt.Errorf("failed to mark send replied: %w", err)
	}

	if origin.Type == models.EmailTypeWarmup {
		if origin.WarmupEmailID != nil {
			if err := s.db.Model(&models.WarmupEmail{}).Where("id = ?", *origin.WarmupEmailID).
				Updates(map[string]interface{}{
					"status":     models.WarmupStatusReplied,
					"replied_at": now,
				}).Error; err != nil {
				return true, fmt.Errorf("failed to mark warmup email replied: %w", err)
			}
		}
		s.bumpReputation(origin.SenderID)
		return true, nil
	}

	if origin.LeadID != nil {
		if err := s.db.Model(&models.Lead{}).Where("id = ?", *origin.LeadID).
			Update("status", models.LeadStatusReplied).Error; err != nil {
			return true, fmt.Errorf("failed to mark lead replied: %w", err)
		}
	}
	if origin.CampaignID != nil {
		if err := s.db.Model(&models.Campaign{}).Where("id = ?", *origin.CampaignID).
			Update("reply_count", gorm.Expr("reply_count + ?", 1)).Error; err != nil {
			return true, fmt.Errorf("failed to increment campaign replies: %w", err)
		}
	}
	s.db.Model(&models.Sender{}).Where("id = ?", origin.SenderID).
		Update("reply_count", gorm.Expr("reply_count + ?", 1))

	return true, nil
}

func (s *InboxSynchronizer) storeInbox(sender *models.Sender, msg *InboundMessage) error {
	record := models.InboxEmail{
		UserID:    sender.UserID,
		SenderID:  sender.ID,
		UID:       msg.UID,
		MessageID: msg.MessageID,
		InReplyTo: msg.InReplyTo,
		From:      msg.From,
		To:        msg.To,
		Subject:   msg.Subject,
		Body:      msg.Body,
		BodyHTML:  msg.BodyHTML,
		Date:      msg.Date,
	}
	if err := s.db.Create(&record).Error; err != nil {
		return fmt.Errorf("failed to store inbox email: %w", err)
	}
	return nil
}

// bumpReputation nudges the warmup reputation score toward 100 on each
// reciprocal reply.
func (s *InboxSynchronizer) bumpReputation(senderID uint) {
	var warmupSender models.Sender
	if err := s.db.First(&warmupSender, senderID).Error; err != nil {
		return
	}
	score := warmupSender.ReputationScore + 2
	if score > 100 {
		score = 100
	}
	s.db.Model(&models.Sender{}).Where("id = ?", senderID).Update("reputation_score", score)
}

// ExtractAddress pulls the bare address out of "Name <addr>" formatting.
func ExtractAddress(from string) string {
	if start := strings.LastIndex(from, "<"); start != -1 {
		if end := strings.LastIndex(from, ">"); end > start {
			return strings.TrimSpace(from[start+1 : end])
		}
	}
	return strings.TrimSpace(from)
}
