package utils

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"mailpilot/models"
)

// fakeReader serves canned messages above the requested cursor. With
// truncateAt set it returns only that many messages together with an
// error, imitating a connection lost mid-fetch.
type fakeReader struct {
	messages   []InboundMessage
	fetchErr   error
	truncateAt int
	calls      int
}

func (f *fakeReader) FetchSince(sender *models.Sender, lastUID uint32) ([]InboundMessage, error) {
	f.calls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	var out []InboundMessage
	for _, msg := range f.messages {
		if msg.UID > lastUID {
			out = append(out, msg)
		}
	}
	if f.truncateAt > 0 && len(out) > f.truncateAt {
		return out[:f.truncateAt], errors.New("imap: connection lost mid-fetch")
	}
	return out, nil
}

func newSyncFixture(t *testing.T) (*gorm.DB, *fakeReader, *InboxSynchronizer, *models.Sender) {
	t.Helper()
	db := newTestDB(t)
	reader := &fakeReader{}
	sync := NewInboxSynchronizer(db, reader, newTestLogger())
	sender := createSender(t, db, func(s *models.Sender) {
		s.IMAPHost = "imap.example.com"
	})
	return db, reader, sync, sender
}

func sentLog(t *testing.T, db *gorm.DB, sender *models.Sender, leadID, campaignID *uint, recipient, messageID string) *models.EmailLog {
	t.Helper()
	now := time.Now()
	log := &models.EmailLog{
		UserID:     sender.UserID,
		SenderID:   sender.ID,
		LeadID:     leadID,
		CampaignID: campaignID,
		Type:       models.EmailTypeCampaign,
		Recipient:  recipient,
		Subject:    "Hi",
		Status:     models.EmailStatusSent,
		SentAt:     &now,
		MessageID:  messageID,
	}
	require.NoError(t, db.Create(log).Error)
	return log
}

func TestSyncStoresOrdinaryMail(t *testing.T) {
	db, reader, sync, sender := newSyncFixture(t)
	reader.messages = []InboundMessage{
		{UID: 7, MessageID: "<hello@remote>", From: "Someone <someone@remote.com>", Subject: "Hello there", Body: "Hi", Date: time.Now()},
	}

	result, err := sync.Sync(sender)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 0, result.RepliesFound)

	var stored models.InboxEmail
	require.NoError(t, db.Where("sender_id = ?", sender.ID).First(&stored).Error)
	assert.Equal(t, uint32(7), stored.UID)
	assert.Equal(t, "<hello@remote>", stored.MessageID)

	var cursor models.SyncCursor
	require.NoError(t, db.Where("sender_id = ?", sender.ID).First(&cursor).Error)
	assert.Equal(t, uint32(7), cursor.LastSeenUID)
	assert.Equal(t, models.SyncStatusIdle, cursor.SyncStatus)
}

func TestSyncSkipsWarmupTraffic(t *testing.T) {
	db, reader, sync, sender := newSyncFixture(t)
	reader.messages = []InboundMessage{
		{UID: 3, From: "peer@example.com", Subject: "Checking in", IsWarmup: true, Date: time.Now()},
	}

	result, err := sync.Sync(sender)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)

	var count int64
	db.Model(&models.InboxEmail{}).Count(&count)
	assert.Zero(t, count)
}

func TestSyncClassifiesReplyByThreadHeader(t *testing.T) {
	db, reader, sync, sender := newSyncFixture(t)

	lead := createLead(t, db, "ada@corp.com", models.LeadStatusContacted)
	campaign := &models.Campaign{UserID: 1, Name: "Launch", Status: models.CampaignStatusActive}
	require.NoError(t, db.Create(campaign).Error)
	origin := sentLog(t, db, sender, &lead.ID, &campaign.ID, lead.Email, "<orig-1@example.com>")

	reader.messages = []InboundMessage{
		{UID: 11, MessageID: "<resp-1@corp.com>", InReplyTo: "<orig-1@example.com>", From: "Ada <ada@corp.com>", Subject: "Re: Hi", Body: "Interested!", Date: time.Now()},
	}

	result, err := sync.Sync(sender)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RepliesFound)

	var reloadedLog models.EmailLog
	require.NoError(t, db.First(&reloadedLog, origin.ID).Error)
	assert.Equal(t, models.EmailStatusReplied, reloadedLog.Status)

	var reloadedLead models.Lead
	require.NoError(t, db.First(&reloadedLead, lead.ID).Error)
	assert.Equal(t, models.LeadStatusReplied, reloadedLead.Status)

	var reloadedCampaign models.Campaign
	require.NoError(t, db.First(&reloadedCampaign, campaign.ID).Error)
	assert.Equal(t, 1, reloadedCampaign.ReplyCount)
}

func TestSyncClassifiesReplyByFromAddress(t *testing.T) {
	db, reader, sync, sender := newSyncFixture(t)

	lead := createLead(t, db, "ada@corp.com", models.LeadStatusContacted)
	origin := sentLog(t, db, sender, &lead.ID, nil, lead.Email, "<orig-2@example.com>")

	// Mail client dropped the thread header; the remitter address still
	// correlates
	reader.messages = []InboundMessage{
		{UID: 12, MessageID: "<resp-2@corp.com>", From: "Ada Lovelace <ada@corp.com>", Subject: "About your email", Body: "Tell me more", Date: time.Now()},
	}

	result, err := sync.Sync(sender)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RepliesFound)

	var reloadedLog models.EmailLog
	require.NoError(t, db.First(&reloadedLog, origin.ID).Error)
	assert.Equal(t, models.EmailStatusReplied, reloadedLog.Status)
}

func TestSyncWarmupReplyRaisesReputation(t *testing.T) {
	db, reader, sync, sender := newSyncFixture(t)

	warmup := models.WarmupEmail{
		UserID:       1,
		FromSenderID: sender.ID,
		ToSenderID:   sender.ID + 1,
		Subject:      "Checking in",
		Status:       models.WarmupStatusSent,
	}
	require.NoError(t, db.Create(&warmup).Error)

	now := time.Now()
	log := &models.EmailLog{
		UserID:        1,
		SenderID:      sender.ID,
		WarmupEmailID: &warmup.ID,
		Type:          models.EmailTypeWarmup,
		Recipient:     "peer@example.com",
		Status:        models.EmailStatusSent,
		SentAt:        &now,
		MessageID:     "<warm-1@example.com>",
	}
	require.NoError(t, db.Create(log).Error)

	reader.messages = []InboundMessage{
		{UID: 20, InReplyTo: "<warm-1@example.com>", From: "peer@example.com", Subject: "Re: Checking in", Body: "Thanks!", IsWarmup: true, Date: time.Now()},
	}

	before := sender.ReputationScore
	result, err := sync.Sync(sender)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RepliesFound)

	var reloadedWarmup models.WarmupEmail
	require.NoError(t, db.First(&reloadedWarmup, warmup.ID).Error)
	assert.Equal(t, models.WarmupStatusReplied, reloadedWarmup.Status)

	var reloadedSender models.Sender
	require.NoError(t, db.First(&reloadedSender, sender.ID).Error)
	assert.Equal(t, before+2, reloadedSender.ReputationScore)
}

func TestSyncClassifiesBounce(t *testing.T) {
	db, reader, sync, sender := newSyncFixture(t)

	lead := createLead(t, db, "gone@corp.com", models.LeadStatusContacted)
	campaign := &models.Campaign{UserID: 1, Name: "Launch", Status: models.CampaignStatusActive}
	require.NoError(t, db.Create(campaign).Error)
	origin := sentLog(t, db, sender, &lead.ID, &campaign.ID, lead.Email, "<orig-3@example.com>")

	reader.messages = []InboundMessage{
		{
			UID:     30,
			From:    "Mail Delivery Subsystem <mailer-daemon@mx.remote.com>",
			Subject: "Undeliverable: Hi",
			Body:    "The following address failed: gone@corp.com\n550 user unknown",
			Date:    time.Now(),
		},
	}

	result, err := sync.Sync(sender)
	require.NoError(t, err)
	assert.Equal(t, 1, result.BouncesFound)

	var reloadedLog models.EmailLog
	require.NoError(t, db.First(&reloadedLog, origin.ID).Error)
	assert.Equal(t, models.EmailStatusBounced, reloadedLog.Status)

	var reloadedLead models.Lead
	require.NoError(t, db.First(&reloadedLead, lead.ID).Error)
	assert.Equal(t, models.LeadStatusBounced, reloadedLead.Status)
	assert.Equal(t, 1, reloadedLead.BounceCount)

	var reloadedCampaign models.Campaign
	require.NoError(t, db.First(&reloadedCampaign, campaign.ID).Error)
	assert.Equal(t, 1, reloadedCampaign.BounceCount)
}

func TestSyncUnattributableBounceStaysInInbox(t *testing.T) {
	db, reader, sync, sender := newSyncFixture(t)
	reader.messages = []InboundMessage{
		{UID: 31, From: "mailer-daemon@mx.remote.com", Subject: "Delivery Status Notification (Failure)", Body: "Unknown failure", Date: time.Now()},
	}

	result, err := sync.Sync(sender)
	require.NoError(t, err)
	assert.Equal(t, 1, result.BouncesFound)

	var count int64
	db.Model(&models.InboxEmail{}).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestSyncRejectsConcurrentRun(t *testing.T) {
	db, _, sync, sender := newSyncFixture(t)

	require.NoError(t, db.Create(&models.SyncCursor{
		UserID:     1,
		SenderID:   sender.ID,
		SyncStatus: models.SyncStatusSyncing,
	}).Error)

	_, err := sync.Sync(sender)
	assert.ErrorIs(t, err, ErrSyncInProgress)
}

func TestSyncRerunProcessesNothingNew(t *testing.T) {
	_, reader, sync, sender := newSyncFixture(t)
	reader.messages = []InboundMessage{
		{UID: 5, From: "someone@remote.com", Subject: "Hello", Body: "Hi", Date: time.Now()},
	}

	first, err := sync.Sync(sender)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Processed)

	second, err := sync.Sync(sender)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Processed)
	assert.Equal(t, 2, reader.calls)
}

func TestSyncPartialProgressPreserved(t *testing.T) {
	db, reader, sync, sender := newSyncFixture(t)
	for uid := uint32(1); uid <= 5; uid++ {
		reader.messages = append(reader.messages, InboundMessage{
			UID: uid, From: "someone@remote.com", Subject: "Hello", Body: "Hi", Date: time.Now(),
		})
	}
	reader.truncateAt = 3

	result, err := sync.Sync(sender)
	require.Error(t, err)
	assert.Equal(t, 3, result.Processed)

	var cursor models.SyncCursor
	require.NoError(t, db.Where("sender_id = ?", sender.ID).First(&cursor).Error)
	assert.Equal(t, uint32(3), cursor.LastSeenUID)
	assert.Equal(t, models.SyncStatusError, cursor.SyncStatus)
	assert.Equal(t, 3, cursor.EmailsProcessed)

	// The next run picks up the remaining two from the preserved cursor
	reader.truncateAt = 0
	result, err = sync.Sync(sender)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)

	require.NoError(t, db.Where("sender_id = ?", sender.ID).First(&cursor).Error)
	assert.Equal(t, uint32(5), cursor.LastSeenUID)

	var stored int64
	db.Model(&models.InboxEmail{}).Count(&stored)
	assert.EqualValues(t, 5, stored)
}

func TestSyncFetchErrorMarksCursor(t *testing.T) {
	db, reader, sync, sender := newSyncFixture(t)
	reader.fetchErr = errors.New("imap: connection reset")

	_, err := sync.Sync(sender)
	require.Error(t, err)

	var cursor models.SyncCursor
	require.NoError(t, db.Where("sender_id = ?", sender.ID).First(&cursor).Error)
	assert.Equal(t, models.SyncStatusError, cursor.SyncStatus)
	assert.Contains(t, cursor.LastError, "connection reset")

	// The errored cursor does not block the next run
	reader.fetchErr = nil
	_, err = sync.Sync(sender)
	assert.NoError(t, err)
}
