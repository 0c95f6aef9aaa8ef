package models

import (
	"time"

	"gorm.io/gorm"
)

// Sync cursor statuses
const (
	SyncStatusIdle    = "idle"
	SyncStatusSyncing = "syncing"
	SyncStatusError   = "error"
)

// SyncCursor is the durable bookmark of the highest mailbox UID already
// classified for one sender. LastSeenUID is monotonically non-decreasing;
// re-running a sync with the same cursor never reprocesses seen messages.
type SyncCursor struct {
	gorm.Model
	UserID   uint `gorm:"not null;index" json:"user_id"`
	SenderID uint `gorm:"not null;uniqueIndex" json:"sender_id"`

	LastSyncAt  *time.Time `json:"last_sync_at"`
	LastSeenUID uint32     `gorm:"default:0" json:"last_seen_uid"`
	SyncStatus  string     `gorm:"default:'idle'" json:"sync_status"`
	LastError   string     `json:"last_error"`

	// Counters from the most recent run
	EmailsProcessed int `gorm:"default:0" json:"emails_processed"`
	RepliesFound    int `gorm:"default:0" json:"replies_found"`
	BouncesFound    int `gorm:"default:0" json:"bounces_found"`
}

// InboxEmail stores ordinary inbound mail the synchronizer classified as
// neither a bounce nor a reply to anything we sent
type InboxEmail struct {
	gorm.Model
	UserID   uint `gorm:"not null;index" json:"user_id"`
	SenderID uint `gorm:"not null;index" json:"sender_id"`

	UID       uint32    `gorm:"not null" json:"uid"`
	MessageID string    `gorm:"index" json:"message_id"`
	InReplyTo string    `json:"in_reply_to"`
	From      string    `gorm:"not null" json:"from"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	Body      string    `gorm:"type:text" json:"body"`
	BodyHTML  string    `gorm:"type:text" json:"body_html"`
	Date      time.Time `json:"date"`
	IsRead    bool      `gorm:"default:false" json:"is_read"`
}
