package models

import (
	"time"

	"gorm.io/gorm"
)

// EmailLog types
const (
	EmailTypeCampaign = "campaign"
	EmailTypeWarmup   = "warmup"
	EmailTypeReply    = "reply"
)

// EmailLog statuses
const (
	EmailStatusQueued    = "queued"
	EmailStatusSent      = "sent"
	EmailStatusDelivered = "delivered"
	EmailStatusOpened    = "opened"
	EmailStatusClicked   = "clicked"
	EmailStatusReplied   = "replied"
	EmailStatusBounced   = "bounced"
	EmailStatusFailed    = "failed"
)

// EmailLog is the append-only record of every send the engine attempts.
// Rows are never deleted by the scheduler; only the status (and its
// matching timestamp) moves forward.
type EmailLog struct {
	gorm.Model
	UserID   uint  `gorm:"not null;index" json:"user_id"`
	SenderID uint  `gorm:"not null;index" json:"sender_id"`
	LeadID   *uint `gorm:"index" json:"lead_id,omitempty"`

	CampaignID *uint `gorm:"index" json:"campaign_id,omitempty"`
	StepNumber int   `gorm:"default:0" json:"step_number"`

	WarmupEmailID *uint `gorm:"index" json:"warmup_email_id,omitempty"`

	Type      string `gorm:"not null;index" json:"type"`
	Recipient string `gorm:"not null" json:"recipient"`
	Subject   string `json:"subject"`

	Status      string     `gorm:"default:'queued';index" json:"status"`
	QueuedAt    *time.Time `json:"queued_at"`
	SentAt      *time.Time `json:"sent_at"`
	DeliveredAt *time.Time `json:"delivered_at"`
	OpenedAt    *time.Time `json:"opened_at"`
	ClickedAt   *time.Time `json:"clicked_at"`
	RepliedAt   *time.Time `json:"replied_at"`
	BouncedAt   *time.Time `json:"bounced_at"`
	FailedAt    *time.Time `json:"failed_at"`

	// TrackingID correlates opens/clicks; MessageID correlates replies.
	TrackingID  string `gorm:"index" json:"tracking_id"`
	MessageID   string `gorm:"index" json:"message_id"`
	ErrorDetail string `json:"error_detail"`
}

// WarmupEmail statuses
const (
	WarmupStatusPending = "pending"
	WarmupStatusSent    = "sent"
	WarmupStatusOpened  = "opened"
	WarmupStatusReplied = "replied"
	WarmupStatusFailed  = "failed"
)

// WarmupEmail is one reciprocal message between two mailboxes of the same
// owner. Never counted toward campaign stats, excluded from inbox views.
type WarmupEmail struct {
	gorm.Model
	UserID       uint `gorm:"not null;index" json:"user_id"`
	FromSenderID uint `gorm:"not null;index" json:"from_sender_id"`
	ToSenderID   uint `gorm:"not null;index" json:"to_sender_id"`

	Subject string `gorm:"not null" json:"subject"`
	Body    string `gorm:"type:text" json:"body"`

	Status    string     `gorm:"default:'pending';index" json:"status"`
	SentAt    *time.Time `json:"sent_at"`
	RepliedAt *time.Time `json:"replied_at"`
}
