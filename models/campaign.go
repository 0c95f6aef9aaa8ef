package models

import (
	"time"

	"gorm.io/gorm"
)

// Campaign statuses. Sends happen only while a campaign is active.
const (
	CampaignStatusDraft     = "draft"
	CampaignStatusActive    = "active"
	CampaignStatusPaused    = "paused"
	CampaignStatusCompleted = "completed"
	CampaignStatusStopped   = "stopped"
)

// Campaign represents an outbound email campaign
type Campaign struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`

	// Scheduling
	Status      string     `gorm:"default:'draft';index" json:"status"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`

	// Throttling
	EmailsPerHour      int  `gorm:"default:60" json:"emails_per_hour"`
	DelayBetweenEmails int  `gorm:"default:60" json:"delay_between_emails"` // seconds
	RandomizeDelay     bool `gorm:"default:false" json:"randomize_delay"`

	// Statistics (denormalized for performance)
	SentCount        int `gorm:"default:0" json:"sent_count"`
	DeliveredCount   int `gorm:"default:0" json:"delivered_count"`
	OpenCount        int `gorm:"default:0" json:"open_count"`
	ClickCount       int `gorm:"default:0" json:"click_count"`
	ReplyCount       int `gorm:"default:0" json:"reply_count"`
	BounceCount      int `gorm:"default:0" json:"bounce_count"`
	UnsubscribeCount int `gorm:"default:0" json:"unsubscribe_count"`

	// Relations
	Steps         []SequenceStep   `gorm:"foreignKey:CampaignID" json:"steps,omitempty"`
	CampaignLeads []CampaignLead   `gorm:"foreignKey:CampaignID" json:"leads,omitempty"`
	Senders       []CampaignSender `gorm:"foreignKey:CampaignID" json:"senders,omitempty"`
}

// SequenceStep represents one email in a campaign's ordered sequence
type SequenceStep struct {
	gorm.Model
	CampaignID uint `gorm:"not null;index" json:"campaign_id"`

	StepNumber int    `gorm:"not null" json:"step_number"`
	Subject    string `gorm:"not null" json:"subject"`
	Body       string `gorm:"type:text" json:"body"`
	DelayDays  int    `gorm:"default:0" json:"delay_days"` // Days after the previous step
	IsActive   bool   `gorm:"default:true" json:"is_active"`

	// Tracking
	SentCount int `gorm:"default:0" json:"sent_count"`
}

// CampaignSender joins campaigns to the senders eligible to deliver them
type CampaignSender struct {
	gorm.Model
	CampaignID uint `gorm:"not null;index" json:"campaign_id"`
	SenderID   uint `gorm:"not null;index" json:"sender_id"`
}

// CampaignStats is the snapshot returned by the stats endpoints
type CampaignStats struct {
	CampaignID       uint   `json:"campaign_id"`
	Status           string `json:"status"`
	SentCount        int    `json:"sent_count"`
	DeliveredCount   int    `json:"delivered_count"`
	OpenCount        int    `json:"open_count"`
	ClickCount       int    `json:"click_count"`
	ReplyCount       int    `json:"reply_count"`
	BounceCount      int    `json:"bounce_count"`
	UnsubscribeCount int    `json:"unsubscribe_count"`
}

// Stats builds the snapshot for this campaign
func (c *Campaign) Stats() CampaignStats {
	return CampaignStats{
		CampaignID:       c.ID,
		Status:           c.Status,
		SentCount:        c.SentCount,
		DeliveredCount:   c.DeliveredCount,
		OpenCount:        c.OpenCount,
		ClickCount:       c.ClickCount,
		ReplyCount:       c.ReplyCount,
		BounceCount:      c.BounceCount,
		UnsubscribeCount: c.UnsubscribeCount,
	}
}
