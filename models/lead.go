package models

import (
	"time"

	"gorm.io/gorm"
)

// Lead lifecycle statuses. Bounced and unsubscribed are terminal for
// campaign sending: the scheduler never targets those leads again.
const (
	LeadStatusNew           = "new"
	LeadStatusContacted     = "contacted"
	LeadStatusOpened        = "opened"
	LeadStatusClicked       = "clicked"
	LeadStatusReplied       = "replied"
	LeadStatusInterested    = "interested"
	LeadStatusNotInterested = "not-interested"
	LeadStatusBounced       = "bounced"
	LeadStatusUnsubscribed  = "unsubscribed"
)

// Lead represents a single contact
type Lead struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Email     string `gorm:"not null;index" json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`
	Position  string `json:"position"`
	Phone     string `json:"phone"`
	Website   string `json:"website"`

	Status          string     `gorm:"default:'new';index" json:"status"`
	LastContactedAt *time.Time `json:"last_contacted_at"`
	BounceCount     int        `gorm:"default:0" json:"bounce_count"`

	// Metadata
	Source string `json:"source"` // manual, csv, api, etc.
}

// Contactable reports whether campaign sends may still target this lead
func (l *Lead) Contactable() bool {
	return l.Status != LeadStatusBounced && l.Status != LeadStatusUnsubscribed
}

// CampaignLead joins campaigns to their target leads
type CampaignLead struct {
	gorm.Model
	CampaignID uint `gorm:"not null;index" json:"campaign_id"`
	LeadID     uint `gorm:"not null;index" json:"lead_id"`
}
