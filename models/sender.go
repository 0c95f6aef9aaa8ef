package models

import (
	"time"

	"gorm.io/gorm"
)

// Sender represents email sending and receiving credentials for one mailbox
type Sender struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	// Basic identification
	Name      string `gorm:"not null" json:"name"`
	FromEmail string `gorm:"not null" json:"from_email"`
	FromName  string `gorm:"not null" json:"from_name"`

	// ========= SMTP Configuration =========
	SMTPHost     string `gorm:"not null" json:"smtp_host"`
	SMTPPort     int    `gorm:"not null" json:"smtp_port"`
	SMTPUsername string `gorm:"not null" json:"smtp_username"`
	SMTPPassword string `gorm:"not null" json:"-"`          // Encrypted in application layer
	Encryption   string `gorm:"not null" json:"encryption"` // SSL, TLS, STARTTLS

	// ========= IMAP Configuration =========
	IMAPHost       string `json:"imap_host"`
	IMAPPort       int    `json:"imap_port" gorm:"default:993"`
	IMAPUsername   string `json:"imap_username"`
	IMAPPassword   string `json:"-"` // Encrypted in application layer
	IMAPEncryption string `json:"imap_encryption" gorm:"default:'SSL'"`
	IMAPMailbox    string `json:"imap_mailbox" gorm:"default:'INBOX'"`

	// ========= Warmup Configuration =========
	WarmupEnabled     bool       `gorm:"default:false" json:"warmup_enabled"`
	DailyWarmupTarget int        `gorm:"default:10" json:"daily_warmup_target"`
	RampUpDays        int        `gorm:"default:14" json:"ramp_up_days"`
	WarmupStartedAt   *time.Time `json:"warmup_started_at"`
	WarmupCompletedAt *time.Time `json:"warmup_completed_at"`
	WarmupSentToday   int        `gorm:"default:0" json:"warmup_sent_today"`

	// ========= Status & Health =========
	IsActive        bool       `gorm:"default:true" json:"is_active"`
	ReputationScore int        `gorm:"default:50" json:"reputation_score"` // 0-100
	LastTestedAt    *time.Time `json:"last_tested_at"`
	LastError       *string    `json:"last_error"`

	// ========= Usage Metrics =========
	// SentToday counts every committed send through this mailbox today,
	// campaign and warmup alike. It must never exceed DailyLimit.
	DailyLimit  int        `gorm:"default:50" json:"daily_limit"` // 1-200
	SentToday   int        `gorm:"default:0" json:"sent_today"`
	TotalSent   int        `gorm:"default:0" json:"total_sent"`
	ReplyCount  int        `gorm:"default:0" json:"reply_count"`
	BounceRate  float64    `gorm:"default:0" json:"bounce_rate"`
	LastResetAt *time.Time `json:"last_reset_at"`
}

// Sanitize blanks credential fields before the struct leaves the API
func (s *Sender) Sanitize() {
	s.SMTPPassword = ""
	s.IMAPPassword = ""
}

// Remaining returns the sending capacity left for today
func (s *Sender) Remaining() int {
	remaining := s.DailyLimit - s.SentToday
	if remaining < 0 {
		return 0
	}
	return remaining
}
