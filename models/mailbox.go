package models

import (
	"time"

	"gorm.io/gorm"
)

// Mailbox represents a user's sending/receiving identity: SMTP credentials
// for warmup sends, IMAP credentials for inbox sync.
type Mailbox struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Name      string `gorm:"not null" json:"name"`
	FromEmail string `gorm:"not null" json:"from_email"`
	FromName  string `json:"from_name"`

	ProviderType string `gorm:"default:'smtp'" json:"provider_type"` // smtp, gmail, outlook, yahoo

	// ========= SMTP Configuration =========
	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `gorm:"default:587" json:"smtp_port"`
	SMTPUsername string `json:"smtp_username"`
	SMTPPassword string `json:"-"`
	Encryption   string `gorm:"default:'STARTTLS'" json:"encryption"` // SSL, TLS, STARTTLS

	// ========= IMAP Configuration =========
	IMAPHost       string `json:"imap_host"`
	IMAPPort       int    `json:"imap_port" gorm:"default:993"`
	IMAPUsername   string `json:"imap_username"`
	IMAPPassword   string `json:"-"`
	IMAPEncryption string `json:"imap_encryption" gorm:"default:'SSL'"`
	IMAPMailbox    string `json:"imap_mailbox" gorm:"default:'INBOX'"`

	// ========= Warmup =========
	IsWarmingUp       bool       `gorm:"default:false" json:"is_warming_up"`
	WarmupStartedAt   *time.Time `json:"warmup_started_at"`
	WarmupCompletedAt *time.Time `json:"warmup_completed_at"`
	WarmupStage       int        `gorm:"default:0" json:"warmup_stage"`
	WarmupSentToday   int        `gorm:"default:0" json:"warmup_sent_today"`
	WarmupLastResetAt *time.Time `json:"warmup_last_reset_at"`

	// ========= Status =========
	LastSyncedAt *time.Time `json:"last_synced_at"`
	LastError    *string    `json:"last_error"`

	SentToday int `gorm:"default:0" json:"sent_today"`
	TotalSent int `gorm:"default:0" json:"total_sent"`
}

// WarmupStage quotas: emails per day ramp up over the stage duration.
type WarmupStageConfig struct {
	gorm.Model
	MailboxID uint `gorm:"not null;index" json:"mailbox_id"`

	StageNumber  int `gorm:"not null" json:"stage_number"`
	EmailsPerDay int `gorm:"not null" json:"emails_per_day"`
	DurationDays int `gorm:"not null" json:"duration_days"`
}
