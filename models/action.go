package models

import (
	"time"

	"gorm.io/gorm"
)

// Action statuses; the executor only ever creates "ready" drafts, the send
// pipeline owns the rest.
const (
	ActionStatusReady    = "ready"
	ActionStatusApproved = "approved"
	ActionStatusSent     = "sent"
	ActionStatusBounced  = "bounced"
)

// Action is an outbound email draft produced by an email step. Ownership
// transfers to the send/review pipeline once created.
type Action struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`
	LeadID uint `gorm:"not null;index" json:"lead_id"`
	PlanID uint `gorm:"not null;index" json:"plan_id"`

	Subject string `gorm:"not null" json:"subject"`
	Body    string `gorm:"type:text;not null" json:"body"`

	Status    string     `gorm:"default:'ready';index" json:"status"` // ready, approved, sent, bounced
	MessageID string     `gorm:"index" json:"message_id"`
	SentAt    *time.Time `json:"sent_at"`
	RepliedAt *time.Time `json:"replied_at"`

	// Relations
	Lead Lead `json:"-"`
	Plan Plan `json:"-"`
}

// Template represents reusable email copy; template fields override step
// fields when both are set.
type Template struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Name    string `gorm:"not null" json:"name"`
	Subject string `json:"subject"`
	Body    string `gorm:"type:text" json:"body"`

	Category string `json:"category"`
	IsPublic bool   `gorm:"default:false" json:"is_public"`
}
