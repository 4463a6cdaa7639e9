package models

import (
	"time"

	"gorm.io/gorm"
)

// Lead statuses used by condition steps and inbox classification
const (
	LeadStatusNew          = "new"
	LeadStatusContacted    = "contacted"
	LeadStatusReplied      = "replied"
	LeadStatusInterested   = "interested"
	LeadStatusUnsubscribed = "unsubscribed"
)

// Lead represents a single contact/prospect
type Lead struct {
	gorm.Model
	UserID    uint `gorm:"not null;index" json:"user_id"`
	ProjectID uint `gorm:"not null;index" json:"project_id"`

	Email   string `gorm:"index" json:"email"`
	Name    string `json:"name"`
	Company string `json:"company"`
	Role    string `json:"role"`
	Notes   string `gorm:"type:text" json:"notes"`

	Phone   string `json:"phone"`
	Website string `json:"website"`

	// Status drives condition steps
	Status string `gorm:"default:'new';index" json:"status"` // new, contacted, replied, interested, unsubscribed

	IsBounced      bool `gorm:"default:false" json:"is_bounced"`
	IsUnsubscribed bool `gorm:"default:false" json:"is_unsubscribed"`
	IsDoNotContact bool `gorm:"default:false" json:"is_do_not_contact"`

	Source      string     `json:"source"`
	LastContact *time.Time `json:"last_contact"`

	// Relations
	Enrollments []SequenceEnrollment `gorm:"foreignKey:LeadID" json:"enrollments,omitempty"`
	Project     Project              `json:"-"`
}
