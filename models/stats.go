package models

import (
	"time"

	"gorm.io/gorm"
)

// DailyStat is an analytics rollup row for one (period, date, scope). Scope
// is the whole account when both ProjectID and UserID are nil.
type DailyStat struct {
	gorm.Model
	Period string    `gorm:"not null;index:idx_stat_window" json:"period"` // daily, weekly
	Date   time.Time `gorm:"not null;index:idx_stat_window" json:"date"`

	ProjectID *uint `gorm:"index" json:"project_id,omitempty"`
	UserID    *uint `gorm:"index" json:"user_id,omitempty"`

	ActionsCreated       int `gorm:"default:0" json:"actions_created"`
	RepliesReceived      int `gorm:"default:0" json:"replies_received"`
	EnrollmentsCompleted int `gorm:"default:0" json:"enrollments_completed"`
	JobsFailed           int `gorm:"default:0" json:"jobs_failed"`
}

// Notification is an in-app note for the user: task steps and classified
// replies create them. Delivery is someone else's job.
type Notification struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Kind    string `gorm:"not null" json:"kind"` // task_due, reply_received
	Title   string `gorm:"not null" json:"title"`
	Body    string `gorm:"type:text" json:"body"`
	LeadID  *uint  `gorm:"index" json:"lead_id,omitempty"`
	IsRead  bool   `gorm:"default:false" json:"is_read"`
}
