package models

import (
	"time"

	"gorm.io/gorm"
)

// Sequence represents an automated outreach sequence
type Sequence struct {
	gorm.Model
	UserID    uint `gorm:"not null;index" json:"user_id"`
	ProjectID uint `gorm:"not null;index" json:"project_id"`

	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`
	Status      string `gorm:"default:'draft'" json:"status"` // draft, active, paused

	// Relations
	Steps       []SequenceStep       `gorm:"foreignKey:SequenceID" json:"steps,omitempty"`
	Enrollments []SequenceEnrollment `gorm:"foreignKey:SequenceID" json:"enrollments,omitempty"`
	Project     Project              `json:"-"`
}

// SequenceStep is one ordered unit of sequence behavior. Steps are read-only
// to the executor once enrollments are in flight.
type SequenceStep struct {
	gorm.Model
	SequenceID uint `gorm:"not null;index" json:"sequence_id"`

	StepOrder int    `gorm:"not null" json:"step_order"`
	Type      string `gorm:"not null" json:"type"` // email, wait, condition, task

	// Email step fields
	Subject    string `json:"subject"`
	Body       string `gorm:"type:text" json:"body"`
	TemplateID *uint  `json:"template_id,omitempty"`

	// Wait step fields
	DelayDays  int `gorm:"default:0" json:"delay_days"`
	DelayHours int `gorm:"default:0" json:"delay_hours"`

	// Condition step fields, stored as JSON {field, operator, value}
	Condition string `gorm:"type:jsonb" json:"condition,omitempty"`

	// Relations
	Template *Template `json:"-"`
}

// Enrollment lifecycle states
const (
	EnrollmentStatusActive    = "active"
	EnrollmentStatusPaused    = "paused"
	EnrollmentStatusCompleted = "completed"
	EnrollmentStatusExited    = "exited"
)

// SequenceEnrollment tracks one lead's progress through one sequence.
// At most one enrollment exists per (sequence, lead) pair. CurrentStep is
// 1-based; one past the last step means the sequence ran out.
type SequenceEnrollment struct {
	gorm.Model
	SequenceID uint `gorm:"not null;index:idx_enrollment_pair,unique" json:"sequence_id"`
	LeadID     uint `gorm:"not null;index:idx_enrollment_pair,unique" json:"lead_id"`

	Status      string     `gorm:"not null;default:'active'" json:"status"` // active, paused, completed, exited
	CurrentStep int        `gorm:"not null;default:1" json:"current_step"`
	NextStepAt  *time.Time `json:"next_step_at"`
	CompletedAt *time.Time `json:"completed_at"`

	// Relations
	Sequence Sequence `json:"-"`
	Lead     Lead     `json:"-"`
}

// StepExecution is the append-only audit trail: one row per executor
// invocation, never mutated afterwards.
type StepExecution struct {
	gorm.Model
	EnrollmentID uint `gorm:"not null;index" json:"enrollment_id"`
	StepID       uint `gorm:"index" json:"step_id"`

	Status     string    `gorm:"not null" json:"status"` // completed, skipped
	ExecutedAt time.Time `gorm:"not null" json:"executed_at"`
	Result     string    `gorm:"type:text" json:"result"`
}
