package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

var payloadValidate = validator.New()

// Job types dispatched by the processor
const (
	JobTypeSequenceStep = "sequence_step"
	JobTypeInboxSync    = "inbox_sync"
	JobTypeWarmup       = "warmup"
	JobTypeAnalytics    = "analytics"
)

// Job lifecycle states
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// ScheduledJob is a durable unit of work with a due time. A job is only
// eligible for execution when status=pending and scheduled_for <= now.
type ScheduledJob struct {
	gorm.Model
	UserID uint `gorm:"index" json:"user_id"`

	Type    string `gorm:"not null;index" json:"type"` // sequence_step, inbox_sync, warmup, analytics
	Payload []byte `gorm:"type:jsonb;not null" json:"payload"`

	Status       string     `gorm:"not null;index;default:'pending'" json:"status"` // pending, running, completed, failed
	ScheduledFor time.Time  `gorm:"not null;index" json:"scheduled_for"`
	StartedAt    *time.Time `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at"`

	RetryCount   int    `gorm:"default:0" json:"retry_count"`
	ErrorMessage string `gorm:"type:text" json:"error_message"`
	Result       string `gorm:"type:text" json:"result"`
}

// SequenceStepPayload advances one enrollment by one step.
type SequenceStepPayload struct {
	SequenceID uint `json:"sequenceId" validate:"required"`
	LeadID     uint `json:"leadId" validate:"required"`
}

// InboxSyncPayload fetches mail for one user's mailboxes.
type InboxSyncPayload struct {
	UserID   uint   `json:"userId" validate:"required"`
	Provider string `json:"provider" validate:"omitempty,oneof=smtp gmail outlook yahoo"`
}

// WarmupPayload sends one warmup batch for a mailbox.
type WarmupPayload struct {
	AccountID uint `json:"accountId" validate:"required"`
}

// AnalyticsPayload rolls up stats for a period.
type AnalyticsPayload struct {
	Period    string `json:"period" validate:"required,oneof=daily weekly"`
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	ProjectID *uint  `json:"projectId,omitempty"`
	UserID    *uint  `json:"userId,omitempty"`
}

// EncodeJobPayload validates a typed payload against its job type and
// serializes it for storage.
func EncodeJobPayload(jobType string, payload interface{}) ([]byte, error) {
	switch jobType {
	case JobTypeSequenceStep:
		if _, ok := payload.(SequenceStepPayload); !ok {
			return nil, fmt.Errorf("payload for %s must be SequenceStepPayload", jobType)
		}
	case JobTypeInboxSync:
		if _, ok := payload.(InboxSyncPayload); !ok {
			return nil, fmt.Errorf("payload for %s must be InboxSyncPayload", jobType)
		}
	case JobTypeWarmup:
		if _, ok := payload.(WarmupPayload); !ok {
			return nil, fmt.Errorf("payload for %s must be WarmupPayload", jobType)
		}
	case JobTypeAnalytics:
		if _, ok := payload.(AnalyticsPayload); !ok {
			return nil, fmt.Errorf("payload for %s must be AnalyticsPayload", jobType)
		}
	default:
		return nil, fmt.Errorf("unknown job type %q", jobType)
	}

	if err := payloadValidate.Struct(payload); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", jobType, err)
	}
	return json.Marshal(payload)
}

// DecodeJobPayload parses the stored payload into dst and re-validates it,
// so a handler never runs on malformed data.
func DecodeJobPayload(job *ScheduledJob, dst interface{}) error {
	if err := json.Unmarshal(job.Payload, dst); err != nil {
		return fmt.Errorf("malformed payload for job %d: %w", job.ID, err)
	}
	if err := payloadValidate.Struct(dst); err != nil {
		return fmt.Errorf("invalid payload for job %d: %w", job.ID, err)
	}
	return nil
}
