package models

import (
	"time"

	"gorm.io/gorm"
)

// Reply classifications produced by inbox sync
const (
	ClassificationInterested    = "interested"
	ClassificationNotInterested = "not_interested"
	ClassificationOutOfOffice   = "out_of_office"
	ClassificationUnsubscribe   = "unsubscribe"
	ClassificationOther         = "other"
)

// InboxMessage is a fetched external mail, matched against outbound actions
// to detect replies.
type InboxMessage struct {
	gorm.Model
	UserID    uint `gorm:"not null;index" json:"user_id"`
	MailboxID uint `gorm:"not null;index" json:"mailbox_id"`

	MessageID  string    `gorm:"not null;index" json:"message_id"`
	InReplyTo  string    `gorm:"index" json:"in_reply_to"`
	References string    `gorm:"type:text" json:"references"`
	From       string    `gorm:"not null" json:"from"`
	To         string    `json:"to"`
	Subject    string    `json:"subject"`
	Body       string    `gorm:"type:text" json:"body"`
	BodyHTML   string    `gorm:"type:text" json:"body_html"`
	Date       time.Time `gorm:"not null" json:"date"`

	IsReply         bool   `gorm:"default:false;index" json:"is_reply"`
	MatchedActionID *uint  `gorm:"index" json:"matched_action_id,omitempty"`
	MatchedLeadID   *uint  `gorm:"index" json:"matched_lead_id,omitempty"`
	Classification  string `json:"classification"` // interested, not_interested, out_of_office, unsubscribe, other

	// Relations
	Mailbox Mailbox `json:"-"`
}
