package models

import "gorm.io/gorm"

// User is the tenant owner. Authentication lives outside this service; we
// only need the row for ownership and inbox sync fan-out.
type User struct {
	gorm.Model
	Email string `gorm:"not null;uniqueIndex" json:"email"`
	Name  string `json:"name"`

	IsActive bool `gorm:"default:true" json:"is_active"`

	// Relations
	Mailboxes []Mailbox `gorm:"foreignKey:UserID" json:"mailboxes,omitempty"`
	Projects  []Project `gorm:"foreignKey:UserID" json:"projects,omitempty"`
}
