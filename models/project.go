package models

import "gorm.io/gorm"

// Project is the tenant workspace: leads, sequences and plans hang off it.
type Project struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`
	Company     string `json:"company"`

	// Relations
	Plans     []Plan     `gorm:"foreignKey:ProjectID" json:"plans,omitempty"`
	Leads     []Lead     `gorm:"foreignKey:ProjectID" json:"leads,omitempty"`
	Sequences []Sequence `gorm:"foreignKey:ProjectID" json:"sequences,omitempty"`
}

// Plan is an outreach plan within a project. Email steps require the project
// to have at least one plan; drafted actions reference it.
type Plan struct {
	gorm.Model
	ProjectID uint `gorm:"not null;index" json:"project_id"`
	UserID    uint `gorm:"not null;index" json:"user_id"`

	Name      string `gorm:"not null" json:"name"`
	Goal      string `json:"goal"`
	Tone      string `json:"tone"`                            // formal, casual, direct
	IsDefault bool   `gorm:"default:false" json:"is_default"`

	// Relations
	Project Project `json:"-"`
}
