package models

import (
	"time"

	"gorm.io/gorm"
)

// Person is an outreach target profile inside a workspace.
type Person struct {
	gorm.Model
	WorkspaceSlug string `gorm:"not null;index" json:"workspace_slug"`

	ProfileURL string `gorm:"not null" json:"profile_url"`
	Name       string `json:"name"`
	Headline   string `json:"headline"`
	Company    string `json:"company"`
	Email      string `json:"email"`

	// ========= Outreach State =========
	RepliedAt    *time.Time `json:"replied_at"`
	OptedOut     bool       `gorm:"default:false" json:"opted_out"`
	DoNotContact bool       `gorm:"default:false" json:"do_not_contact"`
}
