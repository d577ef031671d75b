package models

import (
	"time"

	"gorm.io/gorm"
)

// ActionType identifies what kind of outreach an Action performs.
type ActionType string

const (
	ActionConnect         ActionType = "connect"
	ActionMessage         ActionType = "message"
	ActionProfileView     ActionType = "profile_view"
	ActionCheckConnection ActionType = "check_connection"
)

// ActionStatus is the lifecycle state of an Action.
type ActionStatus string

const (
	ActionStatusPending   ActionStatus = "pending"
	ActionStatusRunning   ActionStatus = "running"
	ActionStatusComplete  ActionStatus = "complete"
	ActionStatusFailed    ActionStatus = "failed"
	ActionStatusCancelled ActionStatus = "cancelled"
	ActionStatusExpired   ActionStatus = "expired"
)

// IsTerminal reports whether no further transitions may leave this status.
func (s ActionStatus) IsTerminal() bool {
	switch s {
	case ActionStatusComplete, ActionStatusFailed, ActionStatusCancelled, ActionStatusExpired:
		return true
	}
	return false
}

// Action is one scheduled unit of outreach work. Actions are never
// deleted; they only reach a terminal status.
type Action struct {
	gorm.Model

	SenderID      uint   `gorm:"not null;index" json:"sender_id"`
	PersonID      uint   `gorm:"not null;index" json:"person_id"`
	WorkspaceSlug string `gorm:"not null;index" json:"workspace_slug"`

	ActionType ActionType `gorm:"not null" json:"action_type"` // connect, message, profile_view, check_connection
	Message    string     `json:"message"`                     // body for message actions, note for connect actions

	// ========= Scheduling =========
	Priority     int       `gorm:"not null;default:5" json:"priority"` // 1 = highest (warm lead), 5 = default
	ScheduledFor time.Time `gorm:"not null;index" json:"scheduled_for"`

	// ========= Lifecycle =========
	Status        ActionStatus `gorm:"not null;default:'pending';index" json:"status"`
	Attempts      int          `gorm:"default:0" json:"attempts"`
	MaxAttempts   int          `gorm:"default:3" json:"max_attempts"`
	NextRetryAt   *time.Time   `json:"next_retry_at"`
	LastAttemptAt *time.Time   `json:"last_attempt_at"`
	LastError     *string      `json:"last_error"`
	Result        string       `json:"result"` // opaque backend details, JSON
}
