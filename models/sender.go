package models

import (
	"time"

	"gorm.io/gorm"
)

// SenderStatus is the operator-facing lifecycle of a sender account.
type SenderStatus string

const (
	SenderStatusSetup    SenderStatus = "setup"
	SenderStatusActive   SenderStatus = "active"
	SenderStatusPaused   SenderStatus = "paused"
	SenderStatusDisabled SenderStatus = "disabled"
)

// HealthStatus reflects whether automation should continue for a sender.
type HealthStatus string

const (
	HealthHealthy        HealthStatus = "healthy"
	HealthWarning        HealthStatus = "warning"
	HealthPaused         HealthStatus = "paused"
	HealthBlocked        HealthStatus = "blocked"
	HealthSessionExpired HealthStatus = "session_expired"
)

// SessionStatus tracks the stored platform session for a sender.
type SessionStatus string

const (
	SessionNotSetup SessionStatus = "not_setup"
	SessionActive   SessionStatus = "active"
	SessionExpired  SessionStatus = "expired"
)

// Sender represents one LinkedIn automation account used to perform
// actions on behalf of a workspace.
type Sender struct {
	gorm.Model
	WorkspaceSlug string `gorm:"not null;index" json:"workspace_slug"`

	// Basic identification
	Name  string `gorm:"not null" json:"name"`
	Email string `gorm:"not null" json:"email"`

	// ========= Credentials =========
	LinkedInPassword string `gorm:"not null" json:"-"` // Encrypted in application layer
	TOTPSecret       string `json:"-"`                 // Encrypted in application layer

	// ========= Session =========
	SessionToken     string        `json:"-"` // Encrypted in application layer
	SessionStatus    SessionStatus `gorm:"default:'not_setup'" json:"session_status"`
	SessionUpdatedAt *time.Time    `json:"session_updated_at"`

	// ========= Status & Health =========
	Status       SenderStatus `gorm:"default:'setup';index" json:"status"`
	HealthStatus HealthStatus `gorm:"default:'healthy'" json:"health_status"`
	PausedReason *string      `json:"paused_reason"`

	// ========= Warmup =========
	WarmupDay       int        `gorm:"default:0" json:"warmup_day"` // 0 = not started
	WarmupStartedAt *time.Time `json:"warmup_started_at"`

	// ========= Daily Limits =========
	DailyConnectionLimit  int `gorm:"default:5" json:"daily_connection_limit"`
	DailyMessageLimit     int `gorm:"default:10" json:"daily_message_limit"`
	DailyProfileViewLimit int `gorm:"default:15" json:"daily_profile_view_limit"`

	// ========= Outcome Metrics =========
	AcceptanceRate *float64 `json:"acceptance_rate"` // nil until first computed
}

// Sanitize strips secrets before a Sender is serialized out.
func (s *Sender) Sanitize() {
	s.LinkedInPassword = ""
	s.TOTPSecret = ""
	s.SessionToken = ""
}

// ConnectionStatus is the observed outcome of a connection request.
type ConnectionStatus string

const (
	ConnectionPending   ConnectionStatus = "pending"
	ConnectionAccepted  ConnectionStatus = "connected"
	ConnectionExpired   ConnectionStatus = "expired"
	ConnectionWithdrawn ConnectionStatus = "withdrawn"
)

// ConnectionRecord tracks one connection request per (sender, person);
// the acceptance-rate computation reads these.
type ConnectionRecord struct {
	gorm.Model
	SenderID uint `gorm:"not null;index" json:"sender_id"`
	PersonID uint `gorm:"not null;index" json:"person_id"`

	Status      ConnectionStatus `gorm:"default:'pending'" json:"status"`
	RequestedAt time.Time        `json:"requested_at"`
	AcceptedAt  *time.Time       `json:"accepted_at"`
}
