package utils

import (
	"errors"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"

	"reachly/models"
)

// AssignMode selects how a sender is matched to a person.
type AssignMode string

const (
	AssignModeEmailLinkedIn AssignMode = "email_linkedin" // match the sender that owns the email address
	AssignModeLinkedInOnly  AssignMode = "linkedin_only"  // round-robin by today's load
)

// AssignOptions parameterizes AssignSenderForPerson.
type AssignOptions struct {
	Mode               AssignMode
	EmailSenderAddress string
}

var ErrNoSenderAvailable = errors.New("no active senders available")

// Pause reasons that indicate a platform-side restriction rather than
// an operator choice.
var restrictionReasons = map[string]bool{
	"ip_blocked":           true,
	"checkpoint_detected":  true,
	"platform_restriction": true,
	"account_restricted":   true,
}

// SenderPool manages sender lifecycle, health transitions, and
// sender-to-person assignment.
type SenderPool struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewSenderPool(db *gorm.DB, logger *log.Logger) *SenderPool {
	return &SenderPool{
		DB:     db,
		Logger: logger,
	}
}

// ActivateSender moves a sender out of setup, starts warm-up on day 1,
// and applies the first tier's limits.
func (sp *SenderPool) ActivateSender(senderID uint) error {
	tier := TierForDay(1)
	return sp.DB.Model(&models.Sender{}).
		Where("id = ?", senderID).
		Updates(map[string]interface{}{
			"status":                   models.SenderStatusActive,
			"health_status":            models.HealthHealthy,
			"warmup_day":               1,
			"warmup_started_at":        time.Now(),
			"daily_connection_limit":   tier.Connections,
			"daily_message_limit":      tier.Messages,
			"daily_profile_view_limit": tier.ProfileViews,
		}).Error
}

// PauseSender pauses a sender. A platform-restriction reason escalates
// health to blocked; anything else is an ordinary pause.
func (sp *SenderPool) PauseSender(senderID uint, reason string) error {
	health := models.HealthPaused
	if restrictionReasons[strings.ToLower(strings.TrimSpace(reason))] {
		health = models.HealthBlocked
	}

	return sp.DB.Model(&models.Sender{}).
		Where("id = ?", senderID).
		Updates(map[string]interface{}{
			"status":        models.SenderStatusPaused,
			"health_status": health,
			"paused_reason": reason,
		}).Error
}

// ResumeSender puts a paused sender back into rotation.
func (sp *SenderPool) ResumeSender(senderID uint) error {
	return sp.DB.Model(&models.Sender{}).
		Where("id = ?", senderID).
		Updates(map[string]interface{}{
			"status":        models.SenderStatusActive,
			"health_status": models.HealthHealthy,
			"paused_reason": nil,
		}).Error
}

// SetHealth updates only the health status, used by the worker's
// failure classification.
func (sp *SenderPool) SetHealth(senderID uint, health models.HealthStatus) error {
	return sp.DB.Model(&models.Sender{}).
		Where("id = ?", senderID).
		Update("health_status", health).
		Error
}

// AssignSenderForPerson picks the sender that should contact a person.
// In email_linkedin mode the sender owning the supplied address wins;
// in linkedin_only mode the active sender with the least actions
// recorded today does.
func (sp *SenderPool) AssignSenderForPerson(workspaceSlug string, opts AssignOptions) (*models.Sender, error) {
	if opts.Mode == AssignModeEmailLinkedIn {
		var sender models.Sender
		err := sp.DB.
			Where("workspace_slug = ? AND LOWER(email) = ?",
				workspaceSlug, strings.ToLower(opts.EmailSenderAddress)).
			First(&sender).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoSenderAvailable
		}
		if err != nil {
			return nil, err
		}
		return &sender, nil
	}

	var senders []models.Sender
	if err := sp.DB.
		Where("workspace_slug = ? AND status = ?", workspaceSlug, models.SenderStatusActive).
		Find(&senders).Error; err != nil {
		return nil, err
	}
	if len(senders) == 0 {
		return nil, ErrNoSenderAvailable
	}

	date := time.Now().UTC().Format(models.UsageDateFormat)
	var best *models.Sender
	minLoad := -1

	for i := range senders {
		var usage models.DailyUsage
		load := 0
		err := sp.DB.
			Where("sender_id = ? AND usage_date = ?", senders[i].ID, date).
			First(&usage).Error
		if err == nil {
			load = usage.Total()
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}

		if minLoad < 0 || load < minLoad {
			minLoad = load
			best = &senders[i]
		}
	}
	return best, nil
}

// UpdateAcceptanceRate recomputes accepted / (pending + connected +
// expired) over the sender's connection history and persists it. The
// result feeds the warm-up progression gate.
func (sp *SenderPool) UpdateAcceptanceRate(senderID uint) error {
	var records []models.ConnectionRecord
	if err := sp.DB.
		Where("sender_id = ? AND status IN ?", senderID, []models.ConnectionStatus{
			models.ConnectionPending,
			models.ConnectionAccepted,
			models.ConnectionExpired,
		}).
		Find(&records).Error; err != nil {
		return err
	}

	if len(records) == 0 {
		return nil
	}

	accepted := 0
	for _, r := range records {
		if r.Status == models.ConnectionAccepted {
			accepted++
		}
	}
	rate := float64(accepted) / float64(len(records))

	return sp.DB.Model(&models.Sender{}).
		Where("id = ?", senderID).
		Update("acceptance_rate", rate).
		Error
}
