package utils

import (
	"errors"
	"log"
	"time"

	"gorm.io/gorm"

	"reachly/models"
)

// Backoff schedule in minutes, indexed by prior failure count.
var retryBackoffMinutes = []int{5, 30, 120}

// ErrNotPending is returned when a lifecycle call targets an action
// that already left the pending state.
var ErrNotPending = errors.New("action is not pending")

// How long a running action may sit untouched before the crash
// recovery sweep reclaims it.
const stuckActionAge = 10 * time.Minute

// EnqueueParams describes one action to create.
type EnqueueParams struct {
	SenderID      uint
	PersonID      uint
	WorkspaceSlug string
	ActionType    models.ActionType
	Message       string
	Priority      int
	ScheduledFor  time.Time
	MaxAttempts   int
}

// ActionQueue is the durable priority queue of pending outreach
// actions. All Action status transitions go through it.
type ActionQueue struct {
	DB      *gorm.DB
	Limiter *RateLimiter
	Logger  *log.Logger
}

func NewActionQueue(db *gorm.DB, limiter *RateLimiter, logger *log.Logger) *ActionQueue {
	return &ActionQueue{
		DB:      db,
		Limiter: limiter,
		Logger:  logger,
	}
}

// Enqueue creates a pending action. No dedup: upstream logic decides
// whether a duplicate makes sense.
func (aq *ActionQueue) Enqueue(params EnqueueParams) (*models.Action, error) {
	if params.Priority <= 0 {
		params.Priority = 5
	}
	if params.ScheduledFor.IsZero() {
		params.ScheduledFor = time.Now()
	}
	if params.MaxAttempts <= 0 {
		params.MaxAttempts = 3
	}

	action := models.Action{
		SenderID:      params.SenderID,
		PersonID:      params.PersonID,
		WorkspaceSlug: params.WorkspaceSlug,
		ActionType:    params.ActionType,
		Message:       params.Message,
		Priority:      params.Priority,
		ScheduledFor:  params.ScheduledFor,
		Status:        models.ActionStatusPending,
		MaxAttempts:   params.MaxAttempts,
	}

	if err := aq.DB.Create(&action).Error; err != nil {
		return nil, err
	}
	return &action, nil
}

// GetNextBatch fetches up to limit due pending actions for a sender,
// ordered by priority then scheduled time, keeping only those the rate
// limiter accepts. Over-fetches so budget rejections don't force a
// re-query.
func (aq *ActionQueue) GetNextBatch(senderID uint, limit int) ([]models.Action, error) {
	fetch := limit * 3
	if fetch < 15 {
		fetch = 15
	}

	var candidates []models.Action
	if err := aq.DB.
		Where("sender_id = ? AND status = ? AND scheduled_for <= ?",
			senderID, models.ActionStatusPending, time.Now()).
		Order("priority ASC, scheduled_for ASC").
		Limit(fetch).
		Find(&candidates).Error; err != nil {
		return nil, err
	}

	var accepted []models.Action
	for _, action := range candidates {
		decision, err := aq.Limiter.CheckBudget(senderID, action.ActionType, action.Priority)
		if err != nil {
			return nil, err
		}
		if !decision.Allowed {
			continue
		}
		accepted = append(accepted, action)
		if len(accepted) >= limit {
			break
		}
	}
	return accepted, nil
}

// MarkRunning transitions an action to running and counts the attempt.
func (aq *ActionQueue) MarkRunning(id uint) error {
	return aq.DB.Model(&models.Action{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":          models.ActionStatusRunning,
			"attempts":        gorm.Expr("attempts + ?", 1),
			"last_attempt_at": time.Now(),
		}).Error
}

// MarkComplete finishes an action successfully.
func (aq *ActionQueue) MarkComplete(id uint, result string) error {
	return aq.DB.Model(&models.Action{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status": models.ActionStatusComplete,
			"result": result,
		}).Error
}

// MarkFailed records a failed attempt. While retries remain the action
// goes back to pending on a growing backoff; once attempts reach the
// cap it fails permanently.
func (aq *ActionQueue) MarkFailed(id uint, cause string) error {
	var action models.Action
	if err := aq.DB.First(&action, id).Error; err != nil {
		return err
	}

	if action.Attempts >= action.MaxAttempts {
		return aq.DB.Model(&action).Updates(map[string]interface{}{
			"status":     models.ActionStatusFailed,
			"last_error": cause,
		}).Error
	}

	idx := action.Attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(retryBackoffMinutes) {
		idx = len(retryBackoffMinutes) - 1
	}
	retryAt := time.Now().Add(time.Duration(retryBackoffMinutes[idx]) * time.Minute)

	return aq.DB.Model(&action).Updates(map[string]interface{}{
		"status":        models.ActionStatusPending,
		"last_error":    cause,
		"next_retry_at": retryAt,
		"scheduled_for": retryAt,
	}).Error
}

// MarkInvalid fails an action permanently without a retry cycle, used
// for validation problems that no retry can fix.
func (aq *ActionQueue) MarkInvalid(id uint, cause string) error {
	return aq.DB.Model(&models.Action{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.ActionStatusFailed,
			"last_error": cause,
		}).Error
}

// CancelAction cancels a single pending action.
func (aq *ActionQueue) CancelAction(id uint) error {
	result := aq.DB.Model(&models.Action{}).
		Where("id = ? AND status = ?", id, models.ActionStatusPending).
		Update("status", models.ActionStatusCancelled)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotPending
	}
	return nil
}

// CancelActionsForPerson bulk-cancels every pending action for a
// person in a workspace, e.g. after a reply or opt-out. Running and
// terminal actions stay untouched.
func (aq *ActionQueue) CancelActionsForPerson(personID uint, workspaceSlug string) (int64, error) {
	result := aq.DB.Model(&models.Action{}).
		Where("person_id = ? AND workspace_slug = ? AND status = ?",
			personID, workspaceSlug, models.ActionStatusPending).
		Update("status", models.ActionStatusCancelled)
	return result.RowsAffected, result.Error
}

// BumpPriority promotes a single pending connect action for a person
// to priority 1 and makes it due now. With no enqueue dedup several
// can exist; the oldest wins. Reports whether one was found.
func (aq *ActionQueue) BumpPriority(personID uint, workspaceSlug string) (bool, error) {
	var action models.Action
	err := aq.DB.
		Where("person_id = ? AND workspace_slug = ? AND status = ? AND action_type = ?",
			personID, workspaceSlug, models.ActionStatusPending, models.ActionConnect).
		Order("id").
		First(&action).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	err = aq.DB.Model(&action).Updates(map[string]interface{}{
		"priority":      1,
		"scheduled_for": time.Now(),
	}).Error
	return err == nil, err
}

// ExpireStaleActions flips pending connect actions older than the
// cutoff to expired. Other types and statuses are left alone.
func (aq *ActionQueue) ExpireStaleActions(maxAgeDays int) (int64, error) {
	if maxAgeDays <= 0 {
		maxAgeDays = 14
	}
	cutoff := time.Now().AddDate(0, 0, -maxAgeDays)

	result := aq.DB.Model(&models.Action{}).
		Where("status = ? AND action_type = ? AND created_at < ?",
			models.ActionStatusPending, models.ActionConnect, cutoff).
		Update("status", models.ActionStatusExpired)
	if result.RowsAffected > 0 {
		aq.Logger.Printf("Expired %d stale connect actions", result.RowsAffected)
	}
	return result.RowsAffected, result.Error
}

// RecoverStuckActions reclaims running actions whose last attempt is
// older than the stuck threshold, which happens when the worker dies
// mid-execution. Actions with retries left go back to pending, the
// rest fail.
func (aq *ActionQueue) RecoverStuckActions() (int64, error) {
	cutoff := time.Now().Add(-stuckActionAge)

	var stuck []models.Action
	if err := aq.DB.
		Where("status = ? AND last_attempt_at < ?", models.ActionStatusRunning, cutoff).
		Find(&stuck).Error; err != nil {
		return 0, err
	}

	var recovered int64
	for _, action := range stuck {
		status := models.ActionStatusPending
		if action.Attempts >= action.MaxAttempts {
			status = models.ActionStatusFailed
		}
		if err := aq.DB.Model(&action).Updates(map[string]interface{}{
			"status":     status,
			"last_error": "recovered after worker crash",
		}).Error; err != nil {
			aq.Logger.Printf("Failed to recover stuck action %d: %v", action.ID, err)
			continue
		}
		recovered++
	}

	if recovered > 0 {
		aq.Logger.Printf("Recovered %d stuck actions", recovered)
	}
	return recovered, nil
}
