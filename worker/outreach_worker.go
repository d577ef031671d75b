package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"reachly/config"
	"reachly/models"
	"reachly/utils"
)

// OutreachWorker is the single polling loop that executes queued
// actions sender by sender. One tick walks workspaces, then senders,
// then actions, strictly in order; the only intra-tick suspension is
// the humanizing delay between two actions on the same sender.
//
// The design assumes a single active worker instance per deployment:
// GetNextBatch performs no atomic claim, so two workers against the
// same senders risk duplicate execution.
type OutreachWorker struct {
	DB       *gorm.DB
	Queue    *utils.ActionQueue
	Limiter  *utils.RateLimiter
	Pool     *utils.SenderPool
	Sessions *utils.SessionStore
	Logger   *log.Logger

	// Bootstrap obtains a fresh session when none is stored.
	Bootstrap utils.LoginBootstrapper

	// NewClient builds an execution backend from a session token;
	// injectable so tests can substitute a fake backend.
	NewClient func(sessionToken string) utils.LinkedInClient

	// Per-instance client cache keyed by sender ID. Owned by this
	// worker, never shared.
	clients map[uint]utils.LinkedInClient
}

func NewOutreachWorker(db *gorm.DB, queue *utils.ActionQueue, limiter *utils.RateLimiter,
	pool *utils.SenderPool, sessions *utils.SessionStore, bootstrap utils.LoginBootstrapper,
	logger *log.Logger) *OutreachWorker {

	return &OutreachWorker{
		DB:        db,
		Queue:     queue,
		Limiter:   limiter,
		Pool:      pool,
		Sessions:  sessions,
		Bootstrap: bootstrap,
		Logger:    logger,
		NewClient: func(token string) utils.LinkedInClient {
			return utils.NewAPIClient(config.AppConfig.LinkedInAPIURL, token)
		},
		clients: make(map[uint]utils.LinkedInClient),
	}
}

// Start runs the polling loop until the context is cancelled.
func (ow *OutreachWorker) Start(ctx context.Context) {
	ow.Logger.Println("Outreach worker started")

	for {
		delay := ow.Tick(ctx)

		select {
		case <-ctx.Done():
			ow.Logger.Println("Outreach worker shutting down...")
			ow.clients = make(map[uint]utils.LinkedInClient)
			return
		case <-time.After(delay):
		}
	}
}

// Tick processes every workspace once and returns how long to sleep
// before the next poll.
func (ow *OutreachWorker) Tick(ctx context.Context) time.Duration {
	anyOpen := false
	var shortestWait time.Duration

	for _, workspace := range config.AppConfig.Workspaces {
		if ctx.Err() != nil {
			return time.Second
		}

		schedule := utils.ScheduleForWorkspace(workspace)
		if !schedule.IsWithinBusinessHours() {
			wait := schedule.UntilBusinessHours()
			if shortestWait == 0 || wait < shortestWait {
				shortestWait = wait
			}
			continue
		}
		anyOpen = true

		ow.processWorkspace(ctx, workspace, schedule)
	}

	if !anyOpen && shortestWait > 0 {
		ow.Logger.Printf("Outside business hours for all workspaces, sleeping %s",
			utils.FormatDuration(shortestWait))
		return shortestWait
	}
	return utils.NewSchedule(
		config.AppConfig.DefaultTimezone,
		config.AppConfig.DefaultStartHour,
		config.AppConfig.DefaultEndHour,
	).PollDelay()
}

func (ow *OutreachWorker) processWorkspace(ctx context.Context, workspace string, schedule *utils.Schedule) {
	var senders []models.Sender
	if err := ow.DB.
		Where("workspace_slug = ? AND status = ? AND health_status <> ?",
			workspace, models.SenderStatusActive, models.HealthBlocked).
		Find(&senders).Error; err != nil {
		ow.Logger.Printf("Failed to load senders for workspace %s: %v", workspace, err)
		return
	}

	for i := range senders {
		if ctx.Err() != nil {
			return
		}
		ow.processSender(ctx, &senders[i], schedule)
	}
}

func (ow *OutreachWorker) processSender(ctx context.Context, sender *models.Sender, schedule *utils.Schedule) {
	client, err := ow.clientFor(sender)
	if err != nil {
		ow.Logger.Printf("No usable client for sender %d: %v", sender.ID, err)
		return
	}

	batch, err := ow.Queue.GetNextBatch(sender.ID, config.AppConfig.MaxActionsPerBatch)
	if err != nil {
		ow.Logger.Printf("Failed to fetch batch for sender %d: %v", sender.ID, err)
		return
	}
	if len(batch) == 0 {
		return
	}

	ow.Logger.Printf("Sender %d: executing %d actions", sender.ID, len(batch))

	for i := range batch {
		if ctx.Err() != nil {
			return
		}
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(schedule.ActionDelay()):
			}
		}

		if !ow.executeAction(sender, client, &batch[i]) {
			// Batch aborted: sender-level condition, wait for next tick.
			return
		}
	}
}

// clientFor returns a cached execution backend for the sender, builds
// one from the stored session, or bootstraps a fresh session through
// the interactive login collaborator.
func (ow *OutreachWorker) clientFor(sender *models.Sender) (utils.LinkedInClient, error) {
	if client, ok := ow.clients[sender.ID]; ok {
		return client, nil
	}

	// A sender that escalated to session_expired skips the stored
	// token and goes straight to re-bootstrap.
	if sender.HealthStatus != models.HealthSessionExpired {
		token, err := ow.Sessions.GetStoredSession(sender.ID)
		if err == nil {
			client := ow.NewClient(token)
			ow.clients[sender.ID] = client
			return client, nil
		}
		if !errors.Is(err, utils.ErrNoSession) {
			return nil, err
		}
	}

	creds, err := ow.Sessions.GetSenderCredentials(sender.ID)
	if err != nil {
		return nil, err
	}

	token, err := ow.Bootstrap.Login(creds)
	if err != nil {
		return nil, fmt.Errorf("session bootstrap failed: %w", err)
	}

	if err := ow.Sessions.SaveSession(sender.ID, token); err != nil {
		ow.Logger.Printf("Failed to persist session for sender %d: %v", sender.ID, err)
	}
	if sender.HealthStatus == models.HealthSessionExpired {
		if err := ow.Pool.SetHealth(sender.ID, models.HealthHealthy); err != nil {
			ow.Logger.Printf("Failed to restore health for sender %d: %v", sender.ID, err)
		}
		sender.HealthStatus = models.HealthHealthy
	}

	client := ow.NewClient(token)
	ow.clients[sender.ID] = client
	return client, nil
}

// executeAction runs one action and reports the outcome. The return
// value says whether the rest of the sender's batch may continue.
// Reporting failures are logged and swallowed: scheduler availability
// beats perfect bookkeeping of any single report.
func (ow *OutreachWorker) executeAction(sender *models.Sender, client utils.LinkedInClient, action *models.Action) bool {
	var person models.Person
	if err := ow.DB.First(&person, action.PersonID).Error; err != nil || person.ProfileURL == "" {
		ow.reportInvalid(action, "person has no profile URL")
		return true
	}
	if person.OptedOut || person.DoNotContact {
		// Last line of defense: normally the cancel endpoint already
		// swept these.
		if err := ow.Queue.CancelAction(action.ID); err != nil {
			ow.Logger.Printf("Failed to cancel action %d for opted-out person: %v", action.ID, err)
		}
		return true
	}

	if err := ow.Queue.MarkRunning(action.ID); err != nil {
		ow.Logger.Printf("Failed to mark action %d running: %v", action.ID, err)
		return true
	}
	action.Attempts++

	utils.AddBreadcrumb("action_execution", map[string]interface{}{
		"action_id":   action.ID,
		"action_type": action.ActionType,
		"sender_id":   sender.ID,
		"attempt":     action.Attempts,
	})
	result := ow.dispatch(client, action, &person)

	if result.Success {
		if err := ow.Limiter.ConsumeBudget(sender.ID, action.ActionType); err != nil {
			ow.Logger.Printf("Failed to consume budget for sender %d: %v", sender.ID, err)
		}
		if err := ow.Queue.MarkComplete(action.ID, result.Details); err != nil {
			ow.Logger.Printf("Failed to mark action %d complete: %v", action.ID, err)
		}
		ow.recordOutcome(sender, action, result)
		return true
	}

	cause := result.Error
	if result.Details != "" {
		cause = result.Error + ": " + result.Details
	}
	if err := ow.Queue.MarkFailed(action.ID, cause); err != nil {
		ow.Logger.Printf("Failed to mark action %d failed: %v", action.ID, err)
	}

	switch result.Error {
	case utils.ErrorRateLimited:
		// Natural backoff: drop the rest of the batch until next poll.
		ow.Logger.Printf("Sender %d rate limited, aborting batch", sender.ID)
		return false

	case utils.ErrorAuthExpired, utils.ErrorUnauthorized:
		ow.evictClient(sender.ID)
		if err := ow.Sessions.ExpireSession(sender.ID); err != nil {
			ow.Logger.Printf("Failed to expire session for sender %d: %v", sender.ID, err)
		}
		if err := ow.Pool.SetHealth(sender.ID, models.HealthSessionExpired); err != nil {
			ow.Logger.Printf("Failed to update health for sender %d: %v", sender.ID, err)
		}
		utils.LogEvent("sender_session_expired", map[string]interface{}{
			"sender_id": sender.ID,
			"action_id": action.ID,
		})
		return false

	case utils.ErrorIPBlocked, utils.ErrorCheckpointDetected:
		ow.evictClient(sender.ID)
		if err := ow.Pool.SetHealth(sender.ID, models.HealthBlocked); err != nil {
			ow.Logger.Printf("Failed to update health for sender %d: %v", sender.ID, err)
		}
		utils.CaptureError(
			fmt.Errorf("sender %d blocked: %s", sender.ID, result.Error),
			result.Error,
			map[string]interface{}{"sender_id": sender.ID, "action_id": action.ID},
		)
		return false

	default:
		return true
	}
}

// dispatch routes an action to the matching backend capability.
func (ow *OutreachWorker) dispatch(client utils.LinkedInClient, action *models.Action, person *models.Person) utils.ActionResult {
	switch action.ActionType {
	case models.ActionConnect:
		return client.SendConnectionRequest(person.ProfileURL, action.Message)
	case models.ActionMessage:
		return client.SendMessage(person.ProfileURL, action.Message)
	case models.ActionProfileView:
		return client.ViewProfile(person.ProfileURL)
	case models.ActionCheckConnection:
		return client.CheckConnectionStatus(person.ProfileURL)
	}
	return utils.ActionResult{Error: "unknown_action_type"}
}

// recordOutcome maintains connection history for acceptance-rate
// computation.
func (ow *OutreachWorker) recordOutcome(sender *models.Sender, action *models.Action, result utils.ActionResult) {
	switch action.ActionType {
	case models.ActionConnect:
		record := models.ConnectionRecord{
			SenderID:    sender.ID,
			PersonID:    action.PersonID,
			Status:      models.ConnectionPending,
			RequestedAt: time.Now(),
		}
		if err := ow.DB.Create(&record).Error; err != nil {
			ow.Logger.Printf("Failed to record connection request: %v", err)
		}

	case models.ActionCheckConnection:
		var parsed struct {
			Connected bool `json:"connected"`
		}
		if err := json.Unmarshal([]byte(result.Details), &parsed); err != nil || !parsed.Connected {
			return
		}
		if err := ow.DB.Model(&models.ConnectionRecord{}).
			Where("sender_id = ? AND person_id = ? AND status = ?",
				sender.ID, action.PersonID, models.ConnectionPending).
			Updates(map[string]interface{}{
				"status":      models.ConnectionAccepted,
				"accepted_at": time.Now(),
			}).Error; err != nil {
			ow.Logger.Printf("Failed to record accepted connection: %v", err)
		}
	}
}

// reportInvalid fails an action immediately: validation problems don't
// deserve a retry cycle.
func (ow *OutreachWorker) reportInvalid(action *models.Action, reason string) {
	if err := ow.Queue.MarkInvalid(action.ID, reason); err != nil {
		ow.Logger.Printf("Failed to mark action %d invalid: %v", action.ID, err)
	}
}

func (ow *OutreachWorker) evictClient(senderID uint) {
	delete(ow.clients, senderID)
}

// CachedClient exposes cache state for tests and observability.
func (ow *OutreachWorker) CachedClient(senderID uint) (utils.LinkedInClient, bool) {
	client, ok := ow.clients[senderID]
	return client, ok
}
