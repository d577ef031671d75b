package utils

import (
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"math/rand"
	"time"

	"gorm.io/gorm"

	"reachly/models"
)

// Fraction of the jittered connect limit held back for priority-1
// (warm lead) requests.
const priorityReserveFraction = 0.20

// Warm-up gate: progression freezes while the acceptance rate sits
// below this.
const minAcceptanceRate = 0.20

// WarmupTier maps days-since-activation to daily limits.
type WarmupTier struct {
	MaxDay       int // inclusive upper bound, 0 = open-ended
	Connections  int
	Messages     int
	ProfileViews int
}

var WarmupTiers = []WarmupTier{
	{MaxDay: 7, Connections: 5, Messages: 10, ProfileViews: 15},
	{MaxDay: 14, Connections: 8, Messages: 15, ProfileViews: 25},
	{MaxDay: 21, Connections: 12, Messages: 25, ProfileViews: 40},
	{MaxDay: 0, Connections: 15, Messages: 30, ProfileViews: 50},
}

// TierForDay returns the warm-up tier for a given warmup day. Day 0
// (warm-up not started) gets the most conservative tier.
func TierForDay(day int) WarmupTier {
	for _, tier := range WarmupTiers[:len(WarmupTiers)-1] {
		if day <= tier.MaxDay {
			return tier
		}
	}
	return WarmupTiers[len(WarmupTiers)-1]
}

// BudgetDecision is the outcome of a budget check.
type BudgetDecision struct {
	Allowed   bool   `json:"allowed"`
	Remaining int    `json:"remaining"`
	Reason    string `json:"reason,omitempty"`
}

// TypeBudget is a read-only sent/limit/remaining snapshot for one type.
type TypeBudget struct {
	Sent      int `json:"sent"`
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`
}

// SenderBudget is the per-type budget snapshot for observability.
// Connection checks share the message limit but report their own
// counter.
type SenderBudget struct {
	SenderID         uint       `json:"sender_id"`
	Date             string     `json:"date"`
	Connections      TypeBudget `json:"connections"`
	Messages         TypeBudget `json:"messages"`
	ProfileViews     TypeBudget `json:"profile_views"`
	ConnectionChecks TypeBudget `json:"connection_checks"`
}

// RateLimiter enforces per-sender daily budgets with warm-up
// progression and deterministic daily jitter.
type RateLimiter struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewRateLimiter(db *gorm.DB, logger *log.Logger) *RateLimiter {
	return &RateLimiter{
		DB:     db,
		Logger: logger,
	}
}

// JitteredLimit derives a daily limit within ±20% of baseLimit from a
// PRNG seeded on (senderID, date), so repeated calls on the same day
// agree and patterns vary day to day.
func JitteredLimit(senderID uint, date string, baseLimit int) int {
	if baseLimit <= 0 {
		return 0
	}
	h := fnv.New64a()
	fmt.Fprintf(h, "%d:%s", senderID, date)
	rng := rand.New(rand.NewSource(int64(h.Sum64())))
	factor := 0.8 + rng.Float64()*0.4
	limit := int(float64(baseLimit) * factor)
	if limit < 1 {
		limit = 1
	}
	return limit
}

// today returns the current UTC usage date.
func today() string {
	return time.Now().UTC().Format(models.UsageDateFormat)
}

// baseLimitFor maps an action type to the sender's configured limit.
// Connection checks ride on the message budget rather than having a
// dedicated allowance.
func baseLimitFor(sender *models.Sender, actionType models.ActionType) int {
	switch actionType {
	case models.ActionConnect:
		return sender.DailyConnectionLimit
	case models.ActionMessage:
		return sender.DailyMessageLimit
	case models.ActionProfileView:
		return sender.DailyProfileViewLimit
	case models.ActionCheckConnection:
		return sender.DailyMessageLimit
	}
	return 0
}

// CheckBudget reports whether the sender may perform one more action of
// the given type today. For connect actions above priority 1, part of
// the jittered limit stays reserved for warm leads.
func (rl *RateLimiter) CheckBudget(senderID uint, actionType models.ActionType, priority int) (BudgetDecision, error) {
	var sender models.Sender
	if err := rl.DB.First(&sender, senderID).Error; err != nil {
		return BudgetDecision{}, err
	}

	if sender.Status != models.SenderStatusActive {
		return BudgetDecision{Reason: fmt.Sprintf("sender is %s", sender.Status)}, nil
	}
	if sender.HealthStatus != models.HealthHealthy {
		return BudgetDecision{Reason: fmt.Sprintf("sender health is %s", sender.HealthStatus)}, nil
	}

	date := today()
	limit := JitteredLimit(senderID, date, baseLimitFor(&sender, actionType))

	effective := limit
	if actionType == models.ActionConnect && priority > 1 {
		reserved := int(float64(limit) * priorityReserveFraction)
		effective = limit - reserved
	}

	usage, err := rl.usageFor(senderID, date)
	if err != nil {
		return BudgetDecision{}, err
	}

	used := usage.CounterFor(actionType)
	if used >= effective {
		return BudgetDecision{
			Reason: fmt.Sprintf("daily %s limit reached (%d/%d)", actionType, used, effective),
		}, nil
	}

	return BudgetDecision{
		Allowed:   true,
		Remaining: effective - used,
	}, nil
}

// ConsumeBudget increments today's counter for the given type. Called
// only after a successful execution. The check/consume pair is not
// transactional; a bounded soft overspend is accepted over cross-call
// locking.
func (rl *RateLimiter) ConsumeBudget(senderID uint, actionType models.ActionType) error {
	column := models.CounterColumn(actionType)
	if column == "" {
		return fmt.Errorf("unknown action type %q", actionType)
	}

	usage := models.DailyUsage{SenderID: senderID, UsageDate: today()}
	if err := rl.DB.Where("sender_id = ? AND usage_date = ?", senderID, usage.UsageDate).
		FirstOrCreate(&usage).Error; err != nil {
		return err
	}

	return rl.DB.Model(&models.DailyUsage{}).
		Where("id = ?", usage.ID).
		Update(column, gorm.Expr(column+" + ?", 1)).
		Error
}

// ProgressWarmup advances the sender one warm-up day and applies the
// new tier's limits. Progression freezes while the acceptance rate is
// known and below the gate. Intended to run once per day per sender.
func (rl *RateLimiter) ProgressWarmup(senderID uint) error {
	var sender models.Sender
	if err := rl.DB.First(&sender, senderID).Error; err != nil {
		return err
	}

	if sender.AcceptanceRate != nil && *sender.AcceptanceRate < minAcceptanceRate {
		rl.Logger.Printf("Sender %d warmup frozen: acceptance rate %.2f below %.2f",
			senderID, *sender.AcceptanceRate, minAcceptanceRate)
		return nil
	}

	nextDay := sender.WarmupDay + 1
	tier := TierForDay(nextDay)

	return rl.DB.Model(&sender).Updates(map[string]interface{}{
		"warmup_day":               nextDay,
		"daily_connection_limit":   tier.Connections,
		"daily_message_limit":      tier.Messages,
		"daily_profile_view_limit": tier.ProfileViews,
	}).Error
}

// GetSenderBudget returns today's sent/limit/remaining snapshot per
// action type.
func (rl *RateLimiter) GetSenderBudget(senderID uint) (*SenderBudget, error) {
	var sender models.Sender
	if err := rl.DB.First(&sender, senderID).Error; err != nil {
		return nil, err
	}

	date := today()
	usage, err := rl.usageFor(senderID, date)
	if err != nil {
		return nil, err
	}

	budget := &SenderBudget{SenderID: senderID, Date: date}
	budget.Connections = snapshotFor(senderID, date, sender.DailyConnectionLimit, usage.ConnectionsSent)
	budget.Messages = snapshotFor(senderID, date, sender.DailyMessageLimit, usage.MessagesSent)
	budget.ProfileViews = snapshotFor(senderID, date, sender.DailyProfileViewLimit, usage.ProfileViews)
	budget.ConnectionChecks = snapshotFor(senderID, date, sender.DailyMessageLimit, usage.ConnectionChecks)
	return budget, nil
}

func snapshotFor(senderID uint, date string, baseLimit, sent int) TypeBudget {
	limit := JitteredLimit(senderID, date, baseLimit)
	remaining := limit - sent
	if remaining < 0 {
		remaining = 0
	}
	return TypeBudget{Sent: sent, Limit: limit, Remaining: remaining}
}

// usageFor loads the day's usage row, treating a missing row as all
// zeros without creating it.
func (rl *RateLimiter) usageFor(senderID uint, date string) (*models.DailyUsage, error) {
	var usage models.DailyUsage
	err := rl.DB.Where("sender_id = ? AND usage_date = ?", senderID, date).First(&usage).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.DailyUsage{SenderID: senderID, UsageDate: date}, nil
	}
	if err != nil {
		return nil, err
	}
	return &usage, nil
}
