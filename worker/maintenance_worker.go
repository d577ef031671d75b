package worker

import (
	"context"
	"log"
	"time"

	"gorm.io/gorm"

	"reachly/models"
	"reachly/utils"
)

// MaintenanceWorker runs the housekeeping sweeps: crash recovery and
// stale-action expiry every tick, warm-up progression and acceptance
// rate refresh once per UTC day.
type MaintenanceWorker struct {
	DB      *gorm.DB
	Queue   *utils.ActionQueue
	Limiter *utils.RateLimiter
	Pool    *utils.SenderPool
	Logger  *log.Logger

	lastWarmupDate string
}

func NewMaintenanceWorker(db *gorm.DB, queue *utils.ActionQueue, limiter *utils.RateLimiter,
	pool *utils.SenderPool, logger *log.Logger) *MaintenanceWorker {

	return &MaintenanceWorker{
		DB:      db,
		Queue:   queue,
		Limiter: limiter,
		Pool:    pool,
		Logger:  logger,
	}
}

func (mw *MaintenanceWorker) Start(ctx context.Context) {
	// Initial delay to let the server start up
	time.Sleep(10 * time.Second)

	mw.Logger.Println("Maintenance worker started")

	ticker := time.NewTicker(30 * time.Minute)
	defer ticker.Stop()

	mw.runSweeps()

	for {
		select {
		case <-ctx.Done():
			mw.Logger.Println("Maintenance worker shutting down...")
			return
		case <-ticker.C:
			mw.runSweeps()
		}
	}
}

func (mw *MaintenanceWorker) runSweeps() {
	if _, err := mw.Queue.RecoverStuckActions(); err != nil {
		mw.Logger.Printf("Stuck action recovery failed: %v", err)
	}
	if _, err := mw.Queue.ExpireStaleActions(14); err != nil {
		mw.Logger.Printf("Stale action expiry failed: %v", err)
	}

	today := time.Now().UTC().Format(models.UsageDateFormat)
	if today != mw.lastWarmupDate {
		mw.progressAllWarmups()
		mw.lastWarmupDate = today
	}
}

// progressAllWarmups refreshes each active sender's acceptance rate and
// advances its warm-up day. Runs once per UTC day.
func (mw *MaintenanceWorker) progressAllWarmups() {
	var senders []models.Sender
	if err := mw.DB.
		Where("status = ? AND warmup_day > 0", models.SenderStatusActive).
		Find(&senders).Error; err != nil {
		mw.Logger.Printf("Failed to fetch senders for warmup progression: %v", err)
		return
	}

	for _, sender := range senders {
		if err := mw.Pool.UpdateAcceptanceRate(sender.ID); err != nil {
			mw.Logger.Printf("Failed to update acceptance rate for sender %d: %v", sender.ID, err)
		}
		if err := mw.Limiter.ProgressWarmup(sender.ID); err != nil {
			mw.Logger.Printf("Failed to progress warmup for sender %d: %v", sender.ID, err)
		}
	}

	if len(senders) > 0 {
		mw.Logger.Printf("Processed warmup progression for %d senders", len(senders))
	}
}
