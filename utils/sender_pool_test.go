package utils

import (
	"errors"
	"testing"
	"time"

	"reachly/models"
)

func TestActivateSenderStartsWarmup(t *testing.T) {
	db := newTestDB(t)
	pool := NewSenderPool(db, testLogger())

	sender := &models.Sender{
		WorkspaceSlug:    "acme",
		Name:             "Fresh Sender",
		Email:            "fresh@acme.io",
		LinkedInPassword: "enc",
		Status:           models.SenderStatusSetup,
	}
	if err := db.Create(sender).Error; err != nil {
		t.Fatalf("failed to create sender: %v", err)
	}

	if err := pool.ActivateSender(sender.ID); err != nil {
		t.Fatalf("ActivateSender failed: %v", err)
	}

	var got models.Sender
	if err := db.First(&got, sender.ID).Error; err != nil {
		t.Fatalf("failed to reload sender: %v", err)
	}
	if got.Status != models.SenderStatusActive {
		t.Errorf("status = %s, want active", got.Status)
	}
	if got.WarmupDay != 1 {
		t.Errorf("warmup day = %d, want 1", got.WarmupDay)
	}
	if got.WarmupStartedAt == nil {
		t.Error("warmup started timestamp not set")
	}
	if got.DailyConnectionLimit != 5 || got.DailyMessageLimit != 10 || got.DailyProfileViewLimit != 15 {
		t.Errorf("limits = %d/%d/%d, want first tier 5/10/15",
			got.DailyConnectionLimit, got.DailyMessageLimit, got.DailyProfileViewLimit)
	}
}

func TestPauseSenderClassifiesReason(t *testing.T) {
	db := newTestDB(t)
	pool := NewSenderPool(db, testLogger())

	tests := []struct {
		reason     string
		wantHealth models.HealthStatus
	}{
		{"vacation", models.HealthPaused},
		{"client request", models.HealthPaused},
		{"ip_blocked", models.HealthBlocked},
		{"checkpoint_detected", models.HealthBlocked},
		{" Account_Restricted ", models.HealthBlocked},
	}

	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			sender := createActiveSender(t, db, "acme")

			if err := pool.PauseSender(sender.ID, tt.reason); err != nil {
				t.Fatalf("PauseSender failed: %v", err)
			}

			var got models.Sender
			if err := db.First(&got, sender.ID).Error; err != nil {
				t.Fatalf("failed to reload sender: %v", err)
			}
			if got.Status != models.SenderStatusPaused {
				t.Errorf("status = %s, want paused", got.Status)
			}
			if got.HealthStatus != tt.wantHealth {
				t.Errorf("health = %s, want %s", got.HealthStatus, tt.wantHealth)
			}
			if got.PausedReason == nil || *got.PausedReason != tt.reason {
				t.Errorf("paused reason = %v, want %q", got.PausedReason, tt.reason)
			}
		})
	}
}

func TestResumeSenderClearsPause(t *testing.T) {
	db := newTestDB(t)
	pool := NewSenderPool(db, testLogger())
	sender := createActiveSender(t, db, "acme")

	if err := pool.PauseSender(sender.ID, "vacation"); err != nil {
		t.Fatalf("PauseSender failed: %v", err)
	}
	if err := pool.ResumeSender(sender.ID); err != nil {
		t.Fatalf("ResumeSender failed: %v", err)
	}

	var got models.Sender
	if err := db.First(&got, sender.ID).Error; err != nil {
		t.Fatalf("failed to reload sender: %v", err)
	}
	if got.Status != models.SenderStatusActive {
		t.Errorf("status = %s, want active", got.Status)
	}
	if got.HealthStatus != models.HealthHealthy {
		t.Errorf("health = %s, want healthy", got.HealthStatus)
	}
	if got.PausedReason != nil {
		t.Errorf("paused reason = %q, want cleared", *got.PausedReason)
	}
}

func TestAssignSenderByEmail(t *testing.T) {
	db := newTestDB(t)
	pool := NewSenderPool(db, testLogger())

	first := createActiveSender(t, db, "acme")
	second := createActiveSender(t, db, "acme")
	if err := db.Model(second).Update("email", "Owner@Acme.io").Error; err != nil {
		t.Fatalf("failed to update email: %v", err)
	}

	got, err := pool.AssignSenderForPerson("acme", AssignOptions{
		Mode:               AssignModeEmailLinkedIn,
		EmailSenderAddress: "owner@ACME.io",
	})
	if err != nil {
		t.Fatalf("AssignSenderForPerson failed: %v", err)
	}
	if got.ID != second.ID {
		t.Errorf("assigned sender %d, want %d (case-insensitive email owner)", got.ID, second.ID)
	}
	_ = first

	_, err = pool.AssignSenderForPerson("acme", AssignOptions{
		Mode:               AssignModeEmailLinkedIn,
		EmailSenderAddress: "nobody@acme.io",
	})
	if !errors.Is(err, ErrNoSenderAvailable) {
		t.Errorf("err = %v, want ErrNoSenderAvailable", err)
	}
}

func TestAssignSenderLeastLoaded(t *testing.T) {
	db := newTestDB(t)
	pool := NewSenderPool(db, testLogger())
	limiter := NewRateLimiter(db, testLogger())

	busy := createActiveSender(t, db, "acme")
	idle := createActiveSender(t, db, "acme")
	other := createActiveSender(t, db, "globex")

	for i := 0; i < 3; i++ {
		if err := limiter.ConsumeBudget(busy.ID, models.ActionMessage); err != nil {
			t.Fatalf("ConsumeBudget failed: %v", err)
		}
	}

	got, err := pool.AssignSenderForPerson("acme", AssignOptions{Mode: AssignModeLinkedInOnly})
	if err != nil {
		t.Fatalf("AssignSenderForPerson failed: %v", err)
	}
	if got.ID != idle.ID {
		t.Errorf("assigned sender %d, want idle sender %d", got.ID, idle.ID)
	}
	if got.ID == other.ID {
		t.Error("assignment crossed workspace boundary")
	}
}

func TestAssignSenderNoneActive(t *testing.T) {
	db := newTestDB(t)
	pool := NewSenderPool(db, testLogger())

	sender := createActiveSender(t, db, "acme")
	if err := pool.PauseSender(sender.ID, "vacation"); err != nil {
		t.Fatalf("PauseSender failed: %v", err)
	}

	_, err := pool.AssignSenderForPerson("acme", AssignOptions{Mode: AssignModeLinkedInOnly})
	if !errors.Is(err, ErrNoSenderAvailable) {
		t.Errorf("err = %v, want ErrNoSenderAvailable", err)
	}
}

func TestUpdateAcceptanceRate(t *testing.T) {
	db := newTestDB(t)
	pool := NewSenderPool(db, testLogger())
	sender := createActiveSender(t, db, "acme")

	statuses := []models.ConnectionStatus{
		models.ConnectionAccepted,
		models.ConnectionAccepted,
		models.ConnectionPending,
		models.ConnectionExpired,
		models.ConnectionWithdrawn, // excluded from the denominator
	}
	for i, status := range statuses {
		record := &models.ConnectionRecord{
			SenderID:    sender.ID,
			PersonID:    uint(100 + i),
			Status:      status,
			RequestedAt: time.Now().Add(-time.Duration(i) * time.Hour),
		}
		if err := db.Create(record).Error; err != nil {
			t.Fatalf("failed to create connection record: %v", err)
		}
	}

	if err := pool.UpdateAcceptanceRate(sender.ID); err != nil {
		t.Fatalf("UpdateAcceptanceRate failed: %v", err)
	}

	var got models.Sender
	if err := db.First(&got, sender.ID).Error; err != nil {
		t.Fatalf("failed to reload sender: %v", err)
	}
	if got.AcceptanceRate == nil {
		t.Fatal("acceptance rate not set")
	}
	if *got.AcceptanceRate != 0.5 {
		t.Errorf("acceptance rate = %.2f, want 0.50 (2 accepted of 4 counted)", *got.AcceptanceRate)
	}
}

func TestUpdateAcceptanceRateNoRecords(t *testing.T) {
	db := newTestDB(t)
	pool := NewSenderPool(db, testLogger())
	sender := createActiveSender(t, db, "acme")

	if err := pool.UpdateAcceptanceRate(sender.ID); err != nil {
		t.Fatalf("UpdateAcceptanceRate failed: %v", err)
	}

	var got models.Sender
	if err := db.First(&got, sender.ID).Error; err != nil {
		t.Fatalf("failed to reload sender: %v", err)
	}
	if got.AcceptanceRate != nil {
		t.Errorf("acceptance rate = %.2f, want nil when no history exists", *got.AcceptanceRate)
	}
}
