package utils

import (
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"reachly/config"
	"reachly/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := config.MigrateDB(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func testLogger() *log.Logger {
	return log.New(os.Stdout, "TEST: ", log.LstdFlags)
}

func createActiveSender(t *testing.T, db *gorm.DB, workspace string) *models.Sender {
	t.Helper()

	sender := models.Sender{
		WorkspaceSlug:         workspace,
		Name:                  "Test Sender",
		Email:                 "sender@example.com",
		LinkedInPassword:      "irrelevant",
		Status:                models.SenderStatusActive,
		HealthStatus:          models.HealthHealthy,
		SessionStatus:         models.SessionActive,
		WarmupDay:             1,
		DailyConnectionLimit:  100,
		DailyMessageLimit:     100,
		DailyProfileViewLimit: 100,
	}
	if err := db.Create(&sender).Error; err != nil {
		t.Fatalf("failed to create sender: %v", err)
	}
	return &sender
}

func createPerson(t *testing.T, db *gorm.DB, workspace string) *models.Person {
	t.Helper()

	person := models.Person{
		WorkspaceSlug: workspace,
		ProfileURL:    "https://www.linkedin.com/in/test-person",
		Name:          "Test Person",
	}
	if err := db.Create(&person).Error; err != nil {
		t.Fatalf("failed to create person: %v", err)
	}
	return &person
}

func todayUTC() string {
	return time.Now().UTC().Format(models.UsageDateFormat)
}
