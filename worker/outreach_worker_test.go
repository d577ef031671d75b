package worker

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
	"reachly/utils"
)

func TestMain(m *testing.M) {
	config.AppConfig.EncryptionKey = "0123456789abcdef0123456789abcdef"
	config.AppConfig.MaxActionsPerBatch = 5
	config.AppConfig.DefaultTimezone = "UTC"
	config.AppConfig.DefaultStartHour = 0
	config.AppConfig.DefaultEndHour = 24
	config.AppConfig.PollIntervalSec = 300
	os.Exit(m.Run())
}

// fakeClient replays scripted results, then succeeds.
type fakeClient struct {
	results []utils.ActionResult
	calls   []string
}

func (fc *fakeClient) next(method string) utils.ActionResult {
	fc.calls = append(fc.calls, method)
	if len(fc.results) == 0 {
		return utils.ActionResult{Success: true}
	}
	r := fc.results[0]
	fc.results = fc.results[1:]
	return r
}

func (fc *fakeClient) ViewProfile(profileURL string) utils.ActionResult {
	return fc.next("view")
}

func (fc *fakeClient) SendConnectionRequest(profileURL, note string) utils.ActionResult {
	return fc.next("connect")
}

func (fc *fakeClient) SendMessage(profileURL, text string) utils.ActionResult {
	return fc.next("message")
}

func (fc *fakeClient) CheckConnectionStatus(profileURL string) utils.ActionResult {
	return fc.next("check")
}

type fakeBootstrapper struct {
	token  string
	err    error
	logins int
}

func (fb *fakeBootstrapper) Login(creds utils.SenderCredentials) (string, error) {
	fb.logins++
	return fb.token, fb.err
}

func newWorkerTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:worker_%s?mode=memory&cache=shared", t.Name())
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

type workerFixture struct {
	db        *gorm.DB
	worker    *OutreachWorker
	queue     *utils.ActionQueue
	client    *fakeClient
	bootstrap *fakeBootstrapper
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()

	db := newWorkerTestDB(t)
	logger := log.New(os.Stdout, "WORKER-TEST: ", log.LstdFlags)
	limiter := utils.NewRateLimiter(db, logger)
	queue := utils.NewActionQueue(db, limiter, logger)
	pool := utils.NewSenderPool(db, logger)
	sessions := utils.NewSessionStore(db)

	client := &fakeClient{}
	bootstrap := &fakeBootstrapper{token: "fresh-session-token"}

	worker := NewOutreachWorker(db, queue, limiter, pool, sessions, bootstrap, logger)
	worker.NewClient = func(token string) utils.LinkedInClient { return client }

	return &workerFixture{
		db:        db,
		worker:    worker,
		queue:     queue,
		client:    client,
		bootstrap: bootstrap,
	}
}

func (f *workerFixture) createSender(t *testing.T) *models.Sender {
	t.Helper()

	password, err := utils.Encrypt("secret")
	if err != nil {
		t.Fatalf("failed to encrypt password: %v", err)
	}
	token, err := utils.Encrypt("stored-session-token")
	if err != nil {
		t.Fatalf("failed to encrypt session token: %v", err)
	}

	sender := models.Sender{
		WorkspaceSlug:         "acme",
		Name:                  "Worker Sender",
		Email:                 "worker@acme.io",
		LinkedInPassword:      password,
		SessionToken:          token,
		SessionStatus:         models.SessionActive,
		Status:                models.SenderStatusActive,
		HealthStatus:          models.HealthHealthy,
		WarmupDay:             1,
		DailyConnectionLimit:  100,
		DailyMessageLimit:     100,
		DailyProfileViewLimit: 100,
	}
	if err := f.db.Create(&sender).Error; err != nil {
		t.Fatalf("failed to create sender: %v", err)
	}
	return &sender
}

func (f *workerFixture) createPerson(t *testing.T) *models.Person {
	t.Helper()

	person := models.Person{
		WorkspaceSlug: "acme",
		ProfileURL:    "https://www.linkedin.com/in/worker-test",
		Name:          "Worker Target",
	}
	if err := f.db.Create(&person).Error; err != nil {
		t.Fatalf("failed to create person: %v", err)
	}
	return &person
}

func (f *workerFixture) enqueue(t *testing.T, sender *models.Sender, person *models.Person, actionType models.ActionType) *models.Action {
	t.Helper()

	action, err := f.queue.Enqueue(utils.EnqueueParams{
		SenderID:      sender.ID,
		PersonID:      person.ID,
		WorkspaceSlug: "acme",
		ActionType:    actionType,
		Message:       "hello",
	})
	if err != nil {
		t.Fatalf("failed to enqueue action: %v", err)
	}
	return action
}

func (f *workerFixture) reloadAction(t *testing.T, id uint) *models.Action {
	t.Helper()

	var action models.Action
	if err := f.db.First(&action, id).Error; err != nil {
		t.Fatalf("failed to reload action %d: %v", id, err)
	}
	return &action
}

func (f *workerFixture) reloadSender(t *testing.T, id uint) *models.Sender {
	t.Helper()

	var sender models.Sender
	if err := f.db.First(&sender, id).Error; err != nil {
		t.Fatalf("failed to reload sender %d: %v", id, err)
	}
	return &sender
}

func TestExecuteConnectSuccess(t *testing.T) {
	f := newWorkerFixture(t)
	sender := f.createSender(t)
	person := f.createPerson(t)
	action := f.enqueue(t, sender, person, models.ActionConnect)

	if !f.worker.executeAction(sender, f.client, action) {
		t.Fatal("expected batch to continue after success")
	}

	got := f.reloadAction(t, action.ID)
	if got.Status != models.ActionStatusComplete {
		t.Errorf("status = %s, want complete", got.Status)
	}

	var usage models.DailyUsage
	if err := f.db.Where("sender_id = ?", sender.ID).First(&usage).Error; err != nil {
		t.Fatalf("usage row not created: %v", err)
	}
	if usage.ConnectionsSent != 1 {
		t.Errorf("connections sent = %d, want 1", usage.ConnectionsSent)
	}

	var record models.ConnectionRecord
	if err := f.db.Where("sender_id = ? AND person_id = ?", sender.ID, person.ID).
		First(&record).Error; err != nil {
		t.Fatalf("connection record not created: %v", err)
	}
	if record.Status != models.ConnectionPending {
		t.Errorf("connection record status = %s, want pending", record.Status)
	}
}

func TestExecuteActionAuthExpired(t *testing.T) {
	f := newWorkerFixture(t)
	sender := f.createSender(t)
	person := f.createPerson(t)
	action := f.enqueue(t, sender, person, models.ActionMessage)

	client, err := f.worker.clientFor(sender)
	if err != nil {
		t.Fatalf("clientFor failed: %v", err)
	}
	f.client.results = []utils.ActionResult{{Error: utils.ErrorAuthExpired}}

	if f.worker.executeAction(sender, client, action) {
		t.Fatal("expected batch to abort on auth_expired")
	}

	got := f.reloadAction(t, action.ID)
	if got.Status != models.ActionStatusPending {
		t.Errorf("action status = %s, want pending for retry", got.Status)
	}
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", got.Attempts)
	}
	if got.NextRetryAt == nil {
		t.Fatal("next retry not scheduled")
	}
	wantRetry := time.Now().Add(5 * time.Minute)
	if diff := got.NextRetryAt.Sub(wantRetry); diff < -time.Minute || diff > time.Minute {
		t.Errorf("next retry at %s, want about %s", got.NextRetryAt, wantRetry)
	}

	gotSender := f.reloadSender(t, sender.ID)
	if gotSender.HealthStatus != models.HealthSessionExpired {
		t.Errorf("sender health = %s, want session_expired", gotSender.HealthStatus)
	}
	if gotSender.SessionStatus != models.SessionExpired {
		t.Errorf("session status = %s, want expired", gotSender.SessionStatus)
	}
	if _, cached := f.worker.CachedClient(sender.ID); cached {
		t.Error("client cache not evicted")
	}
}

func TestExecuteActionRateLimitedAbortsBatch(t *testing.T) {
	f := newWorkerFixture(t)
	sender := f.createSender(t)
	person := f.createPerson(t)
	action := f.enqueue(t, sender, person, models.ActionConnect)

	client, err := f.worker.clientFor(sender)
	if err != nil {
		t.Fatalf("clientFor failed: %v", err)
	}
	f.client.results = []utils.ActionResult{{Error: utils.ErrorRateLimited}}

	if f.worker.executeAction(sender, client, action) {
		t.Fatal("expected batch to abort on rate_limited")
	}

	got := f.reloadAction(t, action.ID)
	if got.Status != models.ActionStatusPending {
		t.Errorf("action status = %s, want pending for retry", got.Status)
	}
	if got.NextRetryAt == nil {
		t.Fatal("next retry not scheduled")
	}
	wantRetry := time.Now().Add(5 * time.Minute)
	if diff := got.NextRetryAt.Sub(wantRetry); diff < -time.Minute || diff > time.Minute {
		t.Errorf("next retry at %s, want about %s", got.NextRetryAt, wantRetry)
	}

	// Being throttled is not a sender-health event.
	gotSender := f.reloadSender(t, sender.ID)
	if gotSender.HealthStatus != models.HealthHealthy {
		t.Errorf("sender health = %s, want healthy", gotSender.HealthStatus)
	}
	if gotSender.SessionStatus != models.SessionActive {
		t.Errorf("session status = %s, want still active", gotSender.SessionStatus)
	}
	if _, cached := f.worker.CachedClient(sender.ID); !cached {
		t.Error("client cache must survive a rate limit")
	}
}

func TestExecuteActionBlocked(t *testing.T) {
	f := newWorkerFixture(t)
	sender := f.createSender(t)
	person := f.createPerson(t)
	action := f.enqueue(t, sender, person, models.ActionProfileView)

	if _, err := f.worker.clientFor(sender); err != nil {
		t.Fatalf("clientFor failed: %v", err)
	}
	f.client.results = []utils.ActionResult{{Error: utils.ErrorIPBlocked}}

	if f.worker.executeAction(sender, f.client, action) {
		t.Fatal("expected batch to abort on ip_blocked")
	}

	gotSender := f.reloadSender(t, sender.ID)
	if gotSender.HealthStatus != models.HealthBlocked {
		t.Errorf("sender health = %s, want blocked", gotSender.HealthStatus)
	}
	if _, cached := f.worker.CachedClient(sender.ID); cached {
		t.Error("client cache not evicted")
	}
}

func TestExecuteActionTransientFailureContinuesBatch(t *testing.T) {
	f := newWorkerFixture(t)
	sender := f.createSender(t)
	person := f.createPerson(t)
	action := f.enqueue(t, sender, person, models.ActionMessage)

	f.client.results = []utils.ActionResult{{Error: "http_error", Details: "HTTP 502"}}

	if !f.worker.executeAction(sender, f.client, action) {
		t.Fatal("expected batch to continue after a transient failure")
	}

	got := f.reloadAction(t, action.ID)
	if got.Status != models.ActionStatusPending {
		t.Errorf("action status = %s, want pending for retry", got.Status)
	}
	if got.LastError == nil || *got.LastError != "http_error: HTTP 502" {
		t.Errorf("last error = %v, want classified cause with details", got.LastError)
	}

	gotSender := f.reloadSender(t, sender.ID)
	if gotSender.HealthStatus != models.HealthHealthy {
		t.Errorf("sender health = %s, want healthy after transient failure", gotSender.HealthStatus)
	}
}

func TestExecuteActionMissingPersonFailsImmediately(t *testing.T) {
	f := newWorkerFixture(t)
	sender := f.createSender(t)
	person := f.createPerson(t)
	action := f.enqueue(t, sender, person, models.ActionMessage)
	if err := f.db.Unscoped().Delete(&models.Person{}, person.ID).Error; err != nil {
		t.Fatalf("failed to delete person: %v", err)
	}

	if !f.worker.executeAction(sender, f.client, action) {
		t.Fatal("expected batch to continue past an invalid action")
	}

	got := f.reloadAction(t, action.ID)
	if got.Status != models.ActionStatusFailed {
		t.Errorf("action status = %s, want failed with no retry", got.Status)
	}
	if len(f.client.calls) != 0 {
		t.Errorf("backend called %d times for an invalid action, want 0", len(f.client.calls))
	}
}

func TestExecuteActionOptedOutPersonCancelled(t *testing.T) {
	f := newWorkerFixture(t)
	sender := f.createSender(t)
	person := f.createPerson(t)
	action := f.enqueue(t, sender, person, models.ActionConnect)
	if err := f.db.Model(person).Update("opted_out", true).Error; err != nil {
		t.Fatalf("failed to opt person out: %v", err)
	}

	if !f.worker.executeAction(sender, f.client, action) {
		t.Fatal("expected batch to continue past an opted-out person")
	}

	got := f.reloadAction(t, action.ID)
	if got.Status != models.ActionStatusCancelled {
		t.Errorf("action status = %s, want cancelled", got.Status)
	}
	if got.Attempts != 0 {
		t.Errorf("attempts = %d, want 0 (never executed)", got.Attempts)
	}
	if len(f.client.calls) != 0 {
		t.Errorf("backend called %d times for an opted-out person, want 0", len(f.client.calls))
	}
}

func TestCheckConnectionFlipsPendingRecord(t *testing.T) {
	f := newWorkerFixture(t)
	sender := f.createSender(t)
	person := f.createPerson(t)

	record := models.ConnectionRecord{
		SenderID:    sender.ID,
		PersonID:    person.ID,
		Status:      models.ConnectionPending,
		RequestedAt: time.Now().Add(-48 * time.Hour),
	}
	if err := f.db.Create(&record).Error; err != nil {
		t.Fatalf("failed to create connection record: %v", err)
	}

	action := f.enqueue(t, sender, person, models.ActionCheckConnection)
	f.client.results = []utils.ActionResult{{Success: true, Details: `{"connected":true}`}}

	if !f.worker.executeAction(sender, f.client, action) {
		t.Fatal("expected batch to continue after success")
	}

	var got models.ConnectionRecord
	if err := f.db.First(&got, record.ID).Error; err != nil {
		t.Fatalf("failed to reload connection record: %v", err)
	}
	if got.Status != models.ConnectionAccepted {
		t.Errorf("connection record status = %s, want connected", got.Status)
	}
	if got.AcceptedAt == nil {
		t.Error("accepted timestamp not set")
	}

	var usage models.DailyUsage
	if err := f.db.Where("sender_id = ?", sender.ID).First(&usage).Error; err != nil {
		t.Fatalf("usage row not created: %v", err)
	}
	if usage.ConnectionChecks != 1 {
		t.Errorf("connection checks = %d, want 1", usage.ConnectionChecks)
	}
}

func TestClientForUsesStoredSession(t *testing.T) {
	f := newWorkerFixture(t)
	sender := f.createSender(t)

	if _, err := f.worker.clientFor(sender); err != nil {
		t.Fatalf("clientFor failed: %v", err)
	}
	if f.bootstrap.logins != 0 {
		t.Errorf("bootstrap invoked %d times with a stored session, want 0", f.bootstrap.logins)
	}
	if _, cached := f.worker.CachedClient(sender.ID); !cached {
		t.Error("client not cached")
	}

	// Second call hits the cache, not the database.
	if _, err := f.worker.clientFor(sender); err != nil {
		t.Fatalf("clientFor failed on cached path: %v", err)
	}
}

func TestClientForBootstrapsExpiredSession(t *testing.T) {
	f := newWorkerFixture(t)
	sender := f.createSender(t)
	if err := f.db.Model(sender).Updates(map[string]interface{}{
		"health_status":  models.HealthSessionExpired,
		"session_status": models.SessionExpired,
	}).Error; err != nil {
		t.Fatalf("failed to expire sender session: %v", err)
	}
	sender = f.reloadSender(t, sender.ID)

	if _, err := f.worker.clientFor(sender); err != nil {
		t.Fatalf("clientFor failed: %v", err)
	}
	if f.bootstrap.logins != 1 {
		t.Errorf("bootstrap invoked %d times, want 1", f.bootstrap.logins)
	}

	got := f.reloadSender(t, sender.ID)
	if got.HealthStatus != models.HealthHealthy {
		t.Errorf("sender health = %s, want restored to healthy", got.HealthStatus)
	}
	if got.SessionStatus != models.SessionActive {
		t.Errorf("session status = %s, want active", got.SessionStatus)
	}

	token, err := utils.Decrypt(got.SessionToken)
	if err != nil {
		t.Fatalf("failed to decrypt stored token: %v", err)
	}
	if token != "fresh-session-token" {
		t.Errorf("stored token = %q, want the bootstrapped one", token)
	}
}

func TestClientForBootstrapFailure(t *testing.T) {
	f := newWorkerFixture(t)
	sender := f.createSender(t)
	if err := f.db.Model(sender).Updates(map[string]interface{}{
		"health_status":  models.HealthSessionExpired,
		"session_status": models.SessionExpired,
	}).Error; err != nil {
		t.Fatalf("failed to expire sender session: %v", err)
	}
	sender = f.reloadSender(t, sender.ID)
	f.bootstrap.err = fmt.Errorf("challenge screen timed out")

	if _, err := f.worker.clientFor(sender); err == nil {
		t.Fatal("expected clientFor to fail when bootstrap fails")
	}

	got := f.reloadSender(t, sender.ID)
	if got.HealthStatus != models.HealthSessionExpired {
		t.Errorf("sender health = %s, want left as session_expired", got.HealthStatus)
	}
	if _, cached := f.worker.CachedClient(sender.ID); cached {
		t.Error("failed bootstrap must not cache a client")
	}
}
