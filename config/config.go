package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"reachly/models"
)

var (
	DB        *gorm.DB
	AppConfig Config
	envLoaded bool
)

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

// WorkspaceSchedule is a per-workspace business-hours override.
type WorkspaceSchedule struct {
	Timezone  string `json:"timezone"`
	StartHour int    `json:"start_hour"`
	EndHour   int    `json:"end_hour"`
}

type Config struct {
	Environment string `json:"environment"`
	ServerPort  string `json:"server_port"`

	EncryptionKey      string `json:"-"`
	ServiceTokenSecret string `json:"-"`

	DBHost         string `json:"db_host"`
	DBPort         string `json:"db_port"`
	DBUser         string `json:"db_user"`
	DBPassword     string `json:"-"`
	DBName         string `json:"db_name"`
	DBSSLMode      string `json:"db_ssl_mode"`
	DBMaxIdleConns int    `json:"db_max_idle_conns"`
	DBMaxOpenConns int    `json:"db_max_open_conns"`

	// LinkedIn execution backend
	LinkedInAPIURL string `json:"linkedin_api_url"`
	LoginBridgeURL string `json:"login_bridge_url"`

	// Worker settings
	Workspaces         []string                     `json:"workspaces"`
	Schedules          map[string]WorkspaceSchedule `json:"schedules"`
	DefaultTimezone    string                       `json:"default_timezone"`
	DefaultStartHour   int                          `json:"default_start_hour"`
	DefaultEndHour     int                          `json:"default_end_hour"`
	PollIntervalSec    int                          `json:"poll_interval_sec"`
	MaxActionsPerBatch int                          `json:"max_actions_per_batch"`

	RateLimitEnqueue int         `json:"rate_limit_enqueue"`
	Redis            RedisConfig `json:"redis"`
	SentryDSN        string      `json:"-"`
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
	envLoaded = true
}

func LoadConfig() error {
	AppConfig = Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		ServerPort:  getEnv("SERVER_PORT", "5000"),

		EncryptionKey:      getEnv("ENCRYPTION_KEY", ""),
		ServiceTokenSecret: getEnv("SERVICE_TOKEN_SECRET", ""),

		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "reachly"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 100),

		LinkedInAPIURL: getEnv("LINKEDIN_API_URL", "https://www.linkedin.com"),
		LoginBridgeURL: getEnv("LOGIN_BRIDGE_URL", "http://localhost:4444"),

		Workspaces:         splitList(getEnv("WORKSPACES", "")),
		DefaultTimezone:    getEnv("DEFAULT_TIMEZONE", "America/New_York"),
		DefaultStartHour:   getEnvAsInt("DEFAULT_START_HOUR", 9),
		DefaultEndHour:     getEnvAsInt("DEFAULT_END_HOUR", 17),
		PollIntervalSec:    getEnvAsInt("POLL_INTERVAL_SEC", 300),
		MaxActionsPerBatch: getEnvAsInt("MAX_ACTIONS_PER_BATCH", 5),

		RateLimitEnqueue: getEnvAsInt("RATE_LIMIT_ENQUEUE", 60),
		Redis: RedisConfig{
			Enabled:  getEnv("REDIS_ENABLED", "false") == "true",
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		SentryDSN: getEnv("SENTRY_DSN", ""),
	}

	AppConfig.Schedules = loadSchedules(AppConfig.Workspaces)

	// Validate required configurations
	if AppConfig.DBPassword == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if AppConfig.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if AppConfig.ServiceTokenSecret == "" {
		return fmt.Errorf("SERVICE_TOKEN_SECRET is required")
	}
	if len(AppConfig.Workspaces) == 0 && AppConfig.Environment == "production" {
		return fmt.Errorf("WORKSPACES is required in production")
	}

	logConfig()
	return nil
}

// loadSchedules reads SCHEDULE_<SLUG>_TZ / _START_HOUR / _END_HOUR
// overrides for each configured workspace.
func loadSchedules(workspaces []string) map[string]WorkspaceSchedule {
	schedules := make(map[string]WorkspaceSchedule)
	for _, slug := range workspaces {
		key := strings.ToUpper(strings.ReplaceAll(slug, "-", "_"))
		tz := getEnv("SCHEDULE_"+key+"_TZ", "")
		start := getEnvAsInt("SCHEDULE_"+key+"_START_HOUR", -1)
		end := getEnvAsInt("SCHEDULE_"+key+"_END_HOUR", -1)
		if tz == "" && start < 0 && end < 0 {
			continue
		}
		sched := WorkspaceSchedule{
			Timezone:  tz,
			StartHour: start,
			EndHour:   end,
		}
		if sched.Timezone == "" {
			sched.Timezone = AppConfig.DefaultTimezone
		}
		if sched.StartHour < 0 {
			sched.StartHour = AppConfig.DefaultStartHour
		}
		if sched.EndHour < 0 {
			sched.EndHour = AppConfig.DefaultEndHour
		}
		schedules[slug] = sched
	}
	return schedules
}

func ConnectDB() error {
	log.Println("Attempting to connect to database...")

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBUser,
		AppConfig.DBPassword,
		AppConfig.DBName,
		AppConfig.DBSSLMode,
	)
	log.Println("Using connection string:", maskPassword(dsn))

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(AppConfig.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(AppConfig.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	log.Println("✅ Successfully connected to the database")
	log.Println("🔄 Starting database migration...")
	if err := MigrateDB(DB); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	log.Println("✅ Database migration completed")
	return nil
}

// MigrateDB runs AutoMigrate for every model; tests reuse it against an
// in-memory database.
func MigrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Sender{},
		&models.Person{},
		&models.Action{},
		&models.DailyUsage{},
		&models.ConnectionRecord{},
	)
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	if !envLoaded && fallback == "" {
		log.Printf("⚠️ Environment variable %s not found and no fallback provided", key)
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var value int
	_, err := fmt.Sscanf(valueStr, "%d", &value)
	if err != nil {
		return fallback
	}
	return value
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func maskPassword(dsn string) string {
	const passwordMarker = "password="
	startIdx := strings.Index(dsn, passwordMarker)
	if startIdx == -1 {
		return dsn
	}

	startIdx += len(passwordMarker)
	endIdx := strings.IndexAny(dsn[startIdx:], " ")
	if endIdx == -1 {
		return dsn[:startIdx] + "*****"
	}
	return dsn[:startIdx] + "*****" + dsn[startIdx+endIdx:]
}

func logConfig() {
	log.Println("🔧 Loaded configuration:")
	log.Printf("Environment: %s", AppConfig.Environment)
	log.Printf("Server Port: %s", AppConfig.ServerPort)
	log.Printf("Database: %s@%s:%s/%s",
		AppConfig.DBUser,
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBName)
	log.Printf("Workspaces: %s", strings.Join(AppConfig.Workspaces, ", "))
	log.Printf("Poll interval: %ds, batch size: %d",
		AppConfig.PollIntervalSec,
		AppConfig.MaxActionsPerBatch)
}
