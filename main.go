package main

import (
	"context"
	"log"
	"os"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"

	"reachly/config"
	"reachly/middleware"
	"reachly/routes"
	"reachly/utils"
	"reachly/worker"
)

func main() {
	logger := log.New(os.Stdout, "REACHLY: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Printf("Sentry initialization failed: %v", err)
		}
	}

	// Create Fiber app
	app := fiber.New()

	// Add CORS middleware
	app.Use(middleware.CORS())

	// Domain services
	limiter := utils.NewRateLimiter(config.DB, log.New(os.Stdout, "LIMITER: ", log.LstdFlags))
	queue := utils.NewActionQueue(config.DB, limiter, log.New(os.Stdout, "QUEUE: ", log.LstdFlags))
	pool := utils.NewSenderPool(config.DB, log.New(os.Stdout, "SENDERS: ", log.LstdFlags))
	sessions := utils.NewSessionStore(config.DB)
	bootstrap := utils.NewBrowserClient(config.AppConfig.LoginBridgeURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize and start the outreach worker
	outreachWorker := worker.NewOutreachWorker(config.DB, queue, limiter, pool, sessions, bootstrap,
		log.New(os.Stdout, "OUTREACH: ", log.Ldate|log.Ltime|log.Lshortfile))
	go outreachWorker.Start(ctx)

	// Housekeeping: crash recovery, expiry, warm-up progression
	maintenanceWorker := worker.NewMaintenanceWorker(config.DB, queue, limiter, pool,
		log.New(os.Stdout, "MAINTENANCE: ", log.LstdFlags))
	go maintenanceWorker.Start(ctx)

	// Setup routes
	routes.SetupRoutes(app, config.DB, queue, pool, limiter)

	// Health check endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	// Start server
	logger.Printf("🚀 Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
