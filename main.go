package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"

	"leadpilot/config"
	"leadpilot/middleware"
	"leadpilot/models"
	"leadpilot/routes"
	"leadpilot/worker"
)

func main() {
	// Initialize logger
	logger := log.New(os.Stdout, "SERVER: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Initialize Sentry when a DSN is configured
	if config.AppConfig.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		})
		if err != nil {
			logger.Fatalf("Failed to initialize Sentry: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	// Optional redis cache for analytics rollups
	var cache *redis.Client
	if config.AppConfig.Redis.Enabled {
		cache = redis.NewClient(&redis.Options{
			Addr:     config.AppConfig.Redis.Address,
			Password: config.AppConfig.Redis.Password,
			DB:       config.AppConfig.Redis.DB,
		})
	}

	// Create Fiber app
	app := fiber.New()

	// Add CORS middleware
	app.Use(middleware.CORS())

	// Build the job processor and register one handler per job type
	processor := worker.NewJobProcessor(config.DB, log.New(os.Stdout, "JOBS: ", log.LstdFlags))

	executor := worker.NewSequenceExecutor(config.DB, log.New(os.Stdout, "SEQUENCE: ", log.LstdFlags))
	inboxSync := worker.NewInboxSyncService(config.DB, log.New(os.Stdout, "INBOX: ", log.LstdFlags))
	warmup := worker.NewWarmupService(config.DB, config.AppConfig.WarmupEmail, log.New(os.Stdout, "WARMUP: ", log.LstdFlags))
	analytics := worker.NewAnalyticsService(config.DB, cache, log.New(os.Stdout, "ANALYTICS: ", log.LstdFlags))

	processor.Register(models.JobTypeSequenceStep, executor.HandleJob)
	processor.Register(models.JobTypeInboxSync, inboxSync.HandleJob)
	processor.Register(models.JobTypeWarmup, warmup.HandleJob)
	processor.Register(models.JobTypeAnalytics, analytics.HandleJob)

	// Run the processor loop alongside the HTTP server; the cron endpoint
	// can still force a drain between ticks.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go processor.Start(ctx)

	// Setup routes
	routes.SetupRoutes(app, processor)

	// Start server
	logger.Printf("🚀 Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
