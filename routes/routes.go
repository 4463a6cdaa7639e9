package routes

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"

	controller "leadpilot/controllers"
	"leadpilot/middleware"
	"leadpilot/worker"
)

// SetupRoutes wires the HTTP surface. The external scheduler hits the cron
// group; everything else is operational plumbing.
func SetupRoutes(app *fiber.App, processor *worker.JobProcessor) {
	cronLogger := log.New(os.Stdout, "CRON: ", log.Ldate|log.Ltime|log.Lshortfile)
	cronController := controller.NewCronController(cronLogger, processor)

	app.Get("/health", controller.Health)

	cron := app.Group("/api/cron", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}), middleware.CronProtected())
	cron.Post("/process-jobs", cronController.ProcessJobs)

	cronLogger.Println("Cron routes initialized successfully")
}
