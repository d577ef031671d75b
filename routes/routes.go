package routes

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"gorm.io/gorm"

	controller "reachly/controllers"
	"reachly/middleware"
	"reachly/utils"
)

// SetupRoutes wires the HTTP surface used by upstream reply/opt-out
// handling and the operator dashboard.
func SetupRoutes(app *fiber.App, db *gorm.DB, queue *utils.ActionQueue, pool *utils.SenderPool, limiter *utils.RateLimiter) {
	actionController := controller.NewActionController(db, queue, log.New(os.Stdout, "ACTION: ", log.LstdFlags))
	senderController := controller.NewSenderController(db, pool, limiter, log.New(os.Stdout, "SENDER: ", log.LstdFlags))

	api := app.Group("/api/v1", middleware.Protected(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Action routes: the exposed entry points for upstream logic
	action := api.Group("/actions")
	action.Post("/", middleware.EnqueueRateLimiter(), actionController.EnqueueAction)
	action.Post("/bump-priority", actionController.BumpPriority)
	action.Post("/cancel-for-person", actionController.CancelForPerson)
	action.Get("/:id", actionController.GetAction)

	// Sender routes
	sender := api.Group("/senders")
	sender.Post("/", senderController.CreateSender)
	sender.Get("/", senderController.GetSenders)
	sender.Post("/:id/activate", senderController.ActivateSender)
	sender.Post("/:id/pause", senderController.PauseSender)
	sender.Post("/:id/resume", senderController.ResumeSender)
	sender.Get("/:id/budget", senderController.GetSenderBudget)
}
