package controller

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"reachly/models"
	"reachly/utils"
)

type ActionController struct {
	DB     *gorm.DB
	Queue  *utils.ActionQueue
	Logger *log.Logger
}

func NewActionController(db *gorm.DB, queue *utils.ActionQueue, logger *log.Logger) *ActionController {
	return &ActionController{
		DB:     db,
		Queue:  queue,
		Logger: logger,
	}
}

type EnqueueActionRequest struct {
	SenderID      uint   `json:"sender_id" validate:"required"`
	PersonID      uint   `json:"person_id" validate:"required"`
	WorkspaceSlug string `json:"workspace_slug" validate:"required"`
	ActionType    string `json:"action_type" validate:"required,oneof=connect message profile_view check_connection"`
	Message       string `json:"message"`
	Priority      int    `json:"priority" validate:"omitempty,min=1,max=5"`
	ScheduledFor  string `json:"scheduled_for"` // RFC3339, optional
}

type PersonActionRequest struct {
	PersonID      uint   `json:"person_id" validate:"required"`
	WorkspaceSlug string `json:"workspace_slug" validate:"required"`
}

// EnqueueAction creates a pending action for the worker to pick up.
func (ac *ActionController) EnqueueAction(c *fiber.Ctx) error {
	var req EnqueueActionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	var scheduledFor time.Time
	if req.ScheduledFor != "" {
		parsed, err := time.Parse(time.RFC3339, req.ScheduledFor)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "scheduled_for must be RFC3339",
			})
		}
		scheduledFor = parsed
	}

	action, err := ac.Queue.Enqueue(utils.EnqueueParams{
		SenderID:      req.SenderID,
		PersonID:      req.PersonID,
		WorkspaceSlug: req.WorkspaceSlug,
		ActionType:    models.ActionType(req.ActionType),
		Message:       req.Message,
		Priority:      req.Priority,
		ScheduledFor:  scheduledFor,
	})
	if err != nil {
		ac.Logger.Printf("Failed to enqueue action: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to enqueue action",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(action))
}

// BumpPriority promotes a person's pending connect action to warm-lead
// priority, typically after they replied elsewhere.
func (ac *ActionController) BumpPriority(c *fiber.Ctx) error {
	var req PersonActionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	found, err := ac.Queue.BumpPriority(req.PersonID, req.WorkspaceSlug)
	if err != nil {
		ac.Logger.Printf("Failed to bump priority: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to bump priority",
		})
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{"found": found}))
}

// CancelForPerson bulk-cancels a person's pending actions on opt-out
// or reply.
func (ac *ActionController) CancelForPerson(c *fiber.Ctx) error {
	var req PersonActionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	cancelled, err := ac.Queue.CancelActionsForPerson(req.PersonID, req.WorkspaceSlug)
	if err != nil {
		ac.Logger.Printf("Failed to cancel actions: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to cancel actions",
		})
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{"cancelled": cancelled}))
}

// GetAction returns one action for inspection.
func (ac *ActionController) GetAction(c *fiber.Ctx) error {
	var action models.Action
	if err := ac.DB.First(&action, utils.ParseUint(c.Params("id"))).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Action not found",
		})
	}
	return c.JSON(utils.SuccessResponse(action))
}
