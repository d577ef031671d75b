package controller

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"reachly/models"
	"reachly/utils"
)

type SenderController struct {
	DB      *gorm.DB
	Pool    *utils.SenderPool
	Limiter *utils.RateLimiter
	Logger  *log.Logger
}

func NewSenderController(db *gorm.DB, pool *utils.SenderPool, limiter *utils.RateLimiter, logger *log.Logger) *SenderController {
	return &SenderController{
		DB:      db,
		Pool:    pool,
		Limiter: limiter,
		Logger:  logger,
	}
}

type CreateSenderRequest struct {
	WorkspaceSlug    string `json:"workspace_slug" validate:"required"`
	Name             string `json:"name" validate:"required"`
	Email            string `json:"email" validate:"required,email"`
	LinkedInPassword string `json:"linkedin_password" validate:"required"`
	TOTPSecret       string `json:"totp_secret"`
}

type PauseSenderRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// CreateSender registers a new automation account in setup state with
// conservative limits. Credentials are encrypted before they touch the
// database.
func (sc *SenderController) CreateSender(c *fiber.Ctx) error {
	var req CreateSenderRequest
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

	encryptedPassword, err := utils.Encrypt(req.LinkedInPassword)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to encrypt password",
		})
	}
	encryptedTOTP, err := utils.Encrypt(req.TOTPSecret)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to encrypt TOTP secret",
		})
	}

	tier := utils.TierForDay(0)
	sender := models.Sender{
		WorkspaceSlug:         req.WorkspaceSlug,
		Name:                  req.Name,
		Email:                 req.Email,
		LinkedInPassword:      encryptedPassword,
		TOTPSecret:            encryptedTOTP,
		Status:                models.SenderStatusSetup,
		HealthStatus:          models.HealthHealthy,
		SessionStatus:         models.SessionNotSetup,
		DailyConnectionLimit:  tier.Connections,
		DailyMessageLimit:     tier.Messages,
		DailyProfileViewLimit: tier.ProfileViews,
	}

	if err := sc.DB.Create(&sender).Error; err != nil {
		sc.Logger.Printf("Failed to create sender: %v", err)
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create sender", nil)
	}

	sender.Sanitize()
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(sender))
}

// GetSenders lists senders, optionally filtered by workspace.
func (sc *SenderController) GetSenders(c *fiber.Ctx) error {
	query := sc.DB.Order("id")
	if workspace := c.Query("workspace"); workspace != "" {
		query = query.Where("workspace_slug = ?", workspace)
	}

	var senders []models.Sender
	if err := query.Find(&senders).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch senders",
		})
	}

	for i := range senders {
		senders[i].Sanitize()
	}
	return c.JSON(utils.SuccessResponse(senders))
}

// ActivateSender moves a sender into rotation and starts its warm-up.
func (sc *SenderController) ActivateSender(c *fiber.Ctx) error {
	id := utils.ParseUint(c.Params("id"))
	if err := sc.Pool.ActivateSender(id); err != nil {
		sc.Logger.Printf("Failed to activate sender %d: %v", id, err)
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to activate sender", nil)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"activated": true}))
}

// PauseSender takes a sender out of rotation.
func (sc *SenderController) PauseSender(c *fiber.Ctx) error {
	var req PauseSenderRequest
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

	id := utils.ParseUint(c.Params("id"))
	if err := sc.Pool.PauseSender(id, req.Reason); err != nil {
		sc.Logger.Printf("Failed to pause sender %d: %v", id, err)
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to pause sender", nil)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"paused": true}))
}

// ResumeSender puts a paused sender back into rotation.
func (sc *SenderController) ResumeSender(c *fiber.Ctx) error {
	id := utils.ParseUint(c.Params("id"))
	if err := sc.Pool.ResumeSender(id); err != nil {
		sc.Logger.Printf("Failed to resume sender %d: %v", id, err)
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to resume sender", nil)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"resumed": true}))
}

// GetSenderBudget returns today's sent/limit/remaining snapshot.
func (sc *SenderController) GetSenderBudget(c *fiber.Ctx) error {
	id := utils.ParseUint(c.Params("id"))
	budget, err := sc.Limiter.GetSenderBudget(id)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sender not found",
		})
	}
	return c.JSON(utils.SuccessResponse(budget))
}
