package controller

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"mailpilot/models"
	"mailpilot/utils"
)

type UniboxController struct {
	DB         *gorm.DB
	Dispatcher *utils.Dispatcher
	Logger     *logrus.Logger
}

func NewUniboxController(db *gorm.DB, dispatcher *utils.Dispatcher, logger *logrus.Logger) *UniboxController {
	return &UniboxController{DB: db, Dispatcher: dispatcher, Logger: logger}
}

type sendReplyRequest struct {
	Subject string `json:"subject" validate:"required,max=255"`
	Body    string `json:"body" validate:"required"`
}

// ListInbox pages through stored inbox messages, newest first. Warmup
// traffic never lands here.
func (uc *UniboxController) ListInbox(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	if limit < 1 || limit > 200 {
		limit = 50
	}

	query := uc.DB.Model(&models.InboxEmail{})
	if senderID := c.Query("sender_id"); senderID != "" {
		query = query.Where("sender_id = ?", senderID)
	}

	var total int64
	query.Count(&total)

	var emails []models.InboxEmail
	if err := query.
		Order("date DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&emails).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to fetch inbox",
		})
	}

	return c.JSON(fiber.Map{
		"emails": emails,
		"total":  total,
		"page":   page,
		"limit":  limit,
	})
}

// SendReply answers a stored inbox message from the mailbox that received
// it. The send goes through the dispatcher immediately, so it consumes
// quota and lands in the email log like any other send.
func (uc *UniboxController) SendReply(c *fiber.Ctx) error {
	emailID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid email ID",
		})
	}

	var inbound models.InboxEmail
	if err := uc.DB.First(&inbound, emailID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "inbox email not found",
		})
	}

	var req sendReplyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	intent := &utils.Intent{
		Type:      models.EmailTypeReply,
		UserID:    inbound.UserID,
		SenderID:  inbound.SenderID,
		Recipient: utils.ExtractAddress(inbound.From),
		Subject:   req.Subject,
		Body:      req.Body,
		FireAt:    time.Now(),
		InReplyTo: inbound.MessageID,
	}

	record, err := uc.Dispatcher.Dispatch(intent)
	if err != nil {
		uc.Logger.WithError(err).WithField("inbox_email_id", inbound.ID).Error("manual reply failed")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "failed to send reply",
			"log":   record,
		})
	}
	if record != nil && record.Status == models.EmailStatusFailed {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": record.ErrorDetail,
			"log":   record,
		})
	}

	return c.JSON(fiber.Map{
		"message": "reply sent",
		"log":     record,
	})
}
