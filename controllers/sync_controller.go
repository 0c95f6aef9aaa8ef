package controller

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"mailpilot/models"
	"mailpilot/utils"
)

type SyncController struct {
	DB           *gorm.DB
	Synchronizer *utils.InboxSynchronizer
	Logger       *logrus.Logger
}

func NewSyncController(db *gorm.DB, synchronizer *utils.InboxSynchronizer, logger *logrus.Logger) *SyncController {
	return &SyncController{DB: db, Synchronizer: synchronizer, Logger: logger}
}

func (sc *SyncController) loadSender(c *fiber.Ctx) (*models.Sender, error) {
	senderID, err := c.ParamsInt("id")
	if err != nil {
		return nil, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid sender ID",
		})
	}

	var sender models.Sender
	if err := sc.DB.First(&sender, senderID).Error; err != nil {
		return nil, c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "sender not found",
		})
	}
	return &sender, nil
}

// TriggerSync runs an inbox scan for the sender right now, outside the
// periodic schedule. A scan already in flight yields 409.
func (sc *SyncController) TriggerSync(c *fiber.Ctx) error {
	sender, err := sc.loadSender(c)
	if sender == nil {
		return err
	}

	if sender.IMAPHost == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "sender has no IMAP configuration",
		})
	}

	result, err := sc.Synchronizer.Sync(sender)
	if errors.Is(err, utils.ErrSyncInProgress) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "sync already in progress",
		})
	}
	if err != nil {
		sc.Logger.WithError(err).WithField("sender_id", sender.ID).Error("manual sync failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":  "sync failed",
			"detail": err.Error(),
			"result": result,
		})
	}

	return c.JSON(fiber.Map{
		"message": "sync completed",
		"result":  result,
	})
}

// GetSyncStatus reports the sender's cursor: last seen UID, state, and
// counters from the latest scan.
func (sc *SyncController) GetSyncStatus(c *fiber.Ctx) error {
	sender, err := sc.loadSender(c)
	if sender == nil {
		return err
	}

	var cursor models.SyncCursor
	if err := sc.DB.Where("sender_id = ?", sender.ID).First(&cursor).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.JSON(fiber.Map{
				"sender_id":   sender.ID,
				"sync_status": models.SyncStatusIdle,
				"synced":      false,
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to load sync status",
		})
	}

	return c.JSON(cursor)
}
