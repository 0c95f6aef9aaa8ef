package controller

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"mailpilot/models"
)

type CampaignController struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

func NewCampaignController(db *gorm.DB, logger *logrus.Logger) *CampaignController {
	return &CampaignController{DB: db, Logger: logger}
}

func (cc *CampaignController) loadCampaign(c *fiber.Ctx) (*models.Campaign, error) {
	campaignID, err := c.ParamsInt("id")
	if err != nil {
		return nil, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid campaign ID",
		})
	}

	var campaign models.Campaign
	if err := cc.DB.First(&campaign, campaignID).Error; err != nil {
		return nil, c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "campaign not found",
		})
	}
	return &campaign, nil
}

// StartCampaign activates a campaign so the next scheduling pass picks
// it up. A campaign without sequence steps or senders cannot start.
func (cc *CampaignController) StartCampaign(c *fiber.Ctx) error {
	campaign, err := cc.loadCampaign(c)
	if campaign == nil {
		return err
	}

	if campaign.Status == models.CampaignStatusActive {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "campaign is already running",
		})
	}

	var stepCount, senderCount int64
	cc.DB.Model(&models.SequenceStep{}).Where("campaign_id = ? AND is_active = ?", campaign.ID, true).Count(&stepCount)
	cc.DB.Model(&models.CampaignSender{}).Where("campaign_id = ?", campaign.ID).Count(&senderCount)
	if stepCount == 0 || senderCount == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "campaign needs at least one active step and one sender",
		})
	}

	updates := map[string]interface{}{"status": models.CampaignStatusActive}
	if campaign.StartedAt == nil {
		updates["started_at"] = time.Now()
	}
	if err := cc.DB.Model(campaign).Updates(updates).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to start campaign",
		})
	}

	cc.Logger.WithField("campaign_id", campaign.ID).Info("campaign started")
	return c.JSON(fiber.Map{"message": "campaign started"})
}

// PauseCampaign suspends scheduling. Intents already deferred re-check
// the status right before transport and abort on their own.
func (cc *CampaignController) PauseCampaign(c *fiber.Ctx) error {
	campaign, err := cc.loadCampaign(c)
	if campaign == nil {
		return err
	}

	if campaign.Status != models.CampaignStatusActive {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "campaign is not running",
		})
	}

	if err := cc.DB.Model(campaign).Update("status", models.CampaignStatusPaused).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to pause campaign",
		})
	}

	cc.Logger.WithField("campaign_id", campaign.ID).Info("campaign paused")
	return c.JSON(fiber.Map{"message": "campaign paused"})
}

// StopCampaign ends a campaign for good.
func (cc *CampaignController) StopCampaign(c *fiber.Ctx) error {
	campaign, err := cc.loadCampaign(c)
	if campaign == nil {
		return err
	}

	if campaign.Status == models.CampaignStatusCompleted || campaign.Status == models.CampaignStatusStopped {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "campaign already finished",
		})
	}

	if err := cc.DB.Model(campaign).Updates(map[string]interface{}{
		"status":       models.CampaignStatusStopped,
		"completed_at": time.Now(),
	}).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to stop campaign",
		})
	}

	cc.Logger.WithField("campaign_id", campaign.ID).Info("campaign stopped")
	return c.JSON(fiber.Map{"message": "campaign stopped"})
}

// GetCampaignStats returns the current counter snapshot.
func (cc *CampaignController) GetCampaignStats(c *fiber.Ctx) error {
	campaign, err := cc.loadCampaign(c)
	if campaign == nil {
		return err
	}
	return c.JSON(campaign.Stats())
}

// LiveStats streams the stats snapshot over a websocket every few
// seconds until the campaign leaves the active state or the client
// disconnects.
func (cc *CampaignController) LiveStats() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		defer conn.Close()

		campaignID := conn.Params("id")

		ticker := time.NewTicker(3 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			var campaign models.Campaign
			if err := cc.DB.First(&campaign, campaignID).Error; err != nil {
				return
			}
			if err := conn.WriteJSON(campaign.Stats()); err != nil {
				return
			}
			if campaign.Status != models.CampaignStatusActive {
				return
			}
		}
	})
}
