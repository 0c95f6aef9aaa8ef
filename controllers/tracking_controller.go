package controller

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"mailpilot/models"
)

// 1x1 transparent GIF served as the open-tracking pixel
var trackingPixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

type TrackingController struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

func NewTrackingController(db *gorm.DB, logger *logrus.Logger) *TrackingController {
	return &TrackingController{DB: db, Logger: logger}
}

// TrackOpen records the first open for a send and always answers with the
// pixel, even for unknown tracking IDs.
func (tc *TrackingController) TrackOpen(c *fiber.Ctx) error {
	trackingID := c.Params("trackingID")

	var record models.EmailLog
	if err := tc.DB.Where("tracking_id = ?", trackingID).First(&record).Error; err == nil {
		if record.OpenedAt == nil {
			now := time.Now()
			tc.DB.Model(&record).Updates(map[string]interface{}{
				"status":    models.EmailStatusOpened,
				"opened_at": now,
			})
			if record.CampaignID != nil {
				tc.DB.Model(&models.Campaign{}).
					Where("id = ?", *record.CampaignID).
					Update("open_count", gorm.Expr("open_count + ?", 1))
			}
		}
	}

	c.Set("Content-Type", "image/gif")
	c.Set("Cache-Control", "no-store, no-cache, must-revalidate")
	return c.Send(trackingPixel)
}

// TrackClick records the first click for a send and redirects to the
// original link.
func (tc *TrackingController) TrackClick(c *fiber.Ctx) error {
	trackingID := c.Params("trackingID")
	target := c.Query("url")
	if target == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "missing redirect url",
		})
	}

	var record models.EmailLog
	if err := tc.DB.Where("tracking_id = ?", trackingID).First(&record).Error; err == nil {
		if record.ClickedAt == nil {
			now := time.Now()
			tc.DB.Model(&record).Updates(map[string]interface{}{
				"status":     models.EmailStatusClicked,
				"clicked_at": now,
			})
			if record.CampaignID != nil {
				tc.DB.Model(&models.Campaign{}).
					Where("id = ?", *record.CampaignID).
					Update("click_count", gorm.Expr("click_count + ?", 1))
			}
		}
	}

	return c.Redirect(target, fiber.StatusFound)
}
