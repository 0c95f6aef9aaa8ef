package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"

	controller "mailpilot/controllers"
	"mailpilot/middleware"
)

// Controllers bundles the handler sets the router wires up.
type Controllers struct {
	Campaign *controller.CampaignController
	Sync     *controller.SyncController
	Unibox   *controller.UniboxController
	Tracking *controller.TrackingController
}

func SetupRoutes(app *fiber.App, ctrl Controllers) {
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Tracking endpoints stay outside /api/v1; their URLs land in sent
	// emails and must never change shape.
	app.Get("/track/open/:trackingID", ctrl.Tracking.TrackOpen)
	app.Get("/track/click/:trackingID", ctrl.Tracking.TrackClick)

	api := app.Group("/api/v1", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	campaigns := api.Group("/campaigns")
	campaigns.Post("/:id/start", ctrl.Campaign.StartCampaign)
	campaigns.Post("/:id/pause", ctrl.Campaign.PauseCampaign)
	campaigns.Post("/:id/stop", ctrl.Campaign.StopCampaign)
	campaigns.Get("/:id/stats", ctrl.Campaign.GetCampaignStats)

	// Websocket upgrade guard, then the live stats stream
	campaigns.Use("/:id/stats/live", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	campaigns.Get("/:id/stats/live", ctrl.Campaign.LiveStats())

	senders := api.Group("/senders")
	senders.Post("/:id/sync", middleware.ManualSyncLimiter(), ctrl.Sync.TriggerSync)
	senders.Get("/:id/sync", ctrl.Sync.GetSyncStatus)

	unibox := api.Group("/unibox")
	unibox.Get("/", ctrl.Unibox.ListInbox)
	unibox.Post("/:id/reply", ctrl.Unibox.SendReply)
}
