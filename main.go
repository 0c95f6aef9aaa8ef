package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"mailpilot/config"
	controller "mailpilot/controllers"
	"mailpilot/middleware"
	"mailpilot/routes"
	"mailpilot/utils"
	"mailpilot/worker"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Warnf("Failed to initialize sentry: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	db := config.DB

	// Engine components
	quota := utils.NewQuotaTracker(db)
	queue := utils.NewIntentQueue(8, logger)
	mailer := utils.NewSMTPMailer()
	dispatcher := utils.NewDispatcher(db, quota, mailer, queue, logger)
	dispatcher.TrackingBaseURL = config.AppConfig.TrackingBaseURL

	campaignScheduler := utils.NewCampaignScheduler(db, quota, logger)
	warmupScheduler := utils.NewWarmupScheduler(db, quota, logger)
	synchronizer := utils.NewInboxSynchronizer(db, utils.NewIMAPReader(), logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	run := func(f func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f(ctx)
		}()
	}

	run(func(ctx context.Context) { queue.Run(ctx, dispatcher.HandleIntent) })
	run(worker.NewCampaignWorker(db, campaignScheduler, dispatcher, logger, config.AppConfig.CampaignInterval).Start)
	run(worker.NewWarmupWorker(db, warmupScheduler, dispatcher, logger, config.AppConfig.WarmupInterval).Start)
	run(worker.NewSyncWorker(db, synchronizer, logger, config.AppConfig.SyncInterval, config.AppConfig.SyncConcurrency).Start)
	run(worker.NewResetWorker(quota, logger).Start)

	app := fiber.New(fiber.Config{
		AppName: "mailpilot",
	})
	app.Use(middleware.CORS())

	routes.SetupRoutes(app, routes.Controllers{
		Campaign: controller.NewCampaignController(db, logger),
		Sync:     controller.NewSyncController(db, synchronizer, logger),
		Unibox:   controller.NewUniboxController(db, dispatcher, logger),
		Tracking: controller.NewTrackingController(db, logger),
	})

	go func() {
		logger.Infof("Server starting on port %s", config.AppConfig.ServerPort)
		if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
			logger.Errorf("Server stopped: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	}

	// Workers observe ctx cancellation; the queue releases pending
	// reservations on its way out.
	wg.Wait()
	logger.Info("Shutdown complete")
}
