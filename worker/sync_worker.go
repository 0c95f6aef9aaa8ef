package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"mailpilot/models"
	"mailpilot/utils"
)

// SyncWorker periodically scans the inbox of every IMAP-configured
// sender. Accounts are synced concurrently up to Concurrency; the cursor
// guard rejects overlapping scans of the same account.
type SyncWorker struct {
	DB           *gorm.DB
	Synchronizer *utils.InboxSynchronizer
	Logger       *logrus.Logger
	Interval     time.Duration
	Concurrency  int
}

func NewSyncWorker(db *gorm.DB, synchronizer *utils.InboxSynchronizer, logger *logrus.Logger, interval time.Duration, concurrency int) *SyncWorker {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &SyncWorker{
		DB:           db,
		Synchronizer: synchronizer,
		Logger:       logger,
		Interval:     interval,
		Concurrency:  concurrency,
	}
}

func (sw *SyncWorker) Start(ctx context.Context) {
	sw.Logger.Info("inbox sync worker started")

	ticker := time.NewTicker(sw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sw.Logger.Info("inbox sync worker shutting down")
			return
		case <-ticker.C:
			sw.syncAllSenders(ctx)
		}
	}
}

func (sw *SyncWorker) syncAllSenders(ctx context.Context) {
	var senders []models.Sender
	if err := sw.DB.
		Where("imap_host IS NOT NULL AND imap_host <> '' AND is_active = ?", true).
		Find(&senders).Error; err != nil {
		sw.Logger.WithError(err).Error("failed to fetch senders for sync")
		return
	}

	sem := make(chan struct{}, sw.Concurrency)
	var wg sync.WaitGroup

	for i := range senders {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(sender models.Sender) {
			defer wg.Done()
			defer func() { <-sem }()
			sw.syncSender(&sender)
		}(senders[i])
	}

	wg.Wait()
}

func (sw *SyncWorker) syncSender(sender *models.Sender) {
	result, err := sw.Synchronizer.Sync(sender)
	if errors.Is(err, utils.ErrSyncInProgress) {
		sw.Logger.WithField("sender_id", sender.ID).Debug("sync already running, skipped")
		return
	}
	if err != nil {
		// Partial progress is preserved in the cursor; the next trigger
		// resumes from there.
		sw.Logger.WithError(err).WithField("sender_id", sender.ID).Error("inbox sync failed")
		sentry.CaptureException(err)
		return
	}

	if result.Processed > 0 {
		sw.Logger.WithFields(logrus.Fields{
			"sender_id": sender.ID,
			"processed": result.Processed,
			"replies":   result.RepliesFound,
			"bounces":   result.BouncesFound,
		}).Info("inbox sync completed")
	}
}
