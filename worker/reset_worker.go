package worker

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"

	"mailpilot/utils"
)

// ResetWorker fires the daily quota reset at each local midnight.
type ResetWorker struct {
	Quota  *utils.QuotaTracker
	Logger *logrus.Logger
}

func NewResetWorker(quota *utils.QuotaTracker, logger *logrus.Logger) *ResetWorker {
	return &ResetWorker{Quota: quota, Logger: logger}
}

func (rw *ResetWorker) Start(ctx context.Context) {
	rw.Logger.Info("quota reset worker started")

	for {
		now := time.Now()
		nextMidnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())

		timer := time.NewTimer(time.Until(nextMidnight))
		select {
		case <-ctx.Done():
			timer.Stop()
			rw.Logger.Info("quota reset worker shutting down")
			return
		case <-timer.C:
		}

		if err := rw.Quota.ResetAllDaily(); err != nil {
			rw.Logger.WithError(err).Error("failed to reset daily counters")
			sentry.CaptureException(err)
		} else {
			rw.Logger.Info("daily sender counters reset")
		}
	}
}
