package ingestion

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/vitalwatch/platform/pkg/common/logger"
)

// StartMaintenance schedules the status log housekeeping: expired rows are
// deleted hourly and the backlog gauge is refreshed every minute.
func StartMaintenance(ctx context.Context, svc *Service) (*gocron.Scheduler, error) {
	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.SingletonModeAll()

	if _, err := scheduler.Every(1).Hour().Do(func() {
		if err := svc.Cleanup(ctx); err != nil {
			logger.Log.WithError(err).Error("Failed to clean up uplink status")
			return
		}
		logger.Log.Debug("Uplink status cleanup finished")
	}); err != nil {
		return nil, err
	}

	if _, err := scheduler.Every(1).Minute().Do(func() {
		if err := svc.RefreshBacklog(ctx); err != nil {
			logger.Log.WithError(err).Warn("Failed to refresh uplink backlog")
		}
	}); err != nil {
		return nil, err
	}

	scheduler.StartAsync()
	logger.Log.Info("Uplink maintenance jobs started")
	return scheduler, nil
}
