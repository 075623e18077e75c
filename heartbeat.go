package main

import (
	"context"
	"time"

	"github.com/dmorn/m4d-automod/sdk/bot"
	"github.com/dmorn/m4d-automod/sdk/status"
	"go.uber.org/zap"
)

// runStatusReporter logs the status flags every interval until ctx is done.
// A non-positive interval disables it.
func runStatusReporter(ctx context.Context, st status.Register, lc *bot.Lifecycle, interval time.Duration, logger *zap.Logger) error {
	if interval <= 0 {
		logger.Info("status reporter disabled")
		return nil
	}
	logger.Info("status reporter started", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("status reporter stopped")
			return nil
		case <-ticker.C:
			reportStatus(st, lc, logger)
		}
	}
}

func reportStatus(st status.Register, lc *bot.Lifecycle, logger *zap.Logger) {
	snap := st.Snapshot()
	fields := []zap.Field{
		zap.Bool("connection_alive", snap.ConnectionAlive),
		zap.Bool("persistence_healthy", snap.PersistenceHealthy),
		zap.Bool("classifier_healthy", snap.ClassifierHealthy),
	}
	if lc != nil {
		fields = append(fields, zap.Stringer("state", lc.State()))
	}
	if snap.ConnectionAlive && snap.PersistenceHealthy && snap.ClassifierHealthy {
		logger.Info("status", fields...)
		return
	}
	logger.Warn("status", fields...)
}
