package types

import (
	"context"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/tellor-io/supplyx/pkg/collector"
	"github.com/tellor-io/supplyx/pkg/db/timeline"
	"github.com/tellor-io/supplyx/pkg/redis"
	"go.uber.org/zap"
)

type App struct {
	DB        *timeline.DB
	Collector *collector.Collector
	// RedisClient is optional; when nil events and cross-process locks are disabled.
	RedisClient *redis.Client
	Cron        *cron.Cron
	// Zap Logger
	Logger *zap.Logger
	// Server exposes the health endpoint.
	Server *http.Server
}

// Start starts the scheduler and the health server, then blocks until the
// context is cancelled.
func (a *App) Start(ctx context.Context) {
	a.Cron.Start()
	go func() { _ = a.Server.ListenAndServe() }()
	<-ctx.Done()

	stopCtx := a.Cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		a.Logger.Warn("Timed out waiting for running jobs")
	}

	a.Collector.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.Server.Shutdown(shutdownCtx)

	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Logger.Error("Failed to close redis connection", zap.Error(err))
		}
	}
	if err := a.DB.Close(); err != nil {
		a.Logger.Error("Failed to close database connection", zap.Error(err))
	}
	a.Logger.Info("さようなら!")
}
