package types

import (
	"context"
	"net/http"
	"time"

	"github.com/tellor-io/supplyx/pkg/collector"
	"github.com/tellor-io/supplyx/pkg/db/timeline"
	"github.com/tellor-io/supplyx/pkg/redis"
	supplytimeline "github.com/tellor-io/supplyx/pkg/timeline"
	"go.uber.org/zap"
)

type App struct {
	DB  *timeline.DB
	Svc *supplytimeline.Service
	// Collector backs the admin trigger endpoints.
	Collector *collector.Collector
	// RedisClient is optional; when nil the WebSocket feed is disabled.
	RedisClient *redis.Client
	// Zap Logger
	Logger *zap.Logger
	// Server represents the HTTP server instance used to handle incoming client requests and manage HTTP routes.
	Server *http.Server
}

// Start starts the application.
func (a *App) Start(ctx context.Context) {
	go func() { _ = a.Server.ListenAndServe() }()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.Server.Shutdown(shutdownCtx)

	a.Collector.Stop()

	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Logger.Error("Failed to close redis connection", zap.Error(err))
		}
	}
	if err := a.DB.Close(); err != nil {
		a.Logger.Error("Failed to close database connection", zap.Error(err))
	}
	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}
