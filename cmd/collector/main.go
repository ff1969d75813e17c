package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/tellor-io/supplyx/app/collector"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	defer cancel()

	app := collector.Initialize(ctx)

	collector.NewServer(app)

	app.Start(ctx)
}
