package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/saulo-duarte/cbt-engine/internal/config"
	"github.com/saulo-duarte/cbt-engine/internal/container"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := container.New(ctx)
	if err != nil {
		config.Logger.WithError(err).Fatal("Failed to initialize container")
	}

	scheduler, err := c.Sweeper.Start(ctx, c.Config.RecoverySchedule)
	if err != nil {
		config.Logger.WithError(err).Fatal("Failed to start recovery sweep")
	}

	if err := c.Pool().Run(ctx); err != nil {
		config.Logger.WithError(err).Error("Worker pool stopped with error")
	}

	<-scheduler.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := c.Close(shutdownCtx); err != nil {
		config.Logger.WithError(err).Error("Container shutdown")
	}
}
