package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/acme/pbx-autodialer/internal/app"
	"github.com/acme/pbx-autodialer/internal/scheduler"
	"github.com/acme/pbx-autodialer/internal/telemetry"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	flag.Parse()

	container, err := app.Build(ctx, *configPath)
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer container.Close(context.Background())

	shutdown, err := telemetry.Setup(ctx, container.Config.Telemetry, container.Config.App.Name+"-dialer", container.Config.App.Version)
	if err != nil {
		log.Fatalf("failed to initialize telemetry: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	if err := container.EnsureTopics(ctx); err != nil {
		log.Fatalf("failed to ensure kafka topics: %v", err)
	}

	repos := container.Repositories()
	services := container.Services()
	cfg := container.Config.Scheduler

	lock := scheduler.NewRedisTickLock(container.Redis.Inner(), cfg.LockKey, cfg.LockTTL)
	svc := scheduler.New(
		repos.Campaigns,
		repos.Jobs,
		services.Job,
		lock,
		scheduler.Options{
			TickInterval:  cfg.TickInterval,
			CampaignLimit: cfg.CampaignFetchLimit,
		},
		container.Logger.Named("scheduler"),
	)

	if err := svc.Run(ctx); err != nil {
		log.Fatalf("scheduler terminated: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
