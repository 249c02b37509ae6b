package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"alarmkeeper/internal/app"
	"alarmkeeper/internal/infra/config"
	idb "alarmkeeper/internal/infra/database"
	"alarmkeeper/internal/infra/logger"
	"alarmkeeper/internal/infra/metrics"
	"alarmkeeper/internal/infra/scheduler"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatalf("Could not load application configuration: %v", err)
	}
	logger.Init(cfg)
	log := logger.Log
	log.Infof("Configuration loaded. LogLevel: %s, Environment: %s", cfg.LogLevel, cfg.Environment)

	if err := idb.RunMigrations(cfg.DatabaseURL); err != nil {
		log.Fatalf("Could not run database migrations: %v", err)
	}
	log.Info("Database schema is up to date")

	db, err := idb.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Could not connect to database: %v", err)
	}
	defer db.Close()
	log.Info("Database connection established")

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	repo := idb.NewPostgresAggregateRepository(db)
	dispatcher := app.NewLogDispatcher(logger.WithService("dispatcher"))
	matcherService := app.NewMatcherService(repo, dispatcher, logger.WithService("matcher"), collector)

	notifScheduler := scheduler.NewNotificationScheduler(
		matcherService,
		logger.WithService("scheduler"),
		cfg.MatcherCronSpec,
		cfg.ResyncCronSpec,
		cfg.ResyncBatchLimit,
	)
	if err := notifScheduler.Start(); err != nil {
		log.Fatalf("Could not start notification scheduler: %v", err)
	}

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(registry),
	}
	go func() {
		log.Infof("Metrics endpoint listening on %s", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("Metrics server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down...")
	notifScheduler.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Metrics server shutdown error: %v", err)
	}
	log.Info("Shut down gracefully")
}
