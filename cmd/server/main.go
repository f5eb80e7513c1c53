package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/freshcart/push-engine/internal/breaker"
	"github.com/freshcart/push-engine/internal/config"
	"github.com/freshcart/push-engine/internal/delivery"
	"github.com/freshcart/push-engine/internal/logger"
	"github.com/freshcart/push-engine/internal/scheduler"
	"github.com/freshcart/push-engine/internal/server"
	"github.com/freshcart/push-engine/internal/storage/pg"
	"github.com/freshcart/push-engine/internal/webpush"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	cfg := config.LoadConfig()

	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))

	// Set Gin mode
	log.Info("setting Gin mode", "mode", cfg.GinMode)
	gin.SetMode(cfg.GinMode)

	// Initialize database.
	db, err := pg.InitDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}

	// Metrics registry.
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// VAPID application identity.
	signer, err := webpush.NewSigner(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.VAPIDSubject)
	if err != nil {
		log.Error("failed to initialize VAPID signer", "error", err)
		os.Exit(1)
	}

	// Circuit breaker registry, shared by everything making outbound calls.
	breakers := breaker.NewRegistry(breaker.Settings{
		FailureThreshold: cfg.BreakerFailureThreshold,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		RecoveryTimeout:  cfg.BreakerRecoveryTimeout,
		CallTimeout:      cfg.BreakerCallTimeout,
	}, log, promRegistry)

	// Initialize services
	pushClient := webpush.NewClient(cfg.PushTTLSeconds, time.Duration(cfg.PushTimeoutSeconds)*time.Second)
	resolver := delivery.NewResolver(db.Store, db.Store, log)
	orchestrator := delivery.NewOrchestrator(resolver, db.Store, signer, pushClient, breakers, log, promRegistry)
	sched := scheduler.New(db.Store, orchestrator, scheduler.Config{
		ReminderWindow:    time.Duration(cfg.ReminderWindowMinutes) * time.Minute,
		ProfitSummaryHour: cfg.ProfitSummaryHour,
	}, log)

	// Initialize handlers
	handler := server.NewHandler(orchestrator, sched, db.Store, breakers, log)
	router := server.NewRouter(cfg, handler, promRegistry)

	// Optional in-process tick; deployments with an external cron hit
	// /scheduler/run instead.
	var runner *scheduler.Runner
	if cfg.SchedulerEnabled {
		runner, err = scheduler.NewRunner(sched, cfg.SchedulerInterval, log)
		if err != nil {
			log.Error("failed to initialize scheduler runner", "error", err)
			os.Exit(1)
		}
		runner.Start()
		log.Info("scheduler runner started", "interval", cfg.SchedulerInterval)
	} else {
		log.Info("in-process scheduler disabled, expecting external trigger")
	}

	port := ":" + cfg.Port
	srv := &http.Server{
		Addr:    port,
		Handler: router,
	}

	go func() {
		log.Info("push engine listening on " + port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server...")

	if runner != nil {
		runner.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerShutdownTimeoutSeconds)*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	if err := db.DB.Close(); err != nil {
		log.Error("failed to close database", "error", err)
	}

	log.Info("server exited")
}
