package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/carebridge/scheduling-service/internal/appointment"
	"github.com/carebridge/scheduling-service/internal/config"
	"github.com/carebridge/scheduling-service/internal/db"
	"github.com/carebridge/scheduling-service/internal/directory"
	"github.com/carebridge/scheduling-service/internal/logger"
	"github.com/carebridge/scheduling-service/internal/notification"
	redisclient "github.com/carebridge/scheduling-service/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config load error: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.New(cfg.Env, cfg.LogLevel)
	log.WithFields(map[string]any{
		"env":      cfg.Env,
		"interval": cfg.SchedulerInterval.String(),
		"queue":    cfg.DispatchQueue,
	}).Info("notify-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.WithError(err).Fatal("postgres connection error")
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.WithError(err).Fatal("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.WithError(err).Warn("error closing redis")
		}
	}()
	log.Info("connected to Redis")

	notifRepo := notification.NewPgRepository(pgPool)
	apptRepo := appointment.NewPgRepository(pgPool)
	dir := directory.NewPgStore(pgPool)

	queue := redisclient.NewRedisQueue(rdb, cfg.DLQRetention, log.WithField("component", "queue"))

	scheduler := notification.NewScheduler(
		notifRepo,
		queue,
		cfg.DispatchQueue,
		cfg.SchedulerInterval,
		cfg.SchedulerBatchSize,
		cfg.RetryCooldown,
		log.WithField("component", "scheduler"),
	)

	transports := notification.Transports{}
	if cfg.SMSGatewayURL != "" {
		transports.SMS = notification.NewHTTPSMSSender(cfg.SMSGatewayURL, cfg.SMSGatewayKey)
	}
	if cfg.SMTPHost != "" {
		transports.Email = notification.NewGomailSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
	}
	transports.Push = notification.NewExpoPushSender()

	dispatcher := notification.NewDispatcher(
		notifRepo,
		dir,
		apptRepo,
		transports,
		cfg.QuietHoursDeferral,
		cfg.RetryBackoff,
		log.WithField("component", "dispatcher"),
	)

	// Scheduler passes run on a cron so a slow pass never overlaps cadence
	// drift from manual tickers.
	c := cron.New()
	every := fmt.Sprintf("@every %s", cfg.SchedulerInterval)
	if _, err := c.AddFunc(every, func() {
		runCtx, cancel := context.WithTimeout(rootCtx, cfg.SchedulerInterval)
		defer cancel()
		if err := scheduler.RunOnce(runCtx); err != nil {
			log.WithError(err).Error("scheduler pass failed")
		}
		if n, err := scheduler.SweepRetries(runCtx); err != nil {
			log.WithError(err).Error("retry sweep failed")
		} else if n > 0 {
			log.WithField("reset", n).Info("retry sweep requeued failed notifications")
		}
	}); err != nil {
		log.WithError(err).Fatal("cron registration failed")
	}
	c.Start()
	defer c.Stop()

	// Run one pass immediately so a restart does not wait a full interval.
	startCtx, cancelStart := context.WithTimeout(rootCtx, cfg.SchedulerInterval)
	if err := scheduler.RunOnce(startCtx); err != nil {
		log.WithError(err).Error("initial scheduler pass failed")
	}
	cancelStart()

	log.WithField("concurrency", cfg.DispatchConcurrency).Info("consuming dispatch queue")
	if err := queue.Consume(rootCtx, cfg.DispatchQueue, cfg.DispatchConcurrency, dispatcher.Handle); err != nil && rootCtx.Err() == nil {
		log.WithError(err).Fatal("queue consumer stopped")
	}

	log.Info("notify-worker stopped")
}
