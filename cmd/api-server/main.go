package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carebridge/scheduling-service/internal/api"
	"github.com/carebridge/scheduling-service/internal/appointment"
	"github.com/carebridge/scheduling-service/internal/audit"
	"github.com/carebridge/scheduling-service/internal/config"
	"github.com/carebridge/scheduling-service/internal/db"
	"github.com/carebridge/scheduling-service/internal/directory"
	"github.com/carebridge/scheduling-service/internal/logger"
	"github.com/carebridge/scheduling-service/internal/notification"
	redisclient "github.com/carebridge/scheduling-service/internal/redis"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config load error: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.New(cfg.Env, cfg.LogLevel)
	log.WithFields(map[string]any{
		"env":       cfg.Env,
		"http_port": cfg.HTTPPort,
		"version":   version,
	}).Info("api-server starting up")

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

	dir := directory.NewPgStore(pgPool)
	auditor := audit.NewPgRecorder(pgPool, log.WithField("component", "audit"))

	notifRepo := notification.NewPgRepository(pgPool)
	notifSvc := notification.NewService(notifRepo, dir, cfg.ReminderOffsets, log.WithField("component", "notifications"))

	apptRepo := appointment.NewPgRepository(pgPool)
	locker := redisclient.NewRedisProviderLocker(rdb, cfg.LockTTL)
	apptSvc := appointment.NewService(apptRepo, locker, notifSvc, auditor, log.WithField("component", "appointments"))
	slots := appointment.NewSlotFinder(apptRepo)

	router := api.NewRouter(api.RouterConfig{
		Appointments:  apptSvc,
		Slots:         slots,
		Notifications: notifSvc,
		PgPool:        pgPool,
		Redis:         rdb,
		Log:           log,
		Env:           cfg.Env,
		Version:       version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("http server listening")
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case <-rootCtx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown incomplete")
	}

	log.Info("api-server stopped")
}
