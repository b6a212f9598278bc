package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/alexdental/case-coordinator/internal/api"
	"github.com/alexdental/case-coordinator/internal/config"
	"github.com/alexdental/case-coordinator/internal/db"
	"github.com/alexdental/case-coordinator/internal/dentalcase"
	"github.com/alexdental/case-coordinator/internal/logger"
	redisclient "github.com/alexdental/case-coordinator/internal/redis"
	"github.com/alexdental/case-coordinator/internal/session"
	"github.com/alexdental/case-coordinator/internal/telegram"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config load error", zap.Error(err))
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat, "api-server")
	if err != nil {
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("claim_mode", string(cfg.ClaimMode)),
		zap.Bool("require_admin_approval", cfg.RequireAdminApproval))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, db.PoolSettings{
		DSN:      cfg.PostgresDSN,
		MaxConns: cfg.PgMaxConns,
		MinConns: cfg.PgMinConns,
	})
	cancelPg()
	if err != nil {
		log.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()

	schemaCtx, cancelSchema := context.WithTimeout(rootCtx, 10*time.Second)
	err = db.EnsureSchema(schemaCtx, pgPool)
	cancelSchema()
	if err != nil {
		log.Fatal("schema bootstrap error", zap.Error(err))
	}
	log.Info("connected to Postgres")

	redisCtx, cancelRedis := context.WithTimeout(rootCtx, 10*time.Second)
	rdb, err := redisclient.New(redisCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		PoolSize: cfg.RedisPoolSize,
	})
	cancelRedis()
	if err != nil {
		log.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn("error closing redis", zap.Error(err))
		}
	}()
	log.Info("connected to Redis")

	var (
		notifier  dentalcase.Notifier
		callbacks api.CallbackAnswerer
	)
	if cfg.TelegramToken != "" {
		tg := telegram.NewClient(cfg.TelegramToken, cfg.TelegramGroupID, log.Named("telegram"))
		notifier = tg
		callbacks = tg
		log.Info("telegram bot enabled", zap.Int64("group_id", cfg.TelegramGroupID))
	} else {
		notifier = dentalcase.DisabledNotifier{}
		log.Warn("TELEGRAM_TOKEN not set; broadcasts and private delivery are disabled")
	}

	repo := dentalcase.NewPgRepository(pgPool)
	svc := dentalcase.NewService(repo, notifier, cfg, log.Named("coordinator"))
	sessions := session.NewStore(rdb, cfg.SessionTTL)

	handler := api.NewRouter(api.RouterConfig{
		Service:   svc,
		Sessions:  sessions,
		Callbacks: callbacks,
		Cfg:       cfg,
		PgPool:    pgPool,
		Redis:     rdb,
		Log:       log.Named("http"),
		Version:   version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server error", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	log.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}
