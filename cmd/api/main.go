package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"farmmarket/internal/cache"
	"farmmarket/internal/config"
	"farmmarket/internal/database"
	"farmmarket/internal/handlers"
	"farmmarket/internal/jobs"
	"farmmarket/internal/log"
	"farmmarket/internal/mail"
	"farmmarket/internal/middleware"
	"farmmarket/internal/repository"
	"farmmarket/internal/security"
	"farmmarket/internal/server"
	"farmmarket/internal/service"
	"farmmarket/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, cfg.LogLevel)
	ctx := context.Background()

	var (
		users   service.UserStore
		farmers service.FarmerStore
		dbPool  *pgxpool.Pool
		checks  []handlers.HealthCheck
	)
	switch cfg.Database.Driver {
	case config.DriverMemory:
		store := repository.NewMemoryStore(cfg.Security.MaxSessions)
		users, farmers = store, store
		logger.Warn().Msg("using in-memory store; all data is lost on restart")
	default:
		dbPool, err = database.NewPostgresPool(ctx, cfg.Postgres)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect postgres")
		}
		users = repository.NewUserRepository(dbPool, cfg.Security.MaxSessions)
		farmers = repository.NewFarmerRepository(dbPool)
		checks = append(checks, handlers.HealthCheck{Name: "database", Check: dbPool.Ping})
	}

	direct := mail.NewSender(cfg.Mail, mail.NewLogSender(logger))
	queued := direct

	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable; mail is sent inline and rate limiting is off")
		redisClient = nil
	} else {
		queued = mail.NewOutbox(redisClient, cfg.Mail.OutboxStream)
		checks = append(checks, handlers.HealthCheck{Name: "redis", Check: cache.Ping(redisClient)})
	}

	var avatars service.AvatarStore
	if cfg.Storage.Endpoint != "" {
		objectStore, err := storage.NewObjectStore(cfg.Storage)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init object store")
		}
		if err := objectStore.EnsureBucket(ctx); err != nil {
			logger.Warn().Err(err).Msg("ensure avatar bucket failed")
		}
		avatars = objectStore
	} else {
		logger.Warn().Msg("storage.endpoint not set; avatar uploads are disabled")
	}

	authService := service.NewAuthService(
		users,
		farmers,
		security.NewTokenIssuer(cfg.Security),
		service.Mailers{
			Renderer: mail.NewRenderer(cfg.Mail.FrontendURL),
			Queued:   queued,
			Direct:   direct,
		},
		cfg.Security,
		logger,
	)
	userService := service.NewUserService(users, farmers, avatars, cfg.Storage.MaxAvatarSize, logger)

	handlerSet := handlers.NewHandlerSet(handlers.Deps{
		Log:    logger,
		Config: cfg,
		Auth:   authService,
		Users:  userService,
		Limiter: func(scope string) gin.HandlerFunc {
			return middleware.RateLimit(redisClient, scope, cfg.Security.AuthRateLimit, cfg.Security.AuthRateWindow, logger)
		},
		Health: checks,
	})
	httpServer := server.NewHTTPServer(cfg, logger, handlerSet)

	scheduler := jobs.NewScheduler(userService, cfg.Jobs.PurgeSchedule, logger)
	if err := scheduler.Start(); err != nil {
		logger.Error().Err(err).Msg("scheduler start failed")
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdown(logger, httpServer, scheduler, dbPool, redisClient)
}

func waitForShutdown(logger zerolog.Logger, srv *server.HTTPServer, scheduler *jobs.Scheduler, db *pgxpool.Pool, redisClient *redis.Client) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	scheduler.Stop(shutdownCtx)

	if db != nil {
		db.Close()
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("redis close error")
		}
	}

	logger.Info().Msg("server exited cleanly")
}
