package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/formworks-app/formworks/internal/app"
	"github.com/formworks-app/formworks/internal/auth"
	"github.com/formworks-app/formworks/internal/forms"
	"github.com/formworks-app/formworks/internal/observability"
	"github.com/formworks-app/formworks/internal/platform/cache"
	"github.com/formworks-app/formworks/internal/platform/db"
	"github.com/formworks-app/formworks/internal/privileges"
	"github.com/formworks-app/formworks/internal/shared"
	"github.com/formworks-app/formworks/internal/users"
	"github.com/formworks-app/formworks/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "formworks_session", cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	accessLog := shared.NewAccessLogger(dbpool)

	metrics := observability.NewMetrics()
	authzMetrics := observability.NewAuthzMetrics(metrics.Registerer())

	var ruleCache privileges.Cache
	switch cfg.PrivilegeCacheDriver {
	case app.CacheDriverMemory:
		ruleCache = privileges.NewMemoryCache(cfg.PrivilegeCacheSize, cfg.PrivilegeCacheTTL)
	default:
		ruleCache = privileges.NewRedisCache(redisClient, cfg.PrivilegeCacheTTL)
	}

	privilegeRepo := privileges.NewRepository(dbpool)
	resolver := privileges.NewResolver(ruleCache, privilegeRepo, logger, authzMetrics)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	notifier := jobs.NewNotifier(jobClient, logger)

	privilegeService := privileges.NewService(privileges.ServiceConfig{
		Repo:      privilegeRepo,
		Cache:     ruleCache,
		Resolver:  resolver,
		Logger:    logger,
		Metrics:   authzMetrics,
		AccessLog: accessLog,
		Notifier:  notifier,
	})
	privilegeHandler := privileges.NewHandler(logger, privilegeService)
	abilityMiddleware := privileges.Middleware{Resolver: resolver, Logger: logger}

	userRepo := users.NewRepository(dbpool)
	userService := users.NewService(userRepo, ruleCache, accessLog, logger, authzMetrics)
	userHandler := users.NewHandler(logger, userService)

	authRepo := auth.NewRepository(dbpool)
	authService := auth.NewService(authRepo)
	authHandler := auth.NewHandler(logger, authService, sessionManager, csrfManager, userService, accessLog)

	formRepo := forms.NewRepository(dbpool)
	formService := forms.NewService(formRepo, logger, authzMetrics)
	formHandler := forms.NewHandler(logger, formService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		SessionManager:    sessionManager,
		CSRFManager:       csrfManager,
		AuthHandler:       authHandler,
		PrivilegesHandler: privilegeHandler,
		UsersHandler:      userHandler,
		FormsHandler:      formHandler,
		AbilityMiddleware: abilityMiddleware,
		JobsHandler:       jobHandler,
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
