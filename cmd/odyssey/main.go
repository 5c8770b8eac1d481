package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-iam/internal/app"
	"github.com/odyssey-erp/odyssey-iam/internal/auth"
	"github.com/odyssey-erp/odyssey-iam/internal/observability"
	"github.com/odyssey-erp/odyssey-iam/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-iam/internal/platform/db"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/roles"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/users"
	"github.com/odyssey-erp/odyssey-iam/jobs"
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
	slog.SetDefault(logger)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()
	if err := db.EnsureSchema(ctx, dbpool); err != nil {
		logger.Error("ensure schema", slog.Any("error", err))
		os.Exit(1)
	}

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

	metrics := observability.NewMetrics()
	sessionManager := shared.NewSessionManager(redisClient, "odyssey_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	permCache := rbac.NewPermissionCache(
		rbac.WithRedis(redisClient, cfg.RBACCacheChannel),
		rbac.WithObserver(metrics),
		rbac.WithCacheLogger(logger),
	)
	registry := rbac.NewRegistry(
		rbac.WithStore(rbac.NewStore(dbpool)),
		rbac.WithCache(permCache),
		rbac.WithLogger(logger),
	)
	if err := registry.Load(ctx); err != nil {
		logger.Error("load rbac registry", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.RBACPolicyFile != "" {
		err = registry.LoadPolicyFile(ctx, cfg.RBACPolicyFile)
	} else if len(registry.ListRoles()) == 0 {
		err = registry.ApplyPolicy(ctx, rbac.CorePolicy())
	}
	if err != nil {
		logger.Error("apply rbac policy", slog.Any("error", err))
		os.Exit(1)
	}
	if err := registry.ListenForInvalidation(ctx); err != nil {
		logger.Warn("rbac invalidation listener", slog.Any("error", err))
	}
	rbacMiddleware := rbac.Middleware{Registry: registry, Logger: logger}

	userService := users.NewService(users.NewRepository(dbpool), users.WithRoleChecker(registry), users.WithLogger(logger))
	authService := auth.NewService(userService, auth.NewRepository(dbpool),
		auth.WithLogger(logger),
		auth.WithTokenTTL(cfg.AuthTokenTTL),
		auth.WithDefaultRole(cfg.DefaultSignupRole),
		auth.WithObserver(metrics),
	)
	userService.SetTokenRevoker(authService)
	roleService := roles.NewService(registry, userService, logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("close inspector", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     sessionManager,
		CSRFManager:        csrfManager,
		AuthMiddleware:     auth.NewMiddleware(authService, logger),
		AuthHandler:        auth.NewHandler(logger, authService, sessionManager, csrfManager, registry),
		UsersHandler:       users.NewHandler(logger, userService, rbacMiddleware),
		RolesHandler:       roles.NewHandler(logger, roleService, rbacMiddleware),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, registry, rbacMiddleware),
		JobHandler:         jobs.NewHandler(inspector, logger),
		RBACMiddleware:     rbacMiddleware,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("http server starting", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", slog.Any("error", err))
	}
	logger.Info("http server stopped")
}
