package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-iam/internal/app"
	"github.com/odyssey-erp/odyssey-iam/internal/auth"
	jobmetrics "github.com/odyssey-erp/odyssey-iam/internal/jobs"
	"github.com/odyssey-erp/odyssey-iam/internal/platform/db"
	"github.com/odyssey-erp/odyssey-iam/internal/users"
	"github.com/odyssey-erp/odyssey-iam/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	userService := users.NewService(users.NewRepository(pool), users.WithLogger(logger))
	authService := auth.NewService(userService, auth.NewRepository(pool), auth.WithLogger(logger))
	pruneJob := jobs.NewPruneJob(authService, logger, jobmetrics.NewMetrics(nil))

	tokensTask, err := jobs.NewPruneTokensTask(cfg.TokenRetention)
	if err != nil {
		logger.Error("build prune tokens task", slog.Any("error", err))
		os.Exit(1)
	}
	loginsTask, err := jobs.NewPruneLoginsTask(cfg.LoginRetention)
	if err != nil {
		logger.Error("build prune logins task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskPruneTokens, Handler: pruneJob.HandleTokens},
			{Type: jobs.TaskPruneLogins, Handler: pruneJob.HandleLogins},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 * * * *", Task: tokensTask},
			{Spec: "30 3 * * *", Task: loginsTask},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
