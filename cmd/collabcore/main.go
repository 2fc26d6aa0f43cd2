package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"collabcore/internal/auth"
	"collabcore/internal/content"
	"collabcore/internal/platform/telemetry"
	"collabcore/internal/server"
	"collabcore/pkg/config"
	"collabcore/pkg/logging"
)

func main() {
	bootLogger := logging.New("info", "text")

	cfg, err := config.Load(bootLogger, "config")
	if err != nil {
		bootLogger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := logging.New(cfg.Logger.Level, cfg.Logger.Format)
	slog.SetDefault(logger)

	for _, name := range cfg.Permissions {
		if err := auth.RegisterPermission(name); err != nil {
			logger.Error("failed to register permission", slog.String("name", name), slog.Any("error", err))
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Init(ctx, "collabcore", cfg.Telemetry.Endpoint)
		if err != nil {
			logger.Error("failed to initialize telemetry", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(flushCtx); err != nil {
				logger.Warn("telemetry shutdown failed", slog.Any("error", err))
			}
		}()
	}

	var contents content.Store = content.Static{}
	if cfg.Content.RedisURL != "" {
		rdb, err := content.NewRedisClient(ctx, cfg.Content)
		if err != nil {
			logger.Error("failed to connect to content store", slog.Any("error", err))
			os.Exit(1)
		}
		defer rdb.Close()
		contents = content.NewRedisStore(rdb, cfg.Content.KeyPrefix)
		logger.Info("content store lookups enabled")
	}

	app := server.NewApp(logger, ctx, cfg, contents)
	if err := app.Run(); err != nil {
		logger.Error("application run failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("application shut down successfully.")
}
