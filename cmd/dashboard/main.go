// v1
// cmd/dashboard/main.go
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"homemon/internal/config"
	"homemon/internal/dashboard"
)

func main() {
	bootstrap := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.LoadDashboard()
	if err != nil {
		bootstrap.Error("config_load_failed", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := dashboard.New(ctx, cfg)
	if err != nil {
		bootstrap.Error("app_init_failed", slog.Any("err", err))
		os.Exit(1)
	}

	logger := application.Logger()
	logger.Info("service_boot",
		slog.String("listen_address", cfg.ListenAddress),
		slog.String("log_path", cfg.LogFilePath),
		slog.String("properties_path", cfg.PropertiesPath),
		slog.String("store_driver", cfg.StoreDriver),
		slog.String("node_url", cfg.NodeURL),
		slog.Duration("stale_after", cfg.StaleAfter),
		slog.String("kafka_brokers", strings.Join(cfg.KafkaBrokers, ",")),
	)

	runErr := application.Run(ctx)
	if cerr := application.Close(); cerr != nil {
		bootstrap.Error("app_close_failed", slog.Any("err", cerr))
	}
	if runErr != nil {
		bootstrap.Error("service_terminated", slog.Any("err", runErr))
		os.Exit(1)
	}
	bootstrap.Info("service_stopped")
}
