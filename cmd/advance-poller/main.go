// Package main запускает внешний планировщик продвижения статусов заказов.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/mmeshcher/bagstore/internal/config"
	"github.com/mmeshcher/bagstore/internal/middleware"
	"github.com/mmeshcher/bagstore/internal/poller"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.ParsePoller()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	token := middleware.SignToken([]byte(cfg.AuthSecret), cfg.UserID)
	client := poller.NewClient(cfg.StorefrontAddress, token)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sugar.Infow("starting advance poller", "storefront", cfg.StorefrontAddress, "interval", cfg.PollInterval)
	poller.New(client, cfg.PollInterval, logger).Run(ctx)
	sugar.Info("advance poller stopped")
}
