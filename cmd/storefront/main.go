// Package main запускает HTTP-сервер сервиса заказов магазина сумок.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/bagstore/internal/config"
	"github.com/mmeshcher/bagstore/internal/events"
	"github.com/mmeshcher/bagstore/internal/handler"
	"github.com/mmeshcher/bagstore/internal/middleware"
	"github.com/mmeshcher/bagstore/internal/repository"
	"github.com/mmeshcher/bagstore/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kp, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		if err != nil {
			sugar.Fatalw("kafka initialization error", "error", err.Error())
		}
		publisher = kp
		sugar.Infow("publishing order events", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	svc := service.NewService(repo, publisher, logger, cfg.Policy())
	defer svc.Close()

	var idem middleware.IdempotencyStore = middleware.NewMemoryIdempotencyStore()
	if cfg.RedisAddress != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress})
		defer rdb.Close()
		idem = middleware.NewRedisIdempotencyStore(rdb, "storefront:idempotency")
		sugar.Infow("using redis idempotency store", "addr", cfg.RedisAddress)
	}

	if cfg.AuthSecret == "" {
		sugar.Warn("AUTH_SECRET is empty, tokens will not survive a restart")
	}
	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware, idem)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Встроенный планировщик; при нулевом интервале статусы продвигает внешний опрос.
	g.Go(func() error {
		svc.StartStatusAdvance(ctx, cfg.AdvanceInterval)
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting storefront server", "addr", cfg.RunAddress,
			"ship_after", cfg.ShipAfter, "deliver_after", cfg.DeliverAfter)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
