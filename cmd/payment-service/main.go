package main

import (
	"context"
	"log"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/andreasstove999/order-fulfillment/internal/app"
	"github.com/andreasstove999/order-fulfillment/internal/config"
	"github.com/andreasstove999/order-fulfillment/internal/db"
	"github.com/andreasstove999/order-fulfillment/internal/events"
	"github.com/andreasstove999/order-fulfillment/internal/payment"
	"github.com/andreasstove999/order-fulfillment/internal/payment/httpapi"
)

func main() {
	cfg := config.MustLoad[config.Payment]()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := app.Start(ctx, events.PaymentServiceName, db.Payment, cfg.Common)
	if err != nil {
		log.Fatalf("payment-service: %v", err)
	}
	logger := rt.Logger

	var repo payment.Repository = payment.NewMemoryRepository()
	if rt.Pool != nil {
		repo = payment.NewPostgresRepository(rt.Pool)
	}

	// Without Redis the idempotency lock only covers this instance.
	var locker payment.Locker = payment.NewMemoryLocker()
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		defer client.Close()
		locker = payment.NewRedisLocker(client, cfg.IdempotencyLockTTL)
	}

	gateway := payment.NewMockGateway(cfg.SettlementLatency, cfg.SettlementDeclineRate)
	svc := payment.NewService(repo, gateway, locker, rt.Publisher(), logger)

	if err := rt.Consume(ctx, events.OrderCanceledRoutingKey, payment.OrderCanceledConsumer,
		payment.OrderCanceledHandler(svc, logger)); err != nil {
		logger.Fatal("start consumer", zap.Error(err))
	}

	rt.Serve(ctx, cancel, cfg.HTTPAddr, httpapi.NewRouter(httpapi.NewHandler(svc, logger)))
}
