package main

import (
	"context"
	"log"
	"net/http"

	"go.uber.org/zap"

	"github.com/andreasstove999/order-fulfillment/internal/app"
	"github.com/andreasstove999/order-fulfillment/internal/clients"
	"github.com/andreasstove999/order-fulfillment/internal/config"
	"github.com/andreasstove999/order-fulfillment/internal/db"
	"github.com/andreasstove999/order-fulfillment/internal/events"
	"github.com/andreasstove999/order-fulfillment/internal/order"
	"github.com/andreasstove999/order-fulfillment/internal/order/httpapi"
	"github.com/andreasstove999/order-fulfillment/internal/resilience"
)

func main() {
	cfg := config.MustLoad[config.Order]()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := app.Start(ctx, events.OrderServiceName, db.Order, cfg.Common)
	if err != nil {
		log.Fatalf("order-service: %v", err)
	}
	logger := rt.Logger

	var repo order.Repository = order.NewMemoryRepository()
	if rt.Pool != nil {
		repo = order.NewPostgresRepository(rt.Pool)
	}

	// CallTimeout in the policy bounds each attempt; the client itself has no timeout.
	httpClient := &http.Client{}
	invBase, err := clients.NewClient("inventory", cfg.InventoryURL, httpClient)
	if err != nil {
		logger.Fatal("inventory client", zap.Error(err))
	}
	payBase, err := clients.NewClient("payment", cfg.PaymentURL, httpClient)
	if err != nil {
		logger.Fatal("payment client", zap.Error(err))
	}

	policyCfg := resilience.Config{
		MaxAttempts:      cfg.Resilience.MaxAttempts,
		InitialBackoff:   cfg.Resilience.InitialBackoff,
		MaxBackoff:       cfg.Resilience.MaxBackoff,
		CallTimeout:      cfg.Resilience.CallTimeout,
		FailureThreshold: cfg.Resilience.FailureThreshold,
		OpenTimeout:      cfg.Resilience.OpenTimeout,
		HalfOpenRequests: cfg.Resilience.HalfOpenRequests,
	}
	orch := order.NewOrchestrator(
		repo,
		clients.NewInventoryClient(invBase, resilience.NewPolicy("inventory", policyCfg, logger)),
		clients.NewPaymentClient(payBase, resilience.NewPolicy("payment", policyCfg, logger)),
		rt.Publisher(),
		order.Options{RollbackOnReserveFailure: cfg.RollbackOnReserveFailure},
		logger,
	)

	if err := rt.Consume(ctx, events.PaymentProcessedRoutingKey, order.PaymentProcessedConsumer,
		order.PaymentProcessedHandler(orch)); err != nil {
		logger.Fatal("start consumer", zap.Error(err))
	}
	if err := rt.Consume(ctx, events.PaymentRefundedRoutingKey, order.PaymentRefundedConsumer,
		order.PaymentRefundedHandler(orch)); err != nil {
		logger.Fatal("start consumer", zap.Error(err))
	}

	go order.NewRecoveryWorker(repo, orch, cfg.RecoveryInterval, cfg.StallAfter, logger).Run(ctx)

	rt.Serve(ctx, cancel, cfg.HTTPAddr, httpapi.NewRouter(httpapi.NewOrderHandler(orch, logger)))
}
