package main

import (
	"context"
	"log"

	"go.uber.org/zap"

	"github.com/andreasstove999/order-fulfillment/internal/app"
	"github.com/andreasstove999/order-fulfillment/internal/config"
	"github.com/andreasstove999/order-fulfillment/internal/db"
	"github.com/andreasstove999/order-fulfillment/internal/events"
	"github.com/andreasstove999/order-fulfillment/internal/inventory"
	"github.com/andreasstove999/order-fulfillment/internal/inventory/httpapi"
)

func main() {
	cfg := config.MustLoad[config.Inventory]()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := app.Start(ctx, events.InventoryServiceName, db.Inventory, cfg.Common)
	if err != nil {
		log.Fatalf("inventory-service: %v", err)
	}
	logger := rt.Logger

	var repo inventory.Repository = inventory.NewMemoryRepository()
	if rt.Pool != nil {
		repo = inventory.NewPostgresRepository(rt.Pool)
	}
	svc := inventory.NewService(repo, logger)

	if err := rt.Consume(ctx, events.OrderConfirmedRoutingKey, inventory.OrderConfirmedConsumer,
		inventory.OrderConfirmedHandler(svc, rt.Inbox, logger)); err != nil {
		logger.Fatal("start consumer", zap.Error(err))
	}

	rt.Serve(ctx, cancel, cfg.HTTPAddr, httpapi.NewRouter(httpapi.NewHandler(svc, logger)))
}
