//go:build integration

package integration

import (
	"context"

	"go.uber.org/zap"

	"github.com/andreasstove999/order-fulfillment/internal/events"
)

func nopLogger() *zap.Logger { return zap.NewNop() }

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, string, events.Meta, any) error { return nil }
