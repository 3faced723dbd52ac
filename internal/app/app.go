// Package app holds the process wiring every service binary shares: logging,
// tracing, optional Postgres, the event relay and graceful HTTP shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/andreasstove999/order-fulfillment/internal/config"
	"github.com/andreasstove999/order-fulfillment/internal/db"
	"github.com/andreasstove999/order-fulfillment/internal/events"
	"github.com/andreasstove999/order-fulfillment/internal/logging"
	"github.com/andreasstove999/order-fulfillment/internal/telemetry"
)

// Runtime is what a service needs besides its own domain types. Pool is nil
// when no DATABASE_DSN is configured; callers then fall back to memory stores.
type Runtime struct {
	Name      string
	Logger    *zap.Logger
	Pool      *pgxpool.Pool
	Relay     events.Relay
	Inbox     events.Inbox
	Sequencer events.Sequencer

	cfg     config.Common
	closers []func(context.Context) error
}

// Start builds the runtime for service. migrations names the embedded
// migration set applied when RUN_MIGRATIONS is on.
func Start(ctx context.Context, name, migrations string, cfg config.Common) (*Runtime, error) {
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	logger = logger.With(zap.String("service", name))
	rt := &Runtime{Name: name, Logger: logger, cfg: cfg}

	shutdownTracing, err := telemetry.Setup(ctx, name, cfg.Env, cfg.OTLPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	rt.closers = append(rt.closers, shutdownTracing)

	if cfg.DatabaseDSN != "" {
		if cfg.RunMigrations {
			if err := db.RunMigrations(cfg.DatabaseDSN, migrations, logger); err != nil {
				return nil, err
			}
		}
		pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		rt.Pool = pool
		rt.Inbox = events.NewPostgresInbox(pool)
		rt.Sequencer = events.NewPostgresSequencer(pool)
		rt.closers = append(rt.closers, func(context.Context) error { pool.Close(); return nil })
	} else {
		logger.Warn("DATABASE_DSN not set, using in-memory storage")
		rt.Inbox = events.NewMemoryInbox()
		rt.Sequencer = events.NewMemorySequencer()
	}

	relay, err := events.Open(events.BrokerSettings{
		Kind:         cfg.Broker.Kind,
		RabbitURL:    cfg.Broker.RabbitURL,
		KafkaBrokers: cfg.Broker.KafkaBrokers,
	}, logger)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("event broker: %w", err)
	}
	rt.Relay = relay
	rt.closers = append(rt.closers, func(context.Context) error { return relay.Close() })

	logger.Info("runtime ready",
		zap.Bool("postgres", rt.Pool != nil),
		zap.String("broker", cfg.Broker.Kind),
	)
	return rt, nil
}

// Publisher returns an event publisher stamped with this service as producer.
func (rt *Runtime) Publisher() *events.Publisher {
	return events.NewPublisher(rt.Relay, rt.Sequencer, rt.Name, rt.Logger)
}

// Consume subscribes the service queue for routingKey with inbox deduplication.
func (rt *Runtime) Consume(ctx context.Context, routingKey, consumer string, h events.EnvelopeHandler) error {
	queue := events.ServiceQueue(rt.Name, routingKey)
	if err := rt.Relay.Subscribe(ctx, queue, routingKey, events.Idempotent(consumer, rt.Inbox, rt.Logger, h)); err != nil {
		return fmt.Errorf("subscribe %s: %w", queue, err)
	}
	rt.Logger.Info("consuming", zap.String("queue", queue), zap.String("routing_key", routingKey))
	return nil
}

// Serve runs the HTTP server until SIGINT/SIGTERM or a server error, then
// shuts down within the configured timeout and releases the runtime.
func (rt *Runtime) Serve(ctx context.Context, cancel context.CancelFunc, addr string, handler http.Handler) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		rt.Logger.Info("http listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		rt.Logger.Info("shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		rt.Logger.Error("http server failed", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), rt.cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		rt.Logger.Warn("http shutdown", zap.Error(err))
	}
	cancel()
	rt.Close(shutdownCtx)
	rt.Logger.Info("shutdown complete")
	_ = rt.Logger.Sync()
}

// Close releases resources in reverse order of acquisition.
func (rt *Runtime) Close(ctx context.Context) {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			rt.Logger.Warn("close", zap.Error(err))
		}
	}
	rt.closers = nil
}
