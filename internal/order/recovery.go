package order

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const recoveryBatch = 50

// RecoveryWorker compensates orders whose creation saga stopped half-way,
// typically because the orchestrator crashed between reservation steps.
type RecoveryWorker struct {
	repo       Repository
	orch       *Orchestrator
	interval   time.Duration
	stallAfter time.Duration
	logger     *zap.Logger
}

func NewRecoveryWorker(repo Repository, orch *Orchestrator, interval, stallAfter time.Duration, logger *zap.Logger) *RecoveryWorker {
	return &RecoveryWorker{
		repo:       repo,
		orch:       orch,
		interval:   interval,
		stallAfter: stallAfter,
		logger:     logger.Named("recovery"),
	}
}

func (w *RecoveryWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("saga recovery worker started",
		zap.Duration("interval", w.interval), zap.Duration("stall_after", w.stallAfter))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.logger.Error("saga recovery failed", zap.Error(err))
			}
		}
	}
}

// RunOnce compensates one batch of stalled orders and reports how many it handled.
func (w *RecoveryWorker) RunOnce(ctx context.Context) (int, error) {
	stalled, err := w.repo.FindStalled(ctx, w.orch.now().Add(-w.stallAfter), recoveryBatch)
	if err != nil {
		return 0, err
	}
	if len(stalled) == 0 {
		return 0, nil
	}
	w.logger.Warn("found stalled orders", zap.Int("count", len(stalled)))

	for _, o := range stalled {
		sagaLog, err := w.repo.SagaLog(ctx, o.ID)
		if err != nil {
			w.logger.Error("load saga log", zap.String("order_id", o.ID), zap.Error(err))
			continue
		}
		lines := sagaLog.OutstandingReservations()
		w.logger.Info("compensating stalled order", zap.String("order_id", o.ID), zap.Ints("reserved_lines", lines))
		w.orch.compensate(ctx, o, lines, "saga stalled before order was placed")
	}
	return len(stalled), nil
}
