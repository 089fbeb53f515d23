package ledger

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/danharsa/billpay/internal/store"
)

var (
	sweepAdvancedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billpay_reconciliation_advanced_total",
		Help: "Transactions advanced to SUCCESS by the reconciliation sweep",
	})
	sweepFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billpay_reconciliation_failures_total",
		Help: "Reconciliation sweeps that failed",
	})
)

const sweepNote = "completed by reconciliation sweep"

// Scheduler periodically advances stale PENDING transactions to SUCCESS. It
// is the backstop for one-shot completion timers lost to a process restart.
// Each sweep is a single conditional bulk update, so racing the per-
// transaction timers or manual admin actions is safe: whichever update
// matches a row first wins.
type Scheduler struct {
	store     store.Store
	logger    *zap.Logger
	interval  time.Duration
	staleness time.Duration
}

func NewScheduler(st store.Store, logger *zap.Logger, interval, staleness time.Duration) *Scheduler {
	return &Scheduler{
		store:     st,
		logger:    logger,
		interval:  interval,
		staleness: staleness,
	}
}

// Run sweeps once immediately, then on every tick until ctx is cancelled. A
// failed sweep is logged and retried on the next tick; nothing propagates to
// callers.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep advances every PENDING transaction older than the staleness threshold.
func (s *Scheduler) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.staleness)

	advanced, err := s.store.AdvanceStalePending(ctx, cutoff, sweepNote)
	if err != nil {
		sweepFailuresTotal.Inc()
		s.logger.Error("reconciliation sweep failed, will retry next tick", zap.Error(err))
		return
	}
	if advanced > 0 {
		sweepAdvancedTotal.Add(float64(advanced))
		s.logger.Info("reconciliation sweep advanced stale transactions",
			zap.Int64("advanced", advanced))
	}
}
