package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cimillas/reservation-ledger/internal/clock"
	"github.com/cimillas/reservation-ledger/internal/domain"
)

// ExpiredHoldSource lists hold transactions past their TTL.
type ExpiredHoldSource interface {
	ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// HoldExpirer runs the guarded hold -> expired transition for one
// transaction. The same path live confirms use, so the sweep can never
// produce a second terminal state.
type HoldExpirer interface {
	Expire(ctx context.Context, transactionID string) (domain.TxState, error)
}

type Reclaimer struct {
	source    ExpiredHoldSource
	expirer   HoldExpirer
	clock     clock.Clock
	logger    *zap.SugaredLogger
	interval  time.Duration
	batchSize int
}

const (
	defaultSweepInterval = 60 * time.Minute
	defaultSweepBatch    = 200
)

type ReclaimerOption func(*Reclaimer)

func WithSweepInterval(d time.Duration) ReclaimerOption {
	return func(r *Reclaimer) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithSweepBatchSize(n int) ReclaimerOption {
	return func(r *Reclaimer) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func NewReclaimer(source ExpiredHoldSource, expirer HoldExpirer, clk clock.Clock, logger *zap.SugaredLogger, opts ...ReclaimerOption) *Reclaimer {
	r := &Reclaimer{
		source:    source,
		expirer:   expirer,
		clock:     clk,
		logger:    logger,
		interval:  defaultSweepInterval,
		batchSize: defaultSweepBatch,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SweepReport summarizes one reclamation pass.
type SweepReport struct {
	Scanned int
	Expired int
	// Skipped counts candidates another caller finalized first.
	Skipped int
	Failed  int
}

// RunOnce performs a single sweep. Per-transaction failures are logged
// and skipped; the sweep presses on to the next candidate.
func (r *Reclaimer) RunOnce(ctx context.Context) (SweepReport, error) {
	now := r.clock.Now()

	ids, err := r.source.ListExpiredHolds(ctx, now, r.batchSize)
	if err != nil {
		return SweepReport{}, err
	}

	report := SweepReport{Scanned: len(ids)}
	for _, id := range ids {
		state, err := r.expirer.Expire(ctx, id)
		if err != nil {
			report.Failed++
			r.logger.Warnw("expire failed, skipping", "transaction_id", id, "err", err)
			continue
		}
		if state == domain.TxStateExpired {
			report.Expired++
		} else {
			report.Skipped++
		}
	}

	if report.Scanned > 0 {
		r.logger.Infow("expiry sweep complete",
			"scanned", report.Scanned,
			"expired", report.Expired,
			"skipped", report.Skipped,
			"failed", report.Failed,
		)
	}
	return report, nil
}

// Run ticks RunOnce until ctx is cancelled.
func (r *Reclaimer) Run(ctx context.Context) {
	runLoop(ctx, r.logger, "expiry-reclaimer", r.interval, func(ctx context.Context) error {
		_, err := r.RunOnce(ctx)
		return err
	})
}
