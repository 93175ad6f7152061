package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cimillas/reservation-ledger/internal/clock"
	"github.com/cimillas/reservation-ledger/internal/domain"
)

// LedgerAuditStore is the read-only view the checker audits against. The
// checker never writes through it; alerts are its only side effect.
type LedgerAuditStore interface {
	ListLocks(ctx context.Context) ([]domain.ResourceLock, error)
	GetTransaction(ctx context.Context, transactionID string) (domain.Transaction, error)
	ListRecentTransactions(ctx context.Context, since time.Time, limit int) ([]domain.Transaction, error)
	ListEvents(ctx context.Context, transactionID string) ([]domain.TxEvent, error)
	ListDuplicateIdempotencyKeys(ctx context.Context) ([]domain.IdempotencyKeyDuplicate, error)
}

// AlertSink receives detected violations. Delivery and routing belong to
// the observability layer; alerts are handed off by value.
type AlertSink interface {
	Emit(ctx context.Context, alert domain.SystemAlert) error
}

type Checker struct {
	store  LedgerAuditStore
	sink   AlertSink
	clock  clock.Clock
	logger *zap.SugaredLogger

	interval time.Duration
	// window bounds how far back each pass re-derives state.
	window time.Duration
	limit  int
	// expiryGrace is how long a lapsed hold may await the reclaimer
	// before the delay itself is a violation.
	expiryGrace time.Duration
	// maxProcessingAge is how long a transaction may stay non-terminal.
	maxProcessingAge time.Duration
}

const (
	defaultCheckInterval    = 30 * time.Minute
	defaultAuditWindow      = 24 * time.Hour
	defaultAuditLimit       = 1000
	defaultExpiryGrace      = 2 * time.Hour
	defaultMaxProcessingAge = 24 * time.Hour
)

type CheckerOption func(*Checker)

func WithCheckInterval(d time.Duration) CheckerOption {
	return func(c *Checker) {
		if d > 0 {
			c.interval = d
		}
	}
}

func WithAuditWindow(d time.Duration) CheckerOption {
	return func(c *Checker) {
		if d > 0 {
			c.window = d
		}
	}
}

func WithExpiryGrace(d time.Duration) CheckerOption {
	return func(c *Checker) {
		if d > 0 {
			c.expiryGrace = d
		}
	}
}

func NewChecker(store LedgerAuditStore, sink AlertSink, clk clock.Clock, logger *zap.SugaredLogger, opts ...CheckerOption) *Checker {
	c := &Checker{
		store:            store,
		sink:             sink,
		clock:            clk,
		logger:           logger,
		interval:         defaultCheckInterval,
		window:           defaultAuditWindow,
		limit:            defaultAuditLimit,
		expiryGrace:      defaultExpiryGrace,
		maxProcessingAge: defaultMaxProcessingAge,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunOnce audits every invariant and emits one alert per violation. It
// returns the number of violations found; an error means the audit
// itself could not complete, not that an invariant failed.
func (c *Checker) RunOnce(ctx context.Context) (int, error) {
	now := c.clock.Now()
	var violations int

	locks, err := c.store.ListLocks(ctx)
	if err != nil {
		return violations, err
	}
	violations += c.checkLocks(ctx, locks, now)

	txs, err := c.store.ListRecentTransactions(ctx, now.Add(-c.window), c.limit)
	if err != nil {
		return violations, err
	}
	violations += c.checkTransactions(ctx, txs, locks, now)

	dups, err := c.store.ListDuplicateIdempotencyKeys(ctx)
	if err != nil {
		return violations, err
	}
	for _, dup := range dups {
		violations++
		c.emit(ctx, domain.SystemAlert{
			Invariant: domain.InvariantIdempotencyKeys,
			Severity:  domain.AlertSeverityCritical,
			EntityID:  dup.BusinessID,
			Detail: fmt.Sprintf("idempotency key %q claimed by %d transactions, expected 1",
				dup.IdempotencyKey, dup.Count),
		}, now)
	}

	if violations > 0 {
		c.logger.Warnw("invariant audit found violations", "count", violations)
	}
	return violations, nil
}

// checkLocks verifies per-key exclusivity and that every active lock is
// owned by a live hold.
func (c *Checker) checkLocks(ctx context.Context, locks []domain.ResourceLock, now time.Time) int {
	var violations int

	activePerKey := make(map[string]int)
	for _, lock := range locks {
		if lock.Active(now) {
			activePerKey[lock.LockKey]++
		}
	}
	for key, n := range activePerKey {
		if n > 1 {
			violations++
			c.emit(ctx, domain.SystemAlert{
				Invariant: domain.InvariantSingleActiveLock,
				Severity:  domain.AlertSeverityCritical,
				EntityID:  key,
				Detail:    fmt.Sprintf("expected at most 1 active lock, observed %d", n),
			}, now)
		}
	}

	for _, lock := range locks {
		if !lock.Active(now) {
			continue
		}
		tx, err := c.store.GetTransaction(ctx, lock.TransactionID)
		if err != nil {
			if errors.Is(err, domain.ErrTransactionNotFound) {
				violations++
				c.emit(ctx, domain.SystemAlert{
					Invariant: domain.InvariantNoOrphanLock,
					Severity:  domain.AlertSeverityCritical,
					EntityID:  lock.LockKey,
					Detail:    fmt.Sprintf("lock held by unknown transaction %s", lock.TransactionID),
				}, now)
				continue
			}
			c.logger.Errorw("audit lock lookup failed", "lock_key", lock.LockKey, "err", err)
			continue
		}
		if tx.State != domain.TxStateHold {
			violations++
			c.emit(ctx, domain.SystemAlert{
				Invariant: domain.InvariantNoOrphanLock,
				Severity:  domain.AlertSeverityCritical,
				EntityID:  lock.LockKey,
				Detail: fmt.Sprintf("lock held by transaction %s in state %s, expected hold",
					tx.ID, tx.State),
			}, now)
		}
	}
	return violations
}

func (c *Checker) checkTransactions(ctx context.Context, txs []domain.Transaction, locks []domain.ResourceLock, now time.Time) int {
	var violations int

	lockHolder := make(map[string]domain.ResourceLock, len(locks))
	for _, lock := range locks {
		if lock.Active(now) {
			lockHolder[lock.LockKey] = lock
		}
	}

	for _, tx := range txs {
		events, err := c.store.ListEvents(ctx, tx.ID)
		if err != nil {
			c.logger.Errorw("audit event read failed", "transaction_id", tx.ID, "err", err)
			continue
		}

		violations += c.checkEventLog(ctx, tx, events, now)

		switch {
		case tx.State == domain.TxStateHold && tx.HoldExpiresAt != nil && now.Sub(*tx.HoldExpiresAt) > c.expiryGrace:
			violations++
			c.emit(ctx, domain.SystemAlert{
				Invariant: domain.InvariantExpirySLA,
				Severity:  domain.AlertSeverityWarning,
				EntityID:  tx.ID,
				Detail: fmt.Sprintf("hold lapsed at %s and is still unreclaimed after grace of %s",
					tx.HoldExpiresAt.Format(time.RFC3339), c.expiryGrace),
			}, now)
		case tx.State == domain.TxStateHold && !tx.HoldExpired(now):
			// A live hold must still own its lock.
			if holder, ok := lockHolder[tx.LockKey]; !ok || holder.TransactionID != tx.ID {
				violations++
				c.emit(ctx, domain.SystemAlert{
					Invariant: domain.InvariantSingleActiveLock,
					Severity:  domain.AlertSeverityCritical,
					EntityID:  tx.ID,
					Detail:    fmt.Sprintf("live hold does not own lock %q", tx.LockKey),
				}, now)
			}
		}

		if !tx.State.IsTerminal() && now.Sub(tx.CreatedAt) > c.maxProcessingAge {
			violations++
			c.emit(ctx, domain.SystemAlert{
				Invariant: domain.InvariantProcessingSLA,
				Severity:  domain.AlertSeverityWarning,
				EntityID:  tx.ID,
				Detail: fmt.Sprintf("transaction still %s after %s, created %s",
					tx.State, c.maxProcessingAge, tx.CreatedAt.Format(time.RFC3339)),
			}, now)
		}
	}
	return violations
}

// checkEventLog re-derives the state a transaction's log implies and
// compares it against the stored row.
func (c *Checker) checkEventLog(ctx context.Context, tx domain.Transaction, events []domain.TxEvent, now time.Time) int {
	var violations int

	for i, ev := range events {
		if ev.Seq != i+1 {
			violations++
			c.emit(ctx, domain.SystemAlert{
				Invariant: domain.InvariantEventLogContig,
				Severity:  domain.AlertSeverityCritical,
				EntityID:  tx.ID,
				Detail:    fmt.Sprintf("expected seq %d at position %d, observed %d", i+1, i, ev.Seq),
			}, now)
			return violations
		}
	}

	derived, err := domain.Replay(events)
	if err != nil {
		violations++
		c.emit(ctx, domain.SystemAlert{
			Invariant: domain.InvariantLegalTransitions,
			Severity:  domain.AlertSeverityCritical,
			EntityID:  tx.ID,
			Detail:    fmt.Sprintf("event log contains an illegal transition: %v", err),
		}, now)
		return violations
	}
	if derived != tx.State {
		violations++
		c.emit(ctx, domain.SystemAlert{
			Invariant: domain.InvariantLegalTransitions,
			Severity:  domain.AlertSeverityCritical,
			EntityID:  tx.ID,
			Detail:    fmt.Sprintf("expected state %s from event log, observed %s", derived, tx.State),
		}, now)
	}
	return violations
}

func (c *Checker) emit(ctx context.Context, alert domain.SystemAlert, now time.Time) {
	alert.ID = uuid.NewString()
	alert.DetectedAt = now
	if err := c.sink.Emit(ctx, alert); err != nil {
		c.logger.Errorw("alert emission failed",
			"invariant", alert.Invariant,
			"entity_id", alert.EntityID,
			"err", err,
		)
	}
}

// Run ticks RunOnce until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	runLoop(ctx, c.logger, "invariant-checker", c.interval, func(ctx context.Context) error {
		_, err := c.RunOnce(ctx)
		return err
	})
}
