package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cimillas/reservation-ledger/internal/clock"
	"github.com/cimillas/reservation-ledger/internal/domain"
)

type TransactionRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetForUpdate(ctx context.Context, transactionID string) (domain.Transaction, error)
	Get(ctx context.Context, transactionID string) (domain.Transaction, error)
	Update(ctx context.Context, tx domain.Transaction) error
	ReleaseLock(ctx context.Context, lockKey, transactionID string) error
	AppendEvent(ctx context.Context, transactionID string, payload domain.EventPayload, at time.Time) error
	ListEvents(ctx context.Context, transactionID string) ([]domain.TxEvent, error)
}

type TransactionService struct {
	repo  TransactionRepository
	clock clock.Clock
}

func NewTransactionService(repo TransactionRepository, clk clock.Clock) *TransactionService {
	return &TransactionService{
		repo:  repo,
		clock: clk,
	}
}

type ConfirmInput struct {
	TransactionID  string
	IdempotencyKey string
}

type ConfirmResult struct {
	State          domain.TxState
	ResultSnapshot []byte
	// Replayed is true when a previous call already finalized the
	// transaction and its recorded outcome was returned unchanged.
	Replayed bool
}

// resultSnapshot is the JSON shape stored on first successful confirm and
// replayed verbatim afterwards.
type resultSnapshot struct {
	TransactionID    string    `json:"transaction_id"`
	LockKey          string    `json:"lock_key"`
	ConfirmationCode string    `json:"confirmation_code"`
	ConfirmedAt      time.Time `json:"confirmed_at"`
}

// Confirm finalizes a hold. The transaction row lock serializes racing
// confirm/cancel/expire calls; whichever commits first wins and later
// callers observe the winner's terminal state instead of an error. A hold
// already past its TTL is expired on the spot and reported as such.
func (s *TransactionService) Confirm(ctx context.Context, in ConfirmInput) (ConfirmResult, error) {
	if in.IdempotencyKey == "" {
		return ConfirmResult{}, domain.ErrIdempotencyKeyRequired
	}

	now := s.clock.Now()
	var (
		result  ConfirmResult
		expired bool
	)

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		tx, err := s.repo.GetForUpdate(txCtx, in.TransactionID)
		if err != nil {
			return err
		}

		if tx.State == domain.TxStateConfirmed {
			// Duplicate confirm replays the recorded outcome; a different
			// key mapping to this terminal outcome is a caller bug.
			if tx.ConfirmIdempotencyKey != in.IdempotencyKey {
				return domain.ErrIdempotencyConflict
			}
			result = ConfirmResult{State: tx.State, ResultSnapshot: tx.ResultSnapshot, Replayed: true}
			return nil
		}
		if tx.State.IsTerminal() {
			// Lost the race against a cancel or the expiry sweep; report
			// the winner's terminal state rather than an error.
			result = ConfirmResult{State: tx.State, Replayed: true}
			return nil
		}

		if tx.State != domain.TxStateHold {
			return domain.ErrInvalidTransition
		}

		if tx.HoldExpired(now) {
			// The expiry must commit even though the confirm fails, so the
			// error is surfaced only after the transaction closes.
			if err := s.expireLocked(txCtx, &tx, now); err != nil {
				return err
			}
			expired = true
			return nil
		}

		code := newConfirmationCode()
		snapshot, err := json.Marshal(resultSnapshot{
			TransactionID:    tx.ID,
			LockKey:          tx.LockKey,
			ConfirmationCode: code,
			ConfirmedAt:      now,
		})
		if err != nil {
			return fmt.Errorf("marshal result snapshot: %w", err)
		}

		if err := s.repo.AppendEvent(txCtx, tx.ID, domain.ConfirmSuccessPayload{
			LockKey:          tx.LockKey,
			ConfirmationCode: code,
		}, now); err != nil {
			return err
		}
		if err := s.releaseLocked(txCtx, &tx, now); err != nil {
			return err
		}

		tx.State = domain.TxStateConfirmed
		tx.ConfirmIdempotencyKey = in.IdempotencyKey
		tx.ResultSnapshot = snapshot
		tx.ConfirmedAt = &now
		tx.ClosedAt = &now
		tx.HoldExpiresAt = nil
		tx.UpdatedAt = now
		if err := s.repo.Update(txCtx, tx); err != nil {
			return err
		}

		result = ConfirmResult{State: domain.TxStateConfirmed, ResultSnapshot: snapshot}
		return nil
	})
	if err != nil {
		return ConfirmResult{}, err
	}
	if expired {
		return ConfirmResult{State: domain.TxStateExpired}, domain.ErrHoldExpired
	}
	return result, nil
}

type CancelResult struct {
	State domain.TxState
	// Replayed is true when the transaction was already terminal and the
	// cancel was a no-op.
	Replayed bool
}

// Cancel releases a non-terminal transaction. Cancelling an already
// finalized transaction is a no-op that reports the finalized state.
func (s *TransactionService) Cancel(ctx context.Context, transactionID string) (CancelResult, error) {
	now := s.clock.Now()
	var result CancelResult

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		tx, err := s.repo.GetForUpdate(txCtx, transactionID)
		if err != nil {
			return err
		}

		if tx.State.IsTerminal() {
			result = CancelResult{State: tx.State, Replayed: true}
			return nil
		}

		if tx.HoldExpired(now) {
			if err := s.expireLocked(txCtx, &tx, now); err != nil {
				return err
			}
			result = CancelResult{State: domain.TxStateExpired, Replayed: true}
			return nil
		}

		if err := s.repo.AppendEvent(txCtx, tx.ID, domain.CancelledPayload{LockKey: tx.LockKey}, now); err != nil {
			return err
		}
		if err := s.releaseLocked(txCtx, &tx, now); err != nil {
			return err
		}

		tx.State = domain.TxStateCancelled
		tx.ClosedAt = &now
		tx.HoldExpiresAt = nil
		tx.UpdatedAt = now
		if err := s.repo.Update(txCtx, tx); err != nil {
			return err
		}

		result = CancelResult{State: domain.TxStateCancelled}
		return nil
	})
	if err != nil {
		return CancelResult{}, err
	}
	return result, nil
}

// Fail records a downstream failure (payment declined, vendor rejected)
// against a live hold, releasing the resource.
func (s *TransactionService) Fail(ctx context.Context, transactionID, reason string) (domain.TxState, error) {
	now := s.clock.Now()
	var state domain.TxState

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		tx, err := s.repo.GetForUpdate(txCtx, transactionID)
		if err != nil {
			return err
		}

		if tx.State.IsTerminal() {
			state = tx.State
			return nil
		}

		if err := s.repo.AppendEvent(txCtx, tx.ID, domain.ConfirmFailedPayload{
			LockKey: tx.LockKey,
			Reason:  reason,
		}, now); err != nil {
			return err
		}
		if err := s.releaseLocked(txCtx, &tx, now); err != nil {
			return err
		}

		tx.State = domain.TxStateFailed
		tx.ClosedAt = &now
		tx.HoldExpiresAt = nil
		tx.UpdatedAt = now
		if err := s.repo.Update(txCtx, tx); err != nil {
			return err
		}

		state = domain.TxStateFailed
		return nil
	})
	if err != nil {
		return "", err
	}
	return state, nil
}

// Expire reclaims a hold past its TTL. Safe to race with a live confirm or
// cancel: if another caller finalized the transaction first, the already
// recorded terminal state is returned unchanged.
func (s *TransactionService) Expire(ctx context.Context, transactionID string) (domain.TxState, error) {
	now := s.clock.Now()
	var state domain.TxState

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		tx, err := s.repo.GetForUpdate(txCtx, transactionID)
		if err != nil {
			return err
		}

		if tx.State.IsTerminal() {
			state = tx.State
			return nil
		}
		if !tx.HoldExpired(now) {
			// Still live; leave it alone.
			state = tx.State
			return nil
		}

		if err := s.expireLocked(txCtx, &tx, now); err != nil {
			return err
		}
		state = domain.TxStateExpired
		return nil
	})
	if err != nil {
		return "", err
	}
	return state, nil
}

type TransactionDetail struct {
	Transaction domain.Transaction
	Events      []domain.TxEvent
}

// Get returns the transaction with its ordered event log (audit read).
func (s *TransactionService) Get(ctx context.Context, transactionID string) (TransactionDetail, error) {
	tx, err := s.repo.Get(ctx, transactionID)
	if err != nil {
		return TransactionDetail{}, err
	}
	events, err := s.repo.ListEvents(ctx, transactionID)
	if err != nil {
		return TransactionDetail{}, err
	}
	return TransactionDetail{Transaction: tx, Events: events}, nil
}

// expireLocked finalizes a hold past its TTL. Caller must hold the row lock.
func (s *TransactionService) expireLocked(ctx context.Context, tx *domain.Transaction, now time.Time) error {
	expiresAt := now
	if tx.HoldExpiresAt != nil {
		expiresAt = *tx.HoldExpiresAt
	}
	if err := s.repo.AppendEvent(ctx, tx.ID, domain.ExpiredPayload{
		LockKey:       tx.LockKey,
		HoldExpiresAt: expiresAt,
	}, now); err != nil {
		return err
	}
	if err := s.releaseLocked(ctx, tx, now); err != nil {
		return err
	}

	tx.State = domain.TxStateExpired
	tx.ClosedAt = &now
	tx.HoldExpiresAt = nil
	tx.UpdatedAt = now
	return s.repo.Update(ctx, *tx)
}

// releaseLocked drops the resource lock if this transaction still owns it
// and records the release. The ownership check in ReleaseLock fences out
// stale releases against a lock a newer transaction has since claimed.
func (s *TransactionService) releaseLocked(ctx context.Context, tx *domain.Transaction, now time.Time) error {
	if tx.LockKey == "" {
		return nil
	}
	if err := s.repo.ReleaseLock(ctx, tx.LockKey, tx.ID); err != nil {
		return err
	}
	return s.repo.AppendEvent(ctx, tx.ID, domain.ReleasedPayload{LockKey: tx.LockKey}, now)
}
