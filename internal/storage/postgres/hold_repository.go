package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/cimillas/reservation-ledger/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type HoldRepository struct {
	q    querier
	pool *pgxpool.Pool
}

func NewHoldRepository(pool *pgxpool.Pool) *HoldRepository {
	return &HoldRepository{q: querier{pool: pool}, pool: pool}
}

func (r *HoldRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

func (r *HoldRepository) FindByIdempotencyKey(ctx context.Context, businessID, key string) (*domain.Transaction, error) {
	const query = selectTransaction + ` WHERE business_id = $1 AND idempotency_key = $2`

	tx, err := scanTransaction(r.q.queryRow(ctx, query, businessID, key))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find transaction by idempotency key: %w", err)
	}
	return &tx, nil
}

// AcquireLock claims the lock key in a single conditional write: insert
// wins an absent key, the DO UPDATE branch steals one whose previous hold
// already lapsed. An unexpired lock owned by another transaction makes
// the statement affect zero rows, which surfaces as ErrResourceUnavailable.
func (r *HoldRepository) AcquireLock(ctx context.Context, lock domain.ResourceLock) error {
	const stmt = `
INSERT INTO resource_locks (lock_key, transaction_id, acquired_at, expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (lock_key) DO UPDATE
SET transaction_id = EXCLUDED.transaction_id,
    acquired_at = EXCLUDED.acquired_at,
    expires_at = EXCLUDED.expires_at
WHERE resource_locks.expires_at <= EXCLUDED.acquired_at`

	tag, err := r.q.exec(ctx, stmt, lock.LockKey, lock.TransactionID, lock.AcquiredAt, lock.ExpiresAt)
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrResourceUnavailable
	}
	return nil
}

func (r *HoldRepository) CreateTransaction(ctx context.Context, tx domain.Transaction) error {
	const stmt = `
INSERT INTO transactions (
	id, business_id, state, lock_key, hold_expires_at,
	idempotency_key, confirm_idempotency_key, result_snapshot,
	confirmed_at, closed_at, created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.q.exec(ctx, stmt,
		tx.ID,
		tx.BusinessID,
		tx.State,
		tx.LockKey,
		tx.HoldExpiresAt,
		tx.IdempotencyKey,
		tx.ConfirmIdempotencyKey,
		tx.ResultSnapshot,
		tx.ConfirmedAt,
		tx.ClosedAt,
		tx.CreatedAt,
		tx.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrIdempotencyConflict
		}
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("create transaction: %w", err)
	}
	return nil
}

func (r *HoldRepository) AppendEvent(ctx context.Context, transactionID string, payload domain.EventPayload, at time.Time) error {
	return appendEvent(ctx, r.q, transactionID, payload, at)
}

// IsHeld reports the current holder of a lock key, nil when free.
func (r *HoldRepository) IsHeld(ctx context.Context, lockKey string, now time.Time) (*domain.ResourceLock, error) {
	const query = `
SELECT lock_key, transaction_id, acquired_at, expires_at
FROM resource_locks
WHERE lock_key = $1 AND expires_at > $2`

	var lock domain.ResourceLock
	err := r.q.queryRow(ctx, query, lockKey, now).
		Scan(&lock.LockKey, &lock.TransactionID, &lock.AcquiredAt, &lock.ExpiresAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get lock: %w", err)
	}
	return &lock, nil
}
