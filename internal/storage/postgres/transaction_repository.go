package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cimillas/reservation-ledger/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TransactionRepository struct {
	q    querier
	pool *pgxpool.Pool
}

func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{q: querier{pool: pool}, pool: pool}
}

const selectTransaction = `
SELECT id, business_id, state, lock_key, hold_expires_at,
       idempotency_key, confirm_idempotency_key, result_snapshot,
       confirmed_at, closed_at, created_at, updated_at
FROM transactions`

func scanTransaction(row pgx.Row) (domain.Transaction, error) {
	var (
		tx    domain.Transaction
		state string
	)
	err := row.Scan(
		&tx.ID,
		&tx.BusinessID,
		&state,
		&tx.LockKey,
		&tx.HoldExpiresAt,
		&tx.IdempotencyKey,
		&tx.ConfirmIdempotencyKey,
		&tx.ResultSnapshot,
		&tx.ConfirmedAt,
		&tx.ClosedAt,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		return domain.Transaction{}, err
	}
	tx.State = domain.TxState(state)
	return tx, nil
}

func (r *TransactionRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

func (r *TransactionRepository) GetForUpdate(ctx context.Context, transactionID string) (domain.Transaction, error) {
	query := selectTransaction + ` WHERE id = $1 FOR UPDATE`
	return r.get(ctx, query, transactionID)
}

func (r *TransactionRepository) Get(ctx context.Context, transactionID string) (domain.Transaction, error) {
	query := selectTransaction + ` WHERE id = $1`
	return r.get(ctx, query, transactionID)
}

func (r *TransactionRepository) get(ctx context.Context, query, transactionID string) (domain.Transaction, error) {
	tx, err := scanTransaction(r.q.queryRow(ctx, query, transactionID))
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Transaction{}, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return domain.Transaction{}, domain.ErrTransactionNotFound
		}
		return domain.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return tx, nil
}

// Update rewrites the mutable columns of a transaction row. State is only
// ever written through the guarded service transitions, never directly.
func (r *TransactionRepository) Update(ctx context.Context, tx domain.Transaction) error {
	const stmt = `
UPDATE transactions
SET state = $2,
    hold_expires_at = $3,
    confirm_idempotency_key = $4,
    result_snapshot = $5,
    confirmed_at = $6,
    closed_at = $7,
    updated_at = $8
WHERE id = $1`

	tag, err := r.q.exec(ctx, stmt,
		tx.ID,
		tx.State,
		tx.HoldExpiresAt,
		tx.ConfirmIdempotencyKey,
		tx.ResultSnapshot,
		tx.ConfirmedAt,
		tx.ClosedAt,
		tx.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTransactionNotFound
	}
	return nil
}

// ReleaseLock removes the lock only while the given transaction still owns
// it. A lock since reclaimed and re-acquired by a newer holder is left
// untouched, so a stale release can never undo a newer claim.
func (r *TransactionRepository) ReleaseLock(ctx context.Context, lockKey, transactionID string) error {
	const stmt = `DELETE FROM resource_locks WHERE lock_key = $1 AND transaction_id = $2`

	if _, err := r.q.exec(ctx, stmt, lockKey, transactionID); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

func (r *TransactionRepository) AppendEvent(ctx context.Context, transactionID string, payload domain.EventPayload, at time.Time) error {
	return appendEvent(ctx, r.q, transactionID, payload, at)
}

func (r *TransactionRepository) ListEvents(ctx context.Context, transactionID string) ([]domain.TxEvent, error) {
	return listEvents(ctx, r.q, transactionID)
}

// ListExpiredHolds returns the IDs of hold transactions past their TTL,
// oldest first, capped at limit. Candidates for the expiry sweep.
func (r *TransactionRepository) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]string, error) {
	const query = `
SELECT id
FROM transactions
WHERE state = 'hold' AND hold_expires_at < $1
ORDER BY hold_expires_at
LIMIT $2`

	rows, err := r.q.query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired holds: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired hold: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list expired holds: %w", err)
	}
	return ids, nil
}

// appendEvent writes the next entry of a transaction's event log. The seq
// subselect runs inside the caller's row-locked transaction, so numbering
// stays contiguous under concurrency.
func appendEvent(ctx context.Context, q querier, transactionID string, payload domain.EventPayload, at time.Time) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	const stmt = `
INSERT INTO tx_events (transaction_id, seq, type, payload, created_at)
SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4
FROM tx_events
WHERE transaction_id = $1`

	if _, err := q.exec(ctx, stmt, transactionID, string(payload.EventType()), raw, at); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func listEvents(ctx context.Context, q querier, transactionID string) ([]domain.TxEvent, error) {
	const query = `
SELECT transaction_id, seq, type, payload, created_at
FROM tx_events
WHERE transaction_id = $1
ORDER BY seq`

	rows, err := q.query(ctx, query, transactionID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []domain.TxEvent
	for rows.Next() {
		var (
			ev        domain.TxEvent
			eventType string
			raw       []byte
		)
		if err := rows.Scan(&ev.TransactionID, &ev.Seq, &eventType, &raw, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = domain.TxEventType(eventType)
		payload, err := domain.DecodePayload(ev.Type, raw)
		if err != nil {
			return nil, err
		}
		ev.Payload = payload
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}
