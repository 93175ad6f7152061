package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/cimillas/reservation-ledger/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditRepository serves the invariant checker: read-only views over the
// ledger plus persistence for the alerts it raises.
type AuditRepository struct {
	q    querier
	pool *pgxpool.Pool
}

func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{q: querier{pool: pool}, pool: pool}
}

func (r *AuditRepository) ListLocks(ctx context.Context) ([]domain.ResourceLock, error) {
	const query = `
SELECT lock_key, transaction_id, acquired_at, expires_at
FROM resource_locks
ORDER BY acquired_at`

	rows, err := r.q.query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list locks: %w", err)
	}
	defer rows.Close()

	var locks []domain.ResourceLock
	for rows.Next() {
		var lock domain.ResourceLock
		if err := rows.Scan(&lock.LockKey, &lock.TransactionID, &lock.AcquiredAt, &lock.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan lock: %w", err)
		}
		locks = append(locks, lock)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list locks: %w", err)
	}
	return locks, nil
}

func (r *AuditRepository) GetTransaction(ctx context.Context, transactionID string) (domain.Transaction, error) {
	query := selectTransaction + ` WHERE id = $1`
	tx, err := scanTransaction(r.q.queryRow(ctx, query, transactionID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Transaction{}, domain.ErrTransactionNotFound
		}
		return domain.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return tx, nil
}

// ListRecentTransactions returns transactions touched since the cutoff,
// bounding the per-sweep audit window.
func (r *AuditRepository) ListRecentTransactions(ctx context.Context, since time.Time, limit int) ([]domain.Transaction, error) {
	query := selectTransaction + `
WHERE updated_at >= $1
ORDER BY updated_at
LIMIT $2`

	rows, err := r.q.query(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent transactions: %w", err)
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list recent transactions: %w", err)
	}
	return txs, nil
}

func (r *AuditRepository) ListEvents(ctx context.Context, transactionID string) ([]domain.TxEvent, error) {
	return listEvents(ctx, r.q, transactionID)
}

func (r *AuditRepository) ListDuplicateIdempotencyKeys(ctx context.Context) ([]domain.IdempotencyKeyDuplicate, error) {
	const query = `
SELECT business_id, idempotency_key, COUNT(*)
FROM transactions
GROUP BY business_id, idempotency_key
HAVING COUNT(*) > 1`

	rows, err := r.q.query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list duplicate idempotency keys: %w", err)
	}
	defer rows.Close()

	var dups []domain.IdempotencyKeyDuplicate
	for rows.Next() {
		var d domain.IdempotencyKeyDuplicate
		if err := rows.Scan(&d.BusinessID, &d.IdempotencyKey, &d.Count); err != nil {
			return nil, fmt.Errorf("scan duplicate key: %w", err)
		}
		dups = append(dups, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list duplicate idempotency keys: %w", err)
	}
	return dups, nil
}

func (r *AuditRepository) InsertAlert(ctx context.Context, alert domain.SystemAlert) error {
	const stmt = `
INSERT INTO system_alerts (id, invariant, severity, entity_id, detail, detected_at)
VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.q.exec(ctx, stmt,
		alert.ID,
		alert.Invariant,
		alert.Severity,
		alert.EntityID,
		alert.Detail,
		alert.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (r *AuditRepository) ListRecentAlerts(ctx context.Context, limit int) ([]domain.SystemAlert, error) {
	const query = `
SELECT id, invariant, severity, entity_id, detail, detected_at
FROM system_alerts
ORDER BY detected_at DESC
LIMIT $1`

	rows, err := r.q.query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []domain.SystemAlert
	for rows.Next() {
		var (
			alert    domain.SystemAlert
			severity string
		)
		if err := rows.Scan(&alert.ID, &alert.Invariant, &severity, &alert.EntityID, &alert.Detail, &alert.DetectedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alert.Severity = domain.AlertSeverity(severity)
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return alerts, nil
}
