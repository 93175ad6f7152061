package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cimillas/reservation-ledger/internal/domain"
	"github.com/cimillas/reservation-ledger/internal/testutil"
)

func TestAuditRepository(t *testing.T) {
	pool := testutil.NewTestPool(t)
	repo := NewAuditRepository(pool)
	testutil.ApplyMigrations(t, context.Background(), pool)

	t.Run("ListLocks returns all locks oldest first", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		now := time.Now().UTC()

		first := testutil.InsertTransaction(t, ctx, pool, domain.Transaction{
			BusinessID: "biz_1", State: domain.TxStateHold, IdempotencyKey: "a",
		})
		second := testutil.InsertTransaction(t, ctx, pool, domain.Transaction{
			BusinessID: "biz_1", State: domain.TxStateHold, IdempotencyKey: "b",
		})
		testutil.InsertLock(t, ctx, pool, domain.ResourceLock{
			LockKey: "k1", TransactionID: first,
			AcquiredAt: now.Add(-time.Minute), ExpiresAt: now.Add(14 * time.Minute),
		})
		testutil.InsertLock(t, ctx, pool, domain.ResourceLock{
			LockKey: "k2", TransactionID: second,
			AcquiredAt: now, ExpiresAt: now.Add(15 * time.Minute),
		})

		locks, err := repo.ListLocks(ctx)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(locks) != 2 || locks[0].LockKey != "k1" || locks[1].LockKey != "k2" {
			t.Fatalf("unexpected locks: %+v", locks)
		}
	})

	t.Run("GetTransaction distinguishes missing rows", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)

		id := testutil.InsertTransaction(t, ctx, pool, domain.Transaction{
			BusinessID: "biz_1", State: domain.TxStateHold, IdempotencyKey: "a",
		})

		tx, err := repo.GetTransaction(ctx, id)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if tx.ID != id {
			t.Fatalf("unexpected transaction: %+v", tx)
		}

		_, err = repo.GetTransaction(ctx, "00000000-0000-0000-0000-000000000001")
		if err != domain.ErrTransactionNotFound {
			t.Fatalf("expected ErrTransactionNotFound, got %v", err)
		}
	})

	t.Run("ListRecentTransactions respects the cutoff", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		now := time.Now().UTC()

		recent := testutil.InsertTransaction(t, ctx, pool, domain.Transaction{
			BusinessID: "biz_1", State: domain.TxStateHold, IdempotencyKey: "a",
			CreatedAt: now.Add(-time.Hour), UpdatedAt: now.Add(-time.Hour),
		})
		testutil.InsertTransaction(t, ctx, pool, domain.Transaction{
			BusinessID: "biz_1", State: domain.TxStateConfirmed, IdempotencyKey: "b",
			CreatedAt: now.Add(-48 * time.Hour), UpdatedAt: now.Add(-48 * time.Hour),
		})

		txs, err := repo.ListRecentTransactions(ctx, now.Add(-24*time.Hour), 100)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(txs) != 1 || txs[0].ID != recent {
			t.Fatalf("unexpected transactions: %+v", txs)
		}
	})

	t.Run("alerts round trip newest first", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		now := time.Now().UTC().Truncate(time.Microsecond)

		older := domain.SystemAlert{
			ID:         uuid.NewString(),
			Invariant:  domain.InvariantExpirySLA,
			Severity:   domain.AlertSeverityWarning,
			EntityID:   "tx-old",
			Detail:     "hold unreclaimed",
			DetectedAt: now.Add(-time.Hour),
		}
		newer := domain.SystemAlert{
			ID:         uuid.NewString(),
			Invariant:  domain.InvariantSingleActiveLock,
			Severity:   domain.AlertSeverityCritical,
			EntityID:   "k1",
			Detail:     "expected at most 1 active lock, observed 2",
			DetectedAt: now,
		}
		if err := repo.InsertAlert(ctx, older); err != nil {
			t.Fatalf("insert alert: %v", err)
		}
		if err := repo.InsertAlert(ctx, newer); err != nil {
			t.Fatalf("insert alert: %v", err)
		}

		alerts, err := repo.ListRecentAlerts(ctx, 10)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(alerts) != 2 || alerts[0].ID != newer.ID || alerts[1].ID != older.ID {
			t.Fatalf("unexpected alerts: %+v", alerts)
		}
		if alerts[0].Severity != domain.AlertSeverityCritical || alerts[0].Invariant != domain.InvariantSingleActiveLock {
			t.Fatalf("unexpected alert fields: %+v", alerts[0])
		}

		alerts, err = repo.ListRecentAlerts(ctx, 1)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(alerts) != 1 || alerts[0].ID != newer.ID {
			t.Fatalf("expected limit applied, got %+v", alerts)
		}
	})
}
