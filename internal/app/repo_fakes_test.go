package app

import (
	"context"
	"time"

	"github.com/cimillas/reservation-ledger/internal/domain"
)

// fakeLedgerRepo implements HoldRepository and TransactionRepository over
// maps, mirroring the store's conditional-write semantics.
type fakeLedgerRepo struct {
	txs    map[string]domain.Transaction
	locks  map[string]domain.ResourceLock
	events map[string][]domain.TxEvent

	appendEventErr error
}

func newFakeLedgerRepo() *fakeLedgerRepo {
	return &fakeLedgerRepo{
		txs:    make(map[string]domain.Transaction),
		locks:  make(map[string]domain.ResourceLock),
		events: make(map[string][]domain.TxEvent),
	}
}

// WithTx mirrors the store's rollback: a failing fn leaves no trace.
func (f *fakeLedgerRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	txs := make(map[string]domain.Transaction, len(f.txs))
	for k, v := range f.txs {
		txs[k] = v
	}
	locks := make(map[string]domain.ResourceLock, len(f.locks))
	for k, v := range f.locks {
		locks[k] = v
	}
	events := make(map[string][]domain.TxEvent, len(f.events))
	for k, v := range f.events {
		events[k] = append([]domain.TxEvent(nil), v...)
	}

	if err := fn(ctx); err != nil {
		f.txs, f.locks, f.events = txs, locks, events
		return err
	}
	return nil
}

func (f *fakeLedgerRepo) FindByIdempotencyKey(_ context.Context, businessID, key string) (*domain.Transaction, error) {
	for _, tx := range f.txs {
		if tx.BusinessID == businessID && tx.IdempotencyKey == key {
			tx := tx
			return &tx, nil
		}
	}
	return nil, nil
}

func (f *fakeLedgerRepo) AcquireLock(_ context.Context, lock domain.ResourceLock) error {
	if existing, ok := f.locks[lock.LockKey]; ok && existing.ExpiresAt.After(lock.AcquiredAt) {
		return domain.ErrResourceUnavailable
	}
	f.locks[lock.LockKey] = lock
	return nil
}

func (f *fakeLedgerRepo) CreateTransaction(_ context.Context, tx domain.Transaction) error {
	for _, existing := range f.txs {
		if existing.BusinessID == tx.BusinessID && existing.IdempotencyKey == tx.IdempotencyKey {
			return domain.ErrIdempotencyConflict
		}
	}
	f.txs[tx.ID] = tx
	return nil
}

func (f *fakeLedgerRepo) AppendEvent(_ context.Context, transactionID string, payload domain.EventPayload, at time.Time) error {
	if f.appendEventErr != nil {
		return f.appendEventErr
	}
	f.events[transactionID] = append(f.events[transactionID], domain.TxEvent{
		TransactionID: transactionID,
		Seq:           len(f.events[transactionID]) + 1,
		Type:          payload.EventType(),
		Payload:       payload,
		CreatedAt:     at,
	})
	return nil
}

func (f *fakeLedgerRepo) GetForUpdate(ctx context.Context, transactionID string) (domain.Transaction, error) {
	return f.Get(ctx, transactionID)
}

func (f *fakeLedgerRepo) Get(_ context.Context, transactionID string) (domain.Transaction, error) {
	tx, ok := f.txs[transactionID]
	if !ok {
		return domain.Transaction{}, domain.ErrTransactionNotFound
	}
	return tx, nil
}

func (f *fakeLedgerRepo) Update(_ context.Context, tx domain.Transaction) error {
	if _, ok := f.txs[tx.ID]; !ok {
		return domain.ErrTransactionNotFound
	}
	f.txs[tx.ID] = tx
	return nil
}

func (f *fakeLedgerRepo) ReleaseLock(_ context.Context, lockKey, transactionID string) error {
	if existing, ok := f.locks[lockKey]; ok && existing.TransactionID == transactionID {
		delete(f.locks, lockKey)
	}
	return nil
}

func (f *fakeLedgerRepo) ListEvents(_ context.Context, transactionID string) ([]domain.TxEvent, error) {
	return append([]domain.TxEvent{}, f.events[transactionID]...), nil
}

func (f *fakeLedgerRepo) eventTypes(transactionID string) []domain.TxEventType {
	var types []domain.TxEventType
	for _, ev := range f.events[transactionID] {
		types = append(types, ev.Type)
	}
	return types
}
