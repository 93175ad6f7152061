package app

import (
	"context"
	"errors"
	"time"

	"github.com/cimillas/reservation-ledger/internal/clock"
	"github.com/cimillas/reservation-ledger/internal/domain"
	"github.com/cimillas/reservation-ledger/internal/lockkey"
)

type HoldRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	FindByIdempotencyKey(ctx context.Context, businessID, key string) (*domain.Transaction, error)
	AcquireLock(ctx context.Context, lock domain.ResourceLock) error
	CreateTransaction(ctx context.Context, tx domain.Transaction) error
	AppendEvent(ctx context.Context, transactionID string, payload domain.EventPayload, at time.Time) error
}

type HoldService struct {
	repo    HoldRepository
	clock   clock.Clock
	holdTTL time.Duration
}

const defaultHoldTTL = 15 * time.Minute

func NewHoldService(repo HoldRepository, clk clock.Clock, opts ...HoldServiceOption) *HoldService {
	svc := &HoldService{
		repo:    repo,
		clock:   clk,
		holdTTL: defaultHoldTTL,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type HoldServiceOption func(*HoldService)

// WithHoldTTL overrides the default TTL for new holds.
func WithHoldTTL(d time.Duration) HoldServiceOption {
	return func(s *HoldService) {
		if d > 0 {
			s.holdTTL = d
		}
	}
}

// ResourceKind selects the lock key class for the contended resource.
type ResourceKind string

const (
	ResourceKindTable    ResourceKind = "table"
	ResourceKindOffering ResourceKind = "offering"
)

type CreateHoldInput struct {
	BusinessID     string
	ResourceKind   ResourceKind
	ResourceID     string
	Slot           time.Time
	IdempotencyKey string
	// HoldTTL optionally overrides the service default for this hold.
	HoldTTL time.Duration
}

type CreateHoldResult struct {
	Transaction domain.Transaction
	// Replayed is true when an earlier call with the same idempotency key
	// already placed the hold and its record was returned as-is.
	Replayed bool
}

// CreateHold places an exclusive hold on the derived resource. Exactly one
// of any set of concurrent calls for the same lock key wins; the rest get
// ErrResourceUnavailable. Lock acquisition, the transaction record, and
// the HOLD_CREATED event commit atomically.
func (s *HoldService) CreateHold(ctx context.Context, in CreateHoldInput) (CreateHoldResult, error) {
	if in.BusinessID == "" || in.ResourceID == "" {
		return CreateHoldResult{}, domain.ErrInvalidID
	}
	if in.IdempotencyKey == "" {
		return CreateHoldResult{}, domain.ErrIdempotencyKeyRequired
	}

	key, err := deriveLockKey(in)
	if err != nil {
		return CreateHoldResult{}, err
	}

	ttl := s.holdTTL
	if in.HoldTTL > 0 {
		ttl = in.HoldTTL
	}

	now := s.clock.Now()
	expiresAt := now.Add(ttl)
	var result CreateHoldResult

	err = s.repo.WithTx(ctx, func(txCtx context.Context) error {
		if existing, err := s.repo.FindByIdempotencyKey(txCtx, in.BusinessID, in.IdempotencyKey); err != nil {
			return err
		} else if existing != nil {
			if existing.LockKey != key {
				return domain.ErrIdempotencyConflict
			}
			result = CreateHoldResult{Transaction: *existing, Replayed: true}
			return nil
		}

		tx := domain.Transaction{
			ID:             newTransactionID(),
			BusinessID:     in.BusinessID,
			State:          domain.TxStateHold,
			LockKey:        key,
			HoldExpiresAt:  &expiresAt,
			IdempotencyKey: in.IdempotencyKey,
			CreatedAt:      now,
			UpdatedAt:      now,
		}

		// Reserving the idempotency key is itself the atomic conditional
		// write: concurrent duplicates lose the unique race here and never
		// reach lock acquisition.
		if err := s.repo.CreateTransaction(txCtx, tx); err != nil {
			// Re-read on conflict to keep idempotent retries consistent under concurrency.
			if errors.Is(err, domain.ErrIdempotencyConflict) {
				existing, rerr := s.repo.FindByIdempotencyKey(txCtx, in.BusinessID, in.IdempotencyKey)
				if rerr != nil {
					return rerr
				}
				if existing != nil {
					if existing.LockKey != key {
						return domain.ErrIdempotencyConflict
					}
					result = CreateHoldResult{Transaction: *existing, Replayed: true}
					return nil
				}
			}
			return err
		}

		if err := s.repo.AcquireLock(txCtx, domain.ResourceLock{
			LockKey:       key,
			TransactionID: tx.ID,
			AcquiredAt:    now,
			ExpiresAt:     expiresAt,
		}); err != nil {
			return err
		}

		if err := s.repo.AppendEvent(txCtx, tx.ID, domain.HoldCreatedPayload{
			LockKey:       key,
			HoldExpiresAt: expiresAt,
		}, now); err != nil {
			return err
		}

		result = CreateHoldResult{Transaction: tx}
		return nil
	})
	if err != nil {
		return CreateHoldResult{}, err
	}
	return result, nil
}

func deriveLockKey(in CreateHoldInput) (string, error) {
	switch in.ResourceKind {
	case ResourceKindTable:
		return lockkey.ForTable(in.BusinessID, in.ResourceID, in.Slot), nil
	case ResourceKindOffering, "":
		return lockkey.ForOffering(in.BusinessID, in.ResourceID, in.Slot), nil
	}
	return "", domain.ErrInvalidID
}
