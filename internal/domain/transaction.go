package domain

import "time"

type TxState string

const (
	TxStateDraft     TxState = "draft"
	TxStateHold      TxState = "hold"
	TxStateConfirmed TxState = "confirmed"
	TxStateFailed    TxState = "failed"
	TxStateExpired   TxState = "expired"
	TxStateCancelled TxState = "cancelled"
)

// Transaction is the canonical record of one booking/order/rental attempt.
// State is only ever mutated through guarded transitions; terminal records
// are immutable except for audit reads.
type Transaction struct {
	ID             string
	BusinessID     string
	State          TxState
	LockKey        string // empty before the hold is placed
	HoldExpiresAt  *time.Time
	IdempotencyKey string
	// ConfirmIdempotencyKey is the key supplied by the confirm call that
	// finalized the transaction, empty until then.
	ConfirmIdempotencyKey string
	// ResultSnapshot is the outcome recorded on the first successful
	// completion and replayed verbatim on duplicate calls.
	ResultSnapshot []byte
	ConfirmedAt    *time.Time
	ClosedAt       *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// transitions enumerates every legal state change. Anything absent here
// is rejected with ErrInvalidTransition.
var transitions = map[TxState][]TxState{
	TxStateDraft: {TxStateHold, TxStateFailed, TxStateCancelled},
	TxStateHold:  {TxStateConfirmed, TxStateFailed, TxStateExpired, TxStateCancelled},
}

// CanTransition reports whether from -> to is a legal guarded transition.
func CanTransition(from, to TxState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a state admits no further transitions.
func (s TxState) IsTerminal() bool {
	switch s {
	case TxStateConfirmed, TxStateFailed, TxStateExpired, TxStateCancelled:
		return true
	}
	return false
}

// HoldExpired reports whether the transaction is a hold past its TTL.
func (t Transaction) HoldExpired(now time.Time) bool {
	return t.State == TxStateHold && t.HoldExpiresAt != nil && !t.HoldExpiresAt.After(now)
}
