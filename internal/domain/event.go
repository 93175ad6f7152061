package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type TxEventType string

const (
	EventHoldCreated    TxEventType = "HOLD_CREATED"
	EventConfirmSuccess TxEventType = "CONFIRM_SUCCESS"
	EventConfirmFailed  TxEventType = "CONFIRM_FAILED"
	EventCancelled      TxEventType = "CANCELLED"
	EventExpired        TxEventType = "EXPIRED"
	EventReleased       TxEventType = "RELEASED"
)

// TxEvent is one immutable entry in a transaction's append-only audit log.
// Seq is assigned at append time and strictly increases within a
// transaction; events are never mutated or deleted.
type TxEvent struct {
	TransactionID string
	Seq           int
	Type          TxEventType
	Payload       EventPayload
	CreatedAt     time.Time
}

// EventPayload is the tagged union of per-event-type payloads.
type EventPayload interface {
	EventType() TxEventType
}

type HoldCreatedPayload struct {
	LockKey       string    `json:"lock_key"`
	HoldExpiresAt time.Time `json:"hold_expires_at"`
}

func (HoldCreatedPayload) EventType() TxEventType { return EventHoldCreated }

type ConfirmSuccessPayload struct {
	LockKey          string `json:"lock_key"`
	ConfirmationCode string `json:"confirmation_code"`
}

func (ConfirmSuccessPayload) EventType() TxEventType { return EventConfirmSuccess }

type ConfirmFailedPayload struct {
	LockKey string `json:"lock_key"`
	Reason  string `json:"reason"`
}

func (ConfirmFailedPayload) EventType() TxEventType { return EventConfirmFailed }

type CancelledPayload struct {
	LockKey string `json:"lock_key"`
}

func (CancelledPayload) EventType() TxEventType { return EventCancelled }

type ExpiredPayload struct {
	LockKey       string    `json:"lock_key"`
	HoldExpiresAt time.Time `json:"hold_expires_at"`
}

func (ExpiredPayload) EventType() TxEventType { return EventExpired }

type ReleasedPayload struct {
	LockKey string `json:"lock_key"`
}

func (ReleasedPayload) EventType() TxEventType { return EventReleased }

// DecodePayload rebuilds the typed payload for a stored event row.
func DecodePayload(eventType TxEventType, raw []byte) (EventPayload, error) {
	var (
		payload EventPayload
		err     error
	)
	switch eventType {
	case EventHoldCreated:
		var p HoldCreatedPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case EventConfirmSuccess:
		var p ConfirmSuccessPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case EventConfirmFailed:
		var p ConfirmFailedPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case EventCancelled:
		var p CancelledPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case EventExpired:
		var p ExpiredPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case EventReleased:
		var p ReleasedPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", eventType, err)
	}
	return payload, nil
}

// eventTarget maps each event type to the state it drives the
// transaction into. RELEASED is informational and leaves state alone.
var eventTarget = map[TxEventType]TxState{
	EventHoldCreated:    TxStateHold,
	EventConfirmSuccess: TxStateConfirmed,
	EventConfirmFailed:  TxStateFailed,
	EventCancelled:      TxStateCancelled,
	EventExpired:        TxStateExpired,
}

// Replay folds an ordered event log into the state it implies, starting
// from draft. It fails on any step the transition table forbids, which
// makes it usable both for audit verification and for rebuilding state.
func Replay(events []TxEvent) (TxState, error) {
	state := TxStateDraft
	for _, ev := range events {
		target, ok := eventTarget[ev.Type]
		if !ok {
			// Informational events carry no transition.
			continue
		}
		if !CanTransition(state, target) {
			return state, fmt.Errorf("event %s at seq %d: illegal transition %s -> %s: %w",
				ev.Type, ev.Seq, state, target, ErrInvalidTransition)
		}
		state = target
	}
	return state, nil
}
