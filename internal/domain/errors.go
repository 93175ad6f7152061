package domain

import "errors"

var (
	ErrResourceUnavailable    = errors.New("resource unavailable")
	ErrInvalidTransition      = errors.New("invalid transition")
	ErrHoldExpired            = errors.New("hold expired")
	ErrIdempotencyKeyRequired = errors.New("idempotency key required")
	ErrIdempotencyConflict    = errors.New("idempotency conflict")
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrInvalidID              = errors.New("invalid id")
)
