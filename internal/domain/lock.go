package domain

import "time"

// ResourceLock is an exclusive claim on a contended resource. At most one
// unexpired lock may exist per LockKey; the transaction holding it is the
// only one allowed to release it.
type ResourceLock struct {
	LockKey       string
	TransactionID string
	AcquiredAt    time.Time
	ExpiresAt     time.Time
}

// Active reports whether the lock still excludes other claimants.
func (l ResourceLock) Active(now time.Time) bool {
	return l.ExpiresAt.After(now)
}
