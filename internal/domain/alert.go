package domain

import "time"

type AlertSeverity string

const (
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityCritical AlertSeverity = "critical"
)

// Invariant names, as reported by the audit sweep.
const (
	InvariantSingleActiveLock = "single_active_lock_per_key"
	InvariantNoOrphanLock     = "no_orphan_lock"
	InvariantLegalTransitions = "legal_transitions_only"
	InvariantIdempotencyKeys  = "idempotency_key_unique"
	InvariantEventLogContig   = "event_log_contiguous"
	InvariantExpirySLA        = "expiry_sla"
	InvariantProcessingSLA    = "processing_sla"
)

// SystemAlert records one detected invariant violation. Alerts are never
// auto-remediated; they exist to drive an operator response.
type SystemAlert struct {
	ID         string
	Invariant  string
	Severity   AlertSeverity
	EntityID   string
	Detail     string
	DetectedAt time.Time
}

// IdempotencyKeyDuplicate reports a business+key pair claimed by more
// than one transaction, which the uniqueness guarantee forbids.
type IdempotencyKeyDuplicate struct {
	BusinessID     string
	IdempotencyKey string
	Count          int
}
