package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/cimillas/reservation-ledger/internal/domain"
)

// AlertStore persists alerts for the operator surface.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert domain.SystemAlert) error
}

// StoreSink persists every alert and mirrors it to the log, so a broken
// alerts table still leaves a trace.
type StoreSink struct {
	store  AlertStore
	logger *zap.SugaredLogger
}

func NewStoreSink(store AlertStore, logger *zap.SugaredLogger) *StoreSink {
	return &StoreSink{store: store, logger: logger}
}

func (s *StoreSink) Emit(ctx context.Context, alert domain.SystemAlert) error {
	log := s.logger.Warnw
	if alert.Severity == domain.AlertSeverityCritical {
		log = s.logger.Errorw
	}
	log("invariant violation",
		"invariant", alert.Invariant,
		"severity", alert.Severity,
		"entity_id", alert.EntityID,
		"detail", alert.Detail,
	)
	return s.store.InsertAlert(ctx, alert)
}
