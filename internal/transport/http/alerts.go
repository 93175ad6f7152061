package http

import (
	"context"
	"net/http"
	"time"

	"github.com/cimillas/reservation-ledger/internal/domain"
	"github.com/spf13/cast"
)

// AlertLister exposes recent invariant violations to operators.
type AlertLister interface {
	ListRecentAlerts(ctx context.Context, limit int) ([]domain.SystemAlert, error)
}

const defaultAlertLimit = 100

// HandleListAlerts returns an HTTP handler for the operator alert feed.
func HandleListAlerts(svc AlertLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
			return
		}

		limit := defaultAlertLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if n := cast.ToInt(raw); n > 0 && n <= 1000 {
				limit = n
			}
		}

		alerts, err := svc.ListRecentAlerts(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
			return
		}

		resp := alertListResponse{Alerts: make([]alertResponse, 0, len(alerts))}
		for _, alert := range alerts {
			resp.Alerts = append(resp.Alerts, alertResponse{
				ID:         alert.ID,
				Invariant:  alert.Invariant,
				Severity:   string(alert.Severity),
				EntityID:   alert.EntityID,
				Detail:     alert.Detail,
				DetectedAt: alert.DetectedAt,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type alertListResponse struct {
	Alerts []alertResponse `json:"alerts"`
}

type alertResponse struct {
	ID         string    `json:"id"`
	Invariant  string    `json:"invariant"`
	Severity   string    `json:"severity"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	DetectedAt time.Time `json:"detected_at"`
}
