package http

import (
	"context"
	"net/http"

	"github.com/cimillas/reservation-ledger/internal/worker"
)

// Sweeper runs one expiry reclamation pass.
type Sweeper interface {
	RunOnce(ctx context.Context) (worker.SweepReport, error)
}

// Auditor runs one invariant audit pass.
type Auditor interface {
	RunOnce(ctx context.Context) (int, error)
}

// HandleSweep triggers the expiry reclaimer. Meant for external cron
// infrastructure; the handler itself carries no schedule.
func HandleSweep(sweeper Sweeper) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
			return
		}

		report, err := sweeper.RunOnce(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, sweepResponse{
			Scanned: report.Scanned,
			Expired: report.Expired,
			Skipped: report.Skipped,
			Failed:  report.Failed,
		})
	}
}

// HandleAudit triggers the invariant checker.
func HandleAudit(auditor Auditor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
			return
		}

		violations, err := auditor.RunOnce(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, auditResponse{Violations: violations})
	}
}

type sweepResponse struct {
	Scanned int `json:"scanned"`
	Expired int `json:"expired"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

type auditResponse struct {
	Violations int `json:"violations"`
}
