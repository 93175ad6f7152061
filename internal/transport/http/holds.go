package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/cimillas/reservation-ledger/internal/app"
	"github.com/cimillas/reservation-ledger/internal/domain"
)

// HoldCreator is the minimal interface needed to place a hold.
type HoldCreator interface {
	CreateHold(ctx context.Context, in app.CreateHoldInput) (app.CreateHoldResult, error)
}

// HandleCreateHold returns an HTTP handler for placing holds.
func HandleCreateHold(svc HoldCreator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
			return
		}

		var req createHoldRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		if code, msg, ok := req.validate(); !ok {
			writeError(w, http.StatusBadRequest, code, msg)
			return
		}

		slot, err := time.Parse(time.RFC3339, req.Slot)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidSlot, "slot must be RFC3339")
			return
		}

		res, err := svc.CreateHold(r.Context(), app.CreateHoldInput{
			BusinessID:     req.BusinessID,
			ResourceKind:   app.ResourceKind(req.ResourceKind),
			ResourceID:     req.ResourceID,
			Slot:           slot,
			IdempotencyKey: req.IdempotencyKey,
			HoldTTL:        time.Duration(req.HoldTTLSeconds) * time.Second,
		})
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrInvalidID):
				writeError(w, http.StatusBadRequest, codeInvalidID, err.Error())
			case errors.Is(err, domain.ErrIdempotencyKeyRequired):
				writeError(w, http.StatusBadRequest, codeIdempotencyRequired, err.Error())
			case errors.Is(err, domain.ErrIdempotencyConflict):
				writeError(w, http.StatusConflict, codeIdempotencyConflict, err.Error())
			case errors.Is(err, domain.ErrResourceUnavailable):
				// The slot is taken; the caller decides whether to retry.
				writeError(w, http.StatusConflict, codeResourceUnavailable, "resource is no longer available")
			default:
				writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
			}
			return
		}

		tx := res.Transaction
		resp := createHoldResponse{
			TransactionID: tx.ID,
			State:         string(tx.State),
			LockKey:       tx.LockKey,
		}
		if tx.HoldExpiresAt != nil {
			resp.HoldExpiresAt = *tx.HoldExpiresAt
		}

		status := http.StatusCreated
		if res.Replayed {
			status = http.StatusOK
		}
		writeJSON(w, status, resp)
	}
}

type createHoldRequest struct {
	BusinessID     string `json:"business_id"`
	ResourceKind   string `json:"resource_kind"`
	ResourceID     string `json:"resource_id"`
	Slot           string `json:"slot"`
	IdempotencyKey string `json:"idempotency_key"`
	HoldTTLSeconds int    `json:"hold_ttl_seconds"`
}

func (r createHoldRequest) validate() (code, msg string, ok bool) {
	if r.BusinessID == "" || r.ResourceID == "" {
		return codeInvalidID, "business_id and resource_id are required", false
	}
	if r.IdempotencyKey == "" {
		return codeIdempotencyRequired, domain.ErrIdempotencyKeyRequired.Error(), false
	}
	if r.Slot == "" {
		return codeInvalidSlot, "slot is required", false
	}
	return "", "", true
}

type createHoldResponse struct {
	TransactionID string    `json:"transaction_id"`
	State         string    `json:"state"`
	LockKey       string    `json:"lock_key"`
	HoldExpiresAt time.Time `json:"hold_expires_at"`
}
