package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/cimillas/reservation-ledger/internal/app"
	"github.com/cimillas/reservation-ledger/internal/domain"
)

const idempotencyHeader = "Idempotency-Key"

// TransactionFinalizer covers the lifecycle calls exposed on a single
// transaction.
type TransactionFinalizer interface {
	Confirm(ctx context.Context, in app.ConfirmInput) (app.ConfirmResult, error)
	Cancel(ctx context.Context, transactionID string) (app.CancelResult, error)
	Get(ctx context.Context, transactionID string) (app.TransactionDetail, error)
}

// HandleTransaction routes /transactions/{id}, /transactions/{id}/confirm
// and /transactions/{id}/cancel.
func HandleTransaction(svc TransactionFinalizer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, action, ok := parseTransactionPath(r.URL.Path)
		if !ok {
			NotFoundHandler().ServeHTTP(w, r)
			return
		}

		switch action {
		case "":
			if r.Method != http.MethodGet {
				writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
				return
			}
			handleGetTransaction(w, r, svc, id)
		case "confirm":
			if r.Method != http.MethodPost {
				writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
				return
			}
			handleConfirm(w, r, svc, id)
		case "cancel":
			if r.Method != http.MethodPost {
				writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
				return
			}
			handleCancel(w, r, svc, id)
		default:
			NotFoundHandler().ServeHTTP(w, r)
		}
	}
}

func handleConfirm(w http.ResponseWriter, r *http.Request, svc TransactionFinalizer, id string) {
	key := r.Header.Get(idempotencyHeader)
	if key == "" {
		writeError(w, http.StatusBadRequest, codeIdempotencyRequired, domain.ErrIdempotencyKeyRequired.Error())
		return
	}

	res, err := svc.Confirm(r.Context(), app.ConfirmInput{
		TransactionID:  id,
		IdempotencyKey: key,
	})
	if err != nil {
		writeTransactionError(w, err)
		return
	}

	resp := confirmResponse{
		TransactionID:  id,
		State:          string(res.State),
		ResultSnapshot: json.RawMessage(res.ResultSnapshot),
		Replayed:       res.Replayed,
	}
	status := http.StatusOK
	if !res.Replayed && res.State == domain.TxStateConfirmed {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

func handleCancel(w http.ResponseWriter, r *http.Request, svc TransactionFinalizer, id string) {
	res, err := svc.Cancel(r.Context(), id)
	if err != nil {
		writeTransactionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelResponse{
		TransactionID: id,
		State:         string(res.State),
		Replayed:      res.Replayed,
	})
}

func handleGetTransaction(w http.ResponseWriter, r *http.Request, svc TransactionFinalizer, id string) {
	detail, err := svc.Get(r.Context(), id)
	if err != nil {
		writeTransactionError(w, err)
		return
	}

	tx := detail.Transaction
	resp := transactionResponse{
		TransactionID:  tx.ID,
		BusinessID:     tx.BusinessID,
		State:          string(tx.State),
		LockKey:        tx.LockKey,
		HoldExpiresAt:  tx.HoldExpiresAt,
		ResultSnapshot: json.RawMessage(tx.ResultSnapshot),
		CreatedAt:      tx.CreatedAt,
		ClosedAt:       tx.ClosedAt,
	}
	for _, ev := range detail.Events {
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
			return
		}
		resp.Events = append(resp.Events, eventResponse{
			Seq:       ev.Seq,
			Type:      string(ev.Type),
			Payload:   payload,
			CreatedAt: ev.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeTransactionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrTransactionNotFound):
		writeError(w, http.StatusNotFound, codeTransactionNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidID):
		writeError(w, http.StatusBadRequest, codeInvalidID, err.Error())
	case errors.Is(err, domain.ErrIdempotencyKeyRequired):
		writeError(w, http.StatusBadRequest, codeIdempotencyRequired, err.Error())
	case errors.Is(err, domain.ErrIdempotencyConflict):
		writeError(w, http.StatusConflict, codeIdempotencyConflict, err.Error())
	case errors.Is(err, domain.ErrHoldExpired):
		writeError(w, http.StatusConflict, codeHoldExpired, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, codeInvalidTransition, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
	}
}

func parseTransactionPath(path string) (id, action string, ok bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 || len(parts) > 3 || parts[0] != "transactions" || parts[1] == "" {
		return "", "", false
	}
	if len(parts) == 2 {
		return parts[1], "", true
	}
	return parts[1], parts[2], true
}

type confirmResponse struct {
	TransactionID  string          `json:"transaction_id"`
	State          string          `json:"state"`
	ResultSnapshot json.RawMessage `json:"result_snapshot,omitempty"`
	Replayed       bool            `json:"replayed"`
}

type cancelResponse struct {
	TransactionID string `json:"transaction_id"`
	State         string `json:"state"`
	Replayed      bool   `json:"replayed"`
}

type transactionResponse struct {
	TransactionID  string          `json:"transaction_id"`
	BusinessID     string          `json:"business_id"`
	State          string          `json:"state"`
	LockKey        string          `json:"lock_key,omitempty"`
	HoldExpiresAt  *time.Time      `json:"hold_expires_at,omitempty"`
	ResultSnapshot json.RawMessage `json:"result_snapshot,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	ClosedAt       *time.Time      `json:"closed_at,omitempty"`
	Events         []eventResponse `json:"events"`
}

type eventResponse struct {
	Seq       int             `json:"seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
