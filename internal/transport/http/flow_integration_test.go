package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cimillas/reservation-ledger/internal/app"
	"github.com/cimillas/reservation-ledger/internal/clock"
	"github.com/cimillas/reservation-ledger/internal/domain"
	"github.com/cimillas/reservation-ledger/internal/logging"
	"github.com/cimillas/reservation-ledger/internal/storage/postgres"
	"github.com/cimillas/reservation-ledger/internal/testutil"
	"github.com/cimillas/reservation-ledger/internal/worker"
)

func TestHoldConfirm_HTTPIntegration(t *testing.T) {
	pool := testutil.NewTestPool(t)
	testutil.ApplyMigrations(t, context.Background(), pool)
	holdRepo := postgres.NewHoldRepository(pool)
	txRepo := postgres.NewTransactionRepository(pool)

	now := time.Date(2025, 1, 4, 10, 0, 0, 0, time.UTC)
	holdSvc := app.NewHoldService(holdRepo, clock.NewFixed(now))
	txSvc := app.NewTransactionService(txRepo, clock.NewFixed(now.Add(time.Minute)))

	ctx := context.Background()
	testutil.TruncateAll(t, ctx, pool)

	mux := http.NewServeMux()
	mux.Handle("/holds", HandleCreateHold(holdSvc))
	mux.Handle("/transactions/", HandleTransaction(txSvc))

	holdBody := func(key string) []byte {
		return []byte(`{
			"business_id": "biz_1",
			"resource_kind": "table",
			"resource_id": "table_5",
			"slot": "2025-01-04T19:00:00Z",
			"idempotency_key": "` + key + `"
		}`)
	}

	// First hold on the slot wins.
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/holds", bytes.NewBuffer(holdBody("idem-1"))))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d (body %s)", rec.Code, rec.Body.String())
	}
	var created createHoldResponse
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.State != string(domain.TxStateHold) {
		t.Fatalf("expected state hold, got %s", created.State)
	}

	// A second caller with its own key loses the slot.
	rec2 := httptest.NewRecorder()
	mux.ServeHTTP(rec2, httptest.NewRequest(http.MethodPost, "/holds", bytes.NewBuffer(holdBody("idem-2"))))
	if rec2.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rec2.Code)
	}

	// Retrying the winner's request replays it.
	rec3 := httptest.NewRecorder()
	mux.ServeHTTP(rec3, httptest.NewRequest(http.MethodPost, "/holds", bytes.NewBuffer(holdBody("idem-1"))))
	if rec3.Code != http.StatusOK {
		t.Fatalf("expected status 200 on replay, got %d", rec3.Code)
	}
	var replayed createHoldResponse
	if err := json.NewDecoder(rec3.Body).Decode(&replayed); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if replayed.TransactionID != created.TransactionID {
		t.Fatalf("expected same transaction on replay")
	}

	// Confirm, then confirm again with the same key: identical snapshots.
	confirmReq := httptest.NewRequest(http.MethodPost, "/transactions/"+created.TransactionID+"/confirm", nil)
	confirmReq.Header.Set(idempotencyHeader, "idem-confirm")
	confirmRec := httptest.NewRecorder()
	mux.ServeHTTP(confirmRec, confirmReq)
	if confirmRec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d (body %s)", confirmRec.Code, confirmRec.Body.String())
	}
	var confirmed confirmResponse
	if err := json.NewDecoder(confirmRec.Body).Decode(&confirmed); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	confirmReq2 := httptest.NewRequest(http.MethodPost, "/transactions/"+created.TransactionID+"/confirm", nil)
	confirmReq2.Header.Set(idempotencyHeader, "idem-confirm")
	confirmRec2 := httptest.NewRecorder()
	mux.ServeHTTP(confirmRec2, confirmReq2)
	if confirmRec2.Code != http.StatusOK {
		t.Fatalf("expected status 200 on replay, got %d", confirmRec2.Code)
	}
	var confirmed2 confirmResponse
	if err := json.NewDecoder(confirmRec2.Body).Decode(&confirmed2); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !bytes.Equal(confirmed.ResultSnapshot, confirmed2.ResultSnapshot) {
		t.Fatalf("snapshots differ:\n%s\n%s", confirmed.ResultSnapshot, confirmed2.ResultSnapshot)
	}
	if !confirmed2.Replayed {
		t.Fatalf("expected replayed confirm")
	}

	// The confirmed transaction released its lock, so the slot is free again.
	rec4 := httptest.NewRecorder()
	mux.ServeHTTP(rec4, httptest.NewRequest(http.MethodPost, "/holds", bytes.NewBuffer(holdBody("idem-3"))))
	if rec4.Code != http.StatusCreated {
		t.Fatalf("expected freed slot to be holdable, got %d", rec4.Code)
	}

	// The event log reads back through the detail endpoint.
	getRec := httptest.NewRecorder()
	mux.ServeHTTP(getRec, httptest.NewRequest(http.MethodGet, "/transactions/"+created.TransactionID, nil))
	if getRec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", getRec.Code)
	}
	var detail transactionResponse
	if err := json.NewDecoder(getRec.Body).Decode(&detail); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if detail.State != string(domain.TxStateConfirmed) {
		t.Fatalf("expected confirmed, got %s", detail.State)
	}
	if len(detail.Events) != 3 {
		t.Fatalf("expected 3 events, got %+v", detail.Events)
	}
}

func TestSweepFreesExpiredHolds_HTTPIntegration(t *testing.T) {
	pool := testutil.NewTestPool(t)
	testutil.ApplyMigrations(t, context.Background(), pool)
	holdRepo := postgres.NewHoldRepository(pool)
	txRepo := postgres.NewTransactionRepository(pool)

	start := time.Date(2025, 1, 4, 10, 0, 0, 0, time.UTC)
	clk := clock.NewManual(start)
	holdSvc := app.NewHoldService(holdRepo, clk, app.WithHoldTTL(15*time.Minute))
	txSvc := app.NewTransactionService(txRepo, clk)
	reclaimer := worker.NewReclaimer(txRepo, txSvc, clk, logging.NewNop())

	ctx := context.Background()
	testutil.TruncateAll(t, ctx, pool)

	mux := http.NewServeMux()
	mux.Handle("/holds", HandleCreateHold(holdSvc))
	mux.Handle("/internal/sweep", HandleSweep(reclaimer))

	body := []byte(`{
		"business_id": "biz_1",
		"resource_kind": "offering",
		"resource_id": "suite_2",
		"slot": "2025-01-04T19:00:00Z",
		"idempotency_key": "idem-1"
	}`)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/holds", bytes.NewBuffer(body)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d (body %s)", rec.Code, rec.Body.String())
	}
	var created createHoldResponse
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	// Let the hold lapse, then trigger a sweep.
	clk.Advance(time.Hour)

	sweepRec := httptest.NewRecorder()
	mux.ServeHTTP(sweepRec, httptest.NewRequest(http.MethodPost, "/internal/sweep", nil))
	if sweepRec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", sweepRec.Code)
	}
	var report sweepResponse
	if err := json.NewDecoder(sweepRec.Body).Decode(&report); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if report.Expired != 1 {
		t.Fatalf("expected 1 expired hold, got %+v", report)
	}

	var state string
	if err := pool.QueryRow(ctx, `SELECT state FROM transactions WHERE id = $1`, created.TransactionID).Scan(&state); err != nil {
		t.Fatalf("query state: %v", err)
	}
	if state != string(domain.TxStateExpired) {
		t.Fatalf("expected expired, got %s", state)
	}

	// The freed slot is holdable again.
	body2 := []byte(`{
		"business_id": "biz_1",
		"resource_kind": "offering",
		"resource_id": "suite_2",
		"slot": "2025-01-04T19:00:00Z",
		"idempotency_key": "idem-2"
	}`)
	rec2 := httptest.NewRecorder()
	mux.ServeHTTP(rec2, httptest.NewRequest(http.MethodPost, "/holds", bytes.NewBuffer(body2)))
	if rec2.Code != http.StatusCreated {
		t.Fatalf("expected freed slot to be holdable, got %d (body %s)", rec2.Code, rec2.Body.String())
	}
}
