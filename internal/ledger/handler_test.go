package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newLedgerRouter(t *testing.T) (http.Handler, *Service) {
	t.Helper()
	svc := NewService(NewMemoryStore(), nil, ServiceConfig{})
	r := chi.NewRouter()
	r.Route("/ledger", NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc).MountRoutes)
	return r, svc
}

func serve(h http.Handler, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func openViaHTTP(t *testing.T, h http.Handler) Account {
	t.Helper()
	rec := serve(h, http.MethodPost, "/ledger/accounts",
		`{"code":"BCA-01","name":"BCA operating","kind":"BANK","opening_balance":"500"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var acc Account
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &acc))
	require.True(t, acc.Balance.Equal(decimal.NewFromInt(500)))
	return acc
}

func TestHandlerRecordForwardsIdempotencyKey(t *testing.T) {
	h, svc := newLedgerRouter(t)
	acc := openViaHTTP(t, h)
	target := fmt.Sprintf("/ledger/accounts/%d/transactions", acc.ID)
	header := map[string]string{"Idempotency-Key": "dep-20261016-1", "X-Actor-ID": "7"}

	rec := serve(h, http.MethodPost, target, `{"type":"DEPOSIT","amount":"250","reference":"INV-1"}`, header)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var txn Transaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &txn))
	require.True(t, txn.BalanceAfter.Equal(decimal.NewFromInt(750)))
	require.Equal(t, int64(7), txn.CreatedBy)

	rec = serve(h, http.MethodPost, target, `{"type":"DEPOSIT","amount":"250","reference":"INV-1"}`, header)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "Duplicate Request")

	stored, err := svc.GetAccount(context.Background(), acc.ID)
	require.NoError(t, err)
	require.True(t, stored.Balance.Equal(decimal.NewFromInt(750)))
}

func TestHandlerRecordHonoursAllowNegative(t *testing.T) {
	h, _ := newLedgerRouter(t)
	acc := openViaHTTP(t, h)
	target := fmt.Sprintf("/ledger/accounts/%d/transactions", acc.ID)

	rec := serve(h, http.MethodPost, target, `{"type":"WITHDRAWAL","amount":"800"}`, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var problem map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, "Invariant Violation", problem["title"])
	require.Equal(t, "500", problem["available"])

	rec = serve(h, http.MethodPost, target, `{"type":"WITHDRAWAL","amount":"800","allow_negative":true}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var txn Transaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &txn))
	require.True(t, txn.BalanceAfter.Equal(decimal.NewFromInt(-300)))
}

func TestHandlerMapsLedgerErrors(t *testing.T) {
	h, _ := newLedgerRouter(t)
	acc := openViaHTTP(t, h)

	rec := serve(h, http.MethodGet, "/ledger/accounts/999", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(h, http.MethodGet, "/ledger/accounts/abc", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(h, http.MethodPost, fmt.Sprintf("/ledger/accounts/%d/transactions", acc.ID), `{"type":"CASH_IN","amount":"10"}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), `"field":"type"`)

	rec = serve(h, http.MethodPost, "/ledger/accounts", `{"code":"X","name":"Y","kind":"BANK","colour":"gold"}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(h, http.MethodGet, fmt.Sprintf("/ledger/accounts/%d/transactions", acc.ID), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var statement []Transaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statement))
	require.Len(t, statement, 1)

	target := fmt.Sprintf("/ledger/transactions/%d/reconcile", statement[0].ID)
	rec = serve(h, http.MethodPost, target, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = serve(h, http.MethodPost, target, "", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "Invalid State Transition")
}

func TestHandlerVerifyReportsDrift(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, nil, ServiceConfig{})
	r := chi.NewRouter()
	r.Route("/ledger", NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc).MountRoutes)
	acc := openViaHTTP(t, r)

	rec := serve(r, http.MethodGet, fmt.Sprintf("/ledger/accounts/%d/verify", acc.ID), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"consistent":true`)

	store.corrupt(acc.ID, decimal.NewFromInt(1))
	rec = serve(r, http.MethodGet, fmt.Sprintf("/ledger/accounts/%d/verify", acc.ID), "", nil)
	require.Contains(t, rec.Body.String(), `"consistent":false`)
}
