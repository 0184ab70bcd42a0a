package sales

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
	"github.com/stretchr/testify/require"
)

func (f fixture) router() http.Handler {
	r := chi.NewRouter()
	r.Route("/sales", NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), f.svc).MountRoutes)
	return r
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

type paymentResponse struct {
	Sale    Sale    `json:"sale"`
	Payment Payment `json:"payment"`
}

func TestHandlerCreateAndPay(t *testing.T) {
	f := newFixture(t)
	h := f.router()

	rec := serve(h, http.MethodPost, "/sales/",
		`{"customer_id":11,"tax":"13000000","lines":[{"product_id":1,"quantity":"2","unit_price":"100000000"}]}`,
		map[string]string{"X-Actor-ID": "4"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var sale Sale
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sale))
	require.Equal(t, "213000000.00", sale.Total.StringFixed(2))
	require.Equal(t, int64(4), sale.CreatedBy)

	target := fmt.Sprintf("/sales/%d/payments", sale.ID)
	body := fmt.Sprintf(`{"account_id":%d,"amount":"100000000"}`, f.drawer.ID)
	key := map[string]string{"Idempotency-Key": "sale-pay-1"}

	rec = serve(h, http.MethodPost, target, body, key)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var paid paymentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &paid))
	require.Equal(t, SaleStatusPending, paid.Sale.Status)
	require.Equal(t, "100000000.00", paid.Sale.PaidAmount.StringFixed(2))
	require.NotZero(t, paid.Payment.LedgerTxID)

	rec = serve(h, http.MethodPost, target, body, key)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "Duplicate Request")

	rec = serve(h, http.MethodGet, fmt.Sprintf("/sales/%d", sale.ID), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sale))
	require.Equal(t, "100000000.00", sale.PaidAmount.StringFixed(2))

	drawer, err := f.ledger.GetAccount(context.Background(), f.drawer.ID)
	require.NoError(t, err)
	require.Equal(t, "100000000.00", drawer.Balance.StringFixed(2))

	rec = serve(h, http.MethodPost, target, fmt.Sprintf(`{"account_id":%d,"amount":"113000000"}`, f.bank.ID), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &paid))
	require.Equal(t, SaleStatusCompleted, paid.Sale.Status)

	rec = serve(h, http.MethodGet, target, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var payments []Payment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payments))
	require.Len(t, payments, 2)
}

func TestHandlerMapsSaleErrors(t *testing.T) {
	f := newFixture(t)
	h := f.router()
	sale := f.ringSale(t)
	target := fmt.Sprintf("/sales/%d/payments", sale.ID)

	rec := serve(h, http.MethodPost, target, fmt.Sprintf(`{"account_id":%d,"amount":"213000000.01"}`, f.drawer.ID), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), `"field":"amount"`)

	rec = serve(h, http.MethodPost, target, `{"amount":"10"}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), `"field":"account_id"`)

	rec = serve(h, http.MethodGet, "/sales/404", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(h, http.MethodPost, "/sales/", `{"customer_id":11,"lines":[]}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(h, http.MethodPost, fmt.Sprintf("/sales/%d/cancel", sale.ID), "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = serve(h, http.MethodPost, target, fmt.Sprintf(`{"account_id":%d,"amount":"10"}`, f.drawer.ID), nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "Invalid State Transition")
}
