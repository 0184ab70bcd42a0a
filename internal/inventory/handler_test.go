package inventory

import (
	"encoding/json"
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

func newInventoryRouter() http.Handler {
	svc := NewService(NewMemoryStore(), nil, ServiceConfig{})
	r := chi.NewRouter()
	r.Route("/inventory", NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc).MountRoutes)
	return r
}

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", "5")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerAdjustmentUpdatesStock(t *testing.T) {
	h := newInventoryRouter()

	rec := serve(h, http.MethodPost, "/inventory/adjustments", `{"product_id":3,"qty":"12.5","note":"stock take"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var card StockCardEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &card))
	require.Equal(t, MovementAdjust, card.Type)
	require.True(t, card.BalanceQty.Equal(decimal.RequireFromString("12.5")))
	require.Equal(t, int64(5), card.CreatedBy)

	rec = serve(h, http.MethodGet, "/inventory/products/3/stock", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stock Stock
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stock))
	require.True(t, stock.Qty.Equal(decimal.RequireFromString("12.5")))

	rec = serve(h, http.MethodGet, "/inventory/products/3/stock-card", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []StockCardEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)

	rec = serve(h, http.MethodGet, "/inventory/products/8/stock", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stock))
	require.True(t, stock.Qty.IsZero())
}

func TestHandlerMapsInventoryErrors(t *testing.T) {
	h := newInventoryRouter()

	rec := serve(h, http.MethodPost, "/inventory/adjustments", `{"product_id":3,"qty":"1"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), `"field":"note"`)

	rec = serve(h, http.MethodPost, "/inventory/adjustments", `{"product_id":3,"qty":"1.0005","note":"scale"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), `"field":"qty"`)

	rec = serve(h, http.MethodPost, "/inventory/adjustments", `{"product_id":3,"qty":"-2","note":"broken clasp"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var problem map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, "product stock", problem["entity"])
	require.Equal(t, "2", problem["attempted"])
	require.Equal(t, "0", problem["available"])

	rec = serve(h, http.MethodGet, "/inventory/products/0/stock", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(h, http.MethodGet, "/inventory/products/3/stock-card?from=16-10-2026", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), `"field":"from"`)
}
