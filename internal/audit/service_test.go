package audit

import (
	"context"
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/jewel-ledger/internal/shared"
)

type stubTimelineRepo struct {
	rows []TimelineRow
	last Query
}

func (s *stubTimelineRepo) Timeline(_ context.Context, q Query) ([]TimelineRow, error) {
	s.last = q
	rows := s.rows
	if q.Offset < len(rows) {
		rows = rows[q.Offset:]
	} else {
		rows = nil
	}
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	return rows, nil
}

func seededRepo() *stubTimelineRepo {
	base := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	return &stubTimelineRepo{rows: []TimelineRow{
		{ID: 3, At: base, ActorID: 7, Action: "return.approve", Entity: "return", EntityID: "12"},
		{ID: 2, At: base.Add(-time.Hour), ActorID: 7, Action: "sale.payment", Entity: "sale", EntityID: "4",
			Meta: map[string]any{"amount": "150000.00"}},
		{ID: 1, At: base.Add(-2 * time.Hour), ActorID: 2, Action: "purchase.receive", Entity: "purchase", EntityID: "9"},
	}}
}

func TestServiceTimelinePaging(t *testing.T) {
	repo := seededRepo()
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{Page: 1, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	require.True(t, result.Paging.HasNext)
	require.Equal(t, 2, result.Paging.NextPage)
	require.Equal(t, 3, repo.last.Limit)
	require.Equal(t, 0, repo.last.Offset)

	result, err = svc.Timeline(context.Background(), TimelineFilters{Page: 2, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	require.False(t, result.Paging.HasNext)
	require.Equal(t, 1, result.Paging.PrevPage)
	require.Equal(t, 2, repo.last.Offset)
}

func TestServiceTimelineClampsPageSize(t *testing.T) {
	repo := seededRepo()
	_, err := NewService(repo).Timeline(context.Background(), TimelineFilters{PageSize: 1000})
	require.NoError(t, err)
	require.Equal(t, maxPageSize+1, repo.last.Limit)
}

func TestServiceRejectsInvertedRange(t *testing.T) {
	from := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	_, err := NewService(seededRepo()).Timeline(context.Background(), TimelineFilters{From: from, To: from.Add(-time.Hour)})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = NewService(seededRepo()).Export(context.Background(), TimelineFilters{EntityID: "4"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestServiceExportHasNoPaging(t *testing.T) {
	repo := seededRepo()
	rows, err := NewService(repo).Export(context.Background(), TimelineFilters{Entity: "sale", EntityID: "4"})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, maxExportRows, repo.last.Limit)
	require.Equal(t, "sale", repo.last.Entity)
}

func TestHandlerTimelineAndExport(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/audit", NewHandler(nil, NewService(seededRepo())).MountRoutes)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit?page_size=1&from=2026-03-01", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"has_next":true`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit?from=yesterday", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/export.csv", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	records, err := csv.NewReader(strings.NewReader(rec.Body.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	require.Equal(t, "sale.payment", records[2][3])
	require.Equal(t, `{"amount":"150000.00"}`, records[2][6])
}
