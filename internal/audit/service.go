package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/odyssey-erp/jewel-ledger/internal/shared"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxExportRows   = 10000
)

// Repository membaca baris audit_logs.
type Repository interface {
	Timeline(ctx context.Context, q Query) ([]TimelineRow, error)
}

// Service mengoordinasikan pengambilan data audit.
type Service struct {
	repo Repository
}

// NewService membuat service audit timeline baru.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline mengambil data audit dengan paging, terbaru lebih dulu.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	q, err := buildQuery(filters)
	if err != nil {
		return Result{}, err
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	q.Offset = (page - 1) * pageSize
	q.Limit = pageSize + 1

	rows, err := s.repo.Timeline(ctx, q)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	if rows == nil {
		rows = []TimelineRow{}
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// Export mengambil seluruh data timeline tanpa paging, dibatasi maxExportRows.
func (s *Service) Export(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	q, err := buildQuery(filters)
	if err != nil {
		return nil, err
	}
	q.Limit = maxExportRows
	return s.repo.Timeline(ctx, q)
}

func buildQuery(filters TimelineFilters) (Query, error) {
	if !filters.From.IsZero() && !filters.To.IsZero() && filters.To.Before(filters.From) {
		return Query{}, shared.Invalid("to", "must not be before from")
	}
	entityID := strings.TrimSpace(filters.EntityID)
	entity := strings.TrimSpace(filters.Entity)
	if entityID != "" && entity == "" {
		return Query{}, shared.Invalid("entity", "required with entity_id")
	}
	return Query{
		From:     filters.From,
		To:       filters.To,
		ActorID:  filters.ActorID,
		Entity:   entity,
		EntityID: entityID,
		Action:   strings.TrimSpace(filters.Action),
	}, nil
}
