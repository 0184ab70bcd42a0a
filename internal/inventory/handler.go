package inventory

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/jewel-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/jewel-ledger/internal/shared"
)

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/products/{id}/stock", h.handleStock)
	r.Get("/products/{id}/stock-card", h.handleStockCard)
	r.Post("/adjustments", h.handleAdjustment)
}

type adjustmentRequest struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Qty       decimal.Decimal `json:"qty"`
	Note      string          `json:"note" validate:"required,max=255"`
}

func (h *Handler) handleStock(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	stock, err := h.service.GetStock(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stock)
}

func (h *Handler) handleStockCard(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter := StockCardFilter{ProductID: id}
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		if filter.From, err = time.Parse("2006-01-02", v); err != nil {
			httpx.RespondError(w, shared.Invalid("from", "must be YYYY-MM-DD"))
			return
		}
	}
	if v := q.Get("to"); v != "" {
		if filter.To, err = time.Parse("2006-01-02", v); err != nil {
			httpx.RespondError(w, shared.Invalid("to", "must be YYYY-MM-DD"))
			return
		}
		filter.To = filter.To.Add(24*time.Hour - time.Nanosecond)
	}
	if v := q.Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	entries, err := h.service.StockCard(r.Context(), filter)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) handleAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	card, err := h.service.PostAdjustment(r.Context(), AdjustmentInput{
		ProductID: req.ProductID,
		Qty:       req.Qty,
		Note:      req.Note,
		ActorID:   httpx.ActorID(r),
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, card)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if !shared.IsClientError(err) {
		h.logger.Error("inventory request", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
