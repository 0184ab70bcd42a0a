package procurement

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

// Handler manages procurement endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/purchases", h.handleList)
	r.Post("/purchases", h.handleCreate)
	r.Get("/purchases/{id}", h.handleGet)
	r.Delete("/purchases/{id}", h.handleDelete)
	r.Post("/purchases/{id}/receive", h.handleReceive)
	r.Post("/purchases/{id}/complete", h.handleComplete)
	r.Post("/purchases/{id}/cancel", h.handleCancel)
}

type lineRequest struct {
	ProductID  int64           `json:"product_id" validate:"required,gt=0"`
	OrderedQty decimal.Decimal `json:"ordered_qty"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
}

type createRequest struct {
	SupplierID int64           `json:"supplier_id" validate:"required,gt=0"`
	Currency   string          `json:"currency" validate:"omitempty,len=3,alpha"`
	OrderDate  string          `json:"order_date" validate:"omitempty,datetime=2006-01-02"`
	Tax        decimal.Decimal `json:"tax"`
	Note       string          `json:"note" validate:"max=500"`
	Lines      []lineRequest   `json:"lines" validate:"required,min=1,dive"`
}

type receiptRequest struct {
	LineID      int64           `json:"line_id" validate:"required,gt=0"`
	ReceivedQty decimal.Decimal `json:"received_qty"`
}

type receiveRequest struct {
	Lines []receiptRequest `json:"lines" validate:"required,min=1,dive"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	supplierID, _ := strconv.ParseInt(q.Get("supplier_id"), 10, 64)
	purchases, err := h.service.List(r.Context(), ListFilter{Status: Status(q.Get("status")), SupplierID: supplierID, Limit: limit})
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, purchases)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := CreateInput{
		SupplierID: req.SupplierID,
		Currency:   req.Currency,
		Tax:        req.Tax,
		Note:       req.Note,
		ActorID:    httpx.ActorID(r),
	}
	if req.OrderDate != "" {
		input.OrderDate, _ = time.Parse("2006-01-02", req.OrderDate)
	}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, LineInput{ProductID: l.ProductID, OrderedQty: l.OrderedQty, UnitCost: l.UnitCost})
	}
	p, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), id, httpx.ActorID(r)); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req receiveRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	receipts := make([]LineReceipt, 0, len(req.Lines))
	for _, l := range req.Lines {
		receipts = append(receipts, LineReceipt{LineID: l.LineID, ReceivedQty: l.ReceivedQty})
	}
	p, err := h.service.Receive(r.Context(), id, receipts, httpx.ActorID(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.service.Complete(r.Context(), id, httpx.ActorID(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req cancelRequest
	if r.ContentLength != 0 {
		if err := httpx.Bind(r, h.validator, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	p, err := h.service.Cancel(r.Context(), id, req.Reason, httpx.ActorID(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if !shared.IsClientError(err) {
		h.logger.Error("procurement request", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
