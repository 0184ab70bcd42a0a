package returns

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

// Handler wires HTTP endpoints for returns.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs returns handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers return routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Patch("/{id}", h.handleUpdate)
	r.Delete("/{id}", h.handleDelete)
	r.Post("/{id}/approve", h.handleApprove)
	r.Post("/{id}/reject", h.handleReject)
	r.Post("/{id}/complete", h.handleComplete)
}

type createRequest struct {
	Kind         string          `json:"kind" validate:"required,oneof=CUSTOMER SUPPLIER"`
	SaleID       int64           `json:"sale_id" validate:"omitempty,gt=0"`
	PurchaseID   int64           `json:"purchase_id" validate:"omitempty,gt=0"`
	Reason       string          `json:"reason" validate:"required,max=500"`
	Details      string          `json:"details" validate:"max=2000"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
	ReturnDate   string          `json:"return_date" validate:"omitempty,datetime=2006-01-02"`
}

type updateRequest struct {
	Reason       *string          `json:"reason" validate:"omitempty,max=500"`
	Details      *string          `json:"details" validate:"omitempty,max=2000"`
	RefundAmount *decimal.Decimal `json:"refund_amount"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	list, err := h.service.List(r.Context(), ListFilter{Kind: Kind(q.Get("kind")), Status: Status(q.Get("status")), Limit: limit})
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := CreateInput{
		Kind:         Kind(req.Kind),
		SaleID:       req.SaleID,
		PurchaseID:   req.PurchaseID,
		Reason:       req.Reason,
		Details:      req.Details,
		RefundAmount: req.RefundAmount,
		ActorID:      httpx.ActorID(r),
	}
	if req.ReturnDate != "" {
		input.ReturnDate, _ = time.Parse("2006-01-02", req.ReturnDate)
	}
	ret, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ret)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ret, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ret)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req updateRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ret, err := h.service.UpdateDetails(r.Context(), id, UpdateInput{
		Reason:       req.Reason,
		Details:      req.Details,
		RefundAmount: req.RefundAmount,
		ActorID:      httpx.ActorID(r),
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ret)
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

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ret, err := h.service.Approve(r.Context(), id, httpx.ActorID(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ret)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req rejectRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ret, err := h.service.Reject(r.Context(), id, httpx.ActorID(r), req.Reason)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ret)
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ret, err := h.service.Complete(r.Context(), id, httpx.ActorID(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ret)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if !shared.IsClientError(err) && !shared.IsRetryable(err) {
		h.logger.Error("returns request", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
