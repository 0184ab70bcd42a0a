package sales

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/jewel-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/jewel-ledger/internal/shared"
)

// Handler wires HTTP endpoints for sales.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs sales handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/cancel", h.handleCancel)
	r.Get("/{id}/payments", h.handleListPayments)
	r.Post("/{id}/payments", h.handlePayment)
}

type lineRequest struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type createRequest struct {
	CustomerID int64           `json:"customer_id" validate:"required,gt=0"`
	Currency   string          `json:"currency" validate:"omitempty,len=3,alpha"`
	SaleDate   string          `json:"sale_date" validate:"omitempty,datetime=2006-01-02"`
	Tax        decimal.Decimal `json:"tax"`
	Lines      []lineRequest   `json:"lines" validate:"required,min=1,dive"`
}

type paymentRequest struct {
	AccountID int64           `json:"account_id" validate:"required,gt=0"`
	Amount    decimal.Decimal `json:"amount"`
	PaidAt    string          `json:"paid_at" validate:"omitempty,datetime=2006-01-02"`
	Reference string          `json:"reference" validate:"max=64"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := CreateInput{
		CustomerID: req.CustomerID,
		Currency:   req.Currency,
		SaleDate:   parseDate(req.SaleDate),
		Tax:        req.Tax,
		ActorID:    httpx.ActorID(r),
	}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, LineInput{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	sale, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sale)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	sale, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	sale, err := h.service.Cancel(r.Context(), id, httpx.ActorID(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) handleListPayments(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	payments, err := h.service.Payments(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, payments)
}

func (h *Handler) handlePayment(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req paymentRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	sale, payment, err := h.service.RecordPayment(r.Context(), PaymentInput{
		SaleID:         id,
		AccountID:      req.AccountID,
		Amount:         req.Amount,
		PaidAt:         parseDate(req.PaidAt),
		Reference:      req.Reference,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		ActorID:        httpx.ActorID(r),
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"sale": sale, "payment": payment})
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if !shared.IsClientError(err) {
		h.logger.Error("sales request", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func parseDate(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, _ := time.Parse("2006-01-02", raw)
	return t
}
