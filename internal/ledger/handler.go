package ledger

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

// Handler wires HTTP endpoints for the ledger module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs ledger handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/accounts", h.handleListAccounts)
	r.Post("/accounts", h.handleOpenAccount)
	r.Get("/accounts/{id}", h.handleGetAccount)
	r.Delete("/accounts/{id}", h.handleDeleteAccount)
	r.Post("/accounts/{id}/deactivate", h.handleDeactivate)
	r.Get("/accounts/{id}/transactions", h.handleStatement)
	r.Post("/accounts/{id}/transactions", h.handleRecord)
	r.Get("/accounts/{id}/verify", h.handleVerify)
	r.Post("/transfers", h.handleTransfer)
	r.Post("/transactions/{id}/reconcile", h.handleReconcile)
}

type openAccountRequest struct {
	Code           string          `json:"code" validate:"required,max=32"`
	Name           string          `json:"name" validate:"required,max=120"`
	Kind           string          `json:"kind" validate:"required,oneof=BANK CASH"`
	Currency       string          `json:"currency" validate:"omitempty,len=3,alpha"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	OpeningDate    string          `json:"opening_date" validate:"omitempty,datetime=2006-01-02"`
}

type recordRequest struct {
	Type          string            `json:"type" validate:"required"`
	Amount        decimal.Decimal   `json:"amount"`
	Currency      string            `json:"currency" validate:"omitempty,len=3,alpha"`
	TxDate        string            `json:"tx_date" validate:"omitempty,datetime=2006-01-02"`
	Reference     string            `json:"reference" validate:"max=64"`
	Description   string            `json:"description" validate:"max=255"`
	Metadata      map[string]string `json:"metadata"`
	AllowNegative bool              `json:"allow_negative"`
}

type transferRequest struct {
	FromAccountID int64           `json:"from_account_id" validate:"required,gt=0"`
	ToAccountID   int64           `json:"to_account_id" validate:"required,gt=0,nefield=FromAccountID"`
	Amount        decimal.Decimal `json:"amount"`
	TxDate        string          `json:"tx_date" validate:"omitempty,datetime=2006-01-02"`
	Reference     string          `json:"reference" validate:"max=64"`
	Description   string          `json:"description" validate:"max=255"`
}

type reconcileRequest struct {
	ReconciledAt string `json:"reconciled_at" validate:"omitempty,datetime=2006-01-02"`
}

func (h *Handler) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.service.ListAccounts(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, accounts)
}

func (h *Handler) handleOpenAccount(w http.ResponseWriter, r *http.Request) {
	var req openAccountRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	account, err := h.service.OpenAccount(r.Context(), OpenAccountInput{
		Code:           req.Code,
		Name:           req.Name,
		Kind:           AccountKind(req.Kind),
		Currency:       req.Currency,
		OpeningBalance: req.OpeningBalance,
		OpeningDate:    parseDate(req.OpeningDate),
		ActorID:        httpx.ActorID(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, account)
}

func (h *Handler) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	account, err := h.service.GetAccount(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, account)
}

func (h *Handler) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.DeleteAccount(r.Context(), id, httpx.ActorID(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	account, err := h.service.Deactivate(r.Context(), id, httpx.ActorID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, account)
}

func (h *Handler) handleStatement(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	filter := StatementFilter{}
	for name, dst := range map[string]*time.Time{"from": &filter.From, "to": &filter.To} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			h.fail(w, r, shared.Invalid(name, "must be YYYY-MM-DD"))
			return
		}
		*dst = t
	}
	txns, err := h.service.Statement(r.Context(), id, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, txns)
}

func (h *Handler) handleRecord(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req recordRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	txn, err := h.service.Record(r.Context(), RecordInput{
		AccountID:      id,
		Type:           TransactionType(req.Type),
		Amount:         req.Amount,
		Currency:       req.Currency,
		TxDate:         parseDate(req.TxDate),
		Reference:      req.Reference,
		Description:    req.Description,
		Metadata:       req.Metadata,
		AllowNegative:  req.AllowNegative,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		ActorID:        httpx.ActorID(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, txn)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	check, err := h.service.VerifyBalance(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"check": check, "consistent": check.Consistent()})
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	out, in, err := h.service.Transfer(r.Context(), TransferInput{
		FromAccountID:  req.FromAccountID,
		ToAccountID:    req.ToAccountID,
		Amount:         req.Amount,
		TxDate:         parseDate(req.TxDate),
		Reference:      req.Reference,
		Description:    req.Description,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		ActorID:        httpx.ActorID(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]Transaction{"out": out, "in": in})
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req reconcileRequest
	if r.ContentLength > 0 {
		if err := httpx.Bind(r, h.validator, &req); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	txn, err := h.service.Reconcile(r.Context(), id, parseDate(req.ReconciledAt), httpx.ActorID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, txn)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !shared.IsClientError(err) {
		h.logger.Error("ledger request", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

// parseDate reads a date already checked by the validator; empty means now.
func parseDate(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, _ := time.Parse("2006-01-02", raw)
	return t
}
