package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/antonio12761/roxy-bar-sub004/internal/database"
	"github.com/antonio12761/roxy-bar-sub004/internal/middleware"
	"github.com/antonio12761/roxy-bar-sub004/internal/service"
)

// PaymentServicer is the allocator surface the handlers call.
type PaymentServicer interface {
	PayByAmount(ctx context.Context, op service.Operator, req service.AmountPayment) (*service.AllocationResult, error)
	PayByLines(ctx context.Context, op service.Operator, req service.LinesPayment) (*service.LinesPaymentResult, error)
}

// PaymentQueryStore defines the read-only DB methods for payment listings.
type PaymentQueryStore interface {
	GetOrder(ctx context.Context, id uuid.UUID) (database.Order, error)
	ListPaymentsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.Payment, error)
	ListPaymentHistoryByOrder(ctx context.Context, orderID uuid.UUID) ([]database.PaymentHistory, error)
}

// PaymentHandler handles payment endpoints.
type PaymentHandler struct {
	svc    PaymentServicer
	store  PaymentQueryStore
	logger *zap.Logger
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(svc PaymentServicer, store PaymentQueryStore, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{svc: svc, store: store, logger: logger}
}

// RegisterOrderRoutes registers the per-order payment endpoints.
// Expected to be mounted at /orders/{id}/payments
func (h *PaymentHandler) RegisterOrderRoutes(r chi.Router) {
	r.Post("/", h.PayByAmount)
	r.Get("/", h.List)
	r.Get("/history", h.History)
}

// RegisterLineRoutes registers the cross-order line payment endpoint.
// Expected to be mounted at /payments
func (h *PaymentHandler) RegisterLineRoutes(r chi.Router) {
	r.Post("/lines", h.PayByLines)
}

// --- Request / Response types ---

type payByAmountRequest struct {
	Amount    string `json:"amount"`
	Method    string `json:"method"`
	PayerName string `json:"payer_name"`
}

type payByLinesRequest struct {
	LineIDs   []uuid.UUID `json:"line_ids"`
	Method    string      `json:"method"`
	PayerName string      `json:"payer_name"`
}

type allocationResponse struct {
	Payment       paymentResponse `json:"payment"`
	Order         orderResponse   `json:"order"`
	SettledLines  []uuid.UUID     `json:"settled_line_ids"`
	Remainder     string          `json:"remainder"`
	TableReleased bool            `json:"table_released"`
}

type settlementResponse struct {
	OrderID uuid.UUID           `json:"order_id"`
	Result  *allocationResponse `json:"result,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// --- Handlers ---

// PayByAmount handles POST /orders/{id}/payments.
func (h *PaymentHandler) PayByAmount(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}

	op, ok := operatorFromRequest(w, r)
	if !ok {
		return
	}

	var req payByAmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Amount == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "amount is required"})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid amount"})
		return
	}

	res, err := h.svc.PayByAmount(r.Context(), op, service.AmountPayment{
		OrderID:   orderID,
		Amount:    amount,
		Method:    req.Method,
		PayerName: req.PayerName,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, allocationToResponse(res))
}

// PayByLines handles POST /payments/lines. Line ids may span several
// orders; each order settles independently, so the response always lists
// per-order outcomes and uses 207 when some of them failed.
func (h *PaymentHandler) PayByLines(w http.ResponseWriter, r *http.Request) {
	op, ok := operatorFromRequest(w, r)
	if !ok {
		return
	}

	var req payByLinesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	result, err := h.svc.PayByLines(r.Context(), op, service.LinesPayment{
		LineIDs:   req.LineIDs,
		Method:    req.Method,
		PayerName: req.PayerName,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	settlements := make([]settlementResponse, len(result.Settlements))
	for i, s := range result.Settlements {
		sr := settlementResponse{OrderID: s.OrderID}
		if s.Err != nil {
			sr.Error = s.Err.Error()
		} else {
			resp := allocationToResponse(s.Result)
			sr.Result = &resp
		}
		settlements[i] = sr
	}

	status := http.StatusCreated
	if !result.AllSucceeded() {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, map[string]any{"settlements": settlements})
}

// List handles GET /orders/{id}/payments.
func (h *PaymentHandler) List(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderIDFromRequest(w, r)
	if !ok {
		return
	}

	payments, err := h.store.ListPaymentsByOrder(r.Context(), orderID)
	if err != nil {
		h.logger.Error("list payments", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := make([]paymentResponse, len(payments))
	for i, p := range payments {
		resp[i] = dbPaymentToResponse(p)
	}
	writeJSON(w, http.StatusOK, resp)
}

// History handles GET /orders/{id}/payments/history (audit trail).
func (h *PaymentHandler) History(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderIDFromRequest(w, r)
	if !ok {
		return
	}

	entries, err := h.store.ListPaymentHistoryByOrder(r.Context(), orderID)
	if err != nil {
		h.logger.Error("list payment history", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := make([]historyResponse, len(entries))
	for i, e := range entries {
		resp[i] = dbHistoryToResponse(e)
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Helpers ---

// orderIDFromRequest parses {id} and verifies the order exists.
func (h *PaymentHandler) orderIDFromRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return uuid.Nil, false
	}
	if _, err := h.store.GetOrder(r.Context(), orderID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
			return uuid.Nil, false
		}
		h.logger.Error("get order", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return uuid.Nil, false
	}
	return orderID, true
}

func operatorFromRequest(w http.ResponseWriter, r *http.Request) (service.Operator, bool) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return service.Operator{}, false
	}
	return service.Operator{
		ID:   claims.UserID,
		Name: claims.FullName,
		Role: claims.Role,
	}, true
}

func allocationToResponse(res *service.AllocationResult) allocationResponse {
	settled := res.SettledLineIDs
	if settled == nil {
		settled = []uuid.UUID{}
	}
	return allocationResponse{
		Payment:       dbPaymentToResponse(res.Payment),
		Order:         dbOrderToResponse(res.Order),
		SettledLines:  settled,
		Remainder:     res.Remainder.StringFixed(2),
		TableReleased: res.TableReleased,
	}
}

// writeServiceError maps the allocator's error taxonomy onto HTTP. The
// cashier UI shows the message verbatim, so each failure keeps its own.
func (h *PaymentHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrPermissionDenied):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "insufficient permissions"})
	case errors.Is(err, service.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
	case errors.Is(err, service.ErrLineNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order line not found"})
	case errors.Is(err, service.ErrAlreadyPaid):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "order already paid"})
	case errors.Is(err, service.ErrInvalidAmount):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "amount must be positive"})
	case errors.Is(err, service.ErrInvalidMethod):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payment method"})
	case errors.Is(err, service.ErrEmptyLines):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "line_ids are required"})
	case errors.Is(err, service.ErrAmountTooHigh):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "amount exceeds remaining balance by too much"})
	case errors.Is(err, service.ErrOrderBusy):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "order busy, try again"})
	default:
		h.logger.Error("payment failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}
