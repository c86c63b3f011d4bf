package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/antonio12761/roxy-bar-sub004/internal/database"
	"github.com/antonio12761/roxy-bar-sub004/internal/service"
)

// OrderServicer is the order service surface the handlers call.
type OrderServicer interface {
	CreateOrder(ctx context.Context, req service.CreateOrderRequest) (*service.CreateOrderResult, error)
	UpdateStatus(ctx context.Context, orderID uuid.UUID, status string) (database.Order, error)
}

// OrderQueryStore defines the read-only DB methods for order listings.
type OrderQueryStore interface {
	GetOrder(ctx context.Context, id uuid.UUID) (database.Order, error)
	ListOrders(ctx context.Context, arg database.ListOrdersParams) ([]database.Order, error)
	ListLinesByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderLine, error)
	ListPaymentsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.Payment, error)
}

// OrderHandler handles order endpoints.
type OrderHandler struct {
	svc    OrderServicer
	store  OrderQueryStore
	logger *zap.Logger
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(svc OrderServicer, store OrderQueryStore, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{svc: svc, store: store, logger: logger}
}

// RegisterRoutes registers order endpoints on the given Chi router.
// Expected to be mounted at /orders
func (h *OrderHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Patch("/{id}/status", h.UpdateStatus)
}

// --- Request / Response types ---

type createOrderRequest struct {
	OrderType   string                   `json:"order_type"`
	TableNumber int32                    `json:"table_number"`
	Items       []createOrderItemRequest `json:"items"`
}

type createOrderItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type orderDetailResponse struct {
	Order    orderResponse     `json:"order"`
	Lines    []lineResponse    `json:"lines"`
	Payments []paymentResponse `json:"payments"`
}

// --- Handlers ---

// Create handles POST /orders.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	svcReq := service.CreateOrderRequest{
		OrderType:   req.OrderType,
		TableNumber: req.TableNumber,
	}
	for _, item := range req.Items {
		productID, err := uuid.Parse(item.ProductID)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid product_id"})
			return
		}
		svcReq.Items = append(svcReq.Items, service.CreateOrderItemRequest{
			ProductID: productID,
			Quantity:  item.Quantity,
		})
	}

	result, err := h.svc.CreateOrder(r.Context(), svcReq)
	if err != nil {
		h.writeOrderError(w, err)
		return
	}

	lines := make([]lineResponse, len(result.Lines))
	for i, l := range result.Lines {
		lines[i] = dbLineToResponse(l)
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"order": dbOrderToResponse(result.Order),
		"lines": lines,
	})
}

// List handles GET /orders?status=open&limit=50.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := int32(50)
	orders, err := h.store.ListOrders(r.Context(), database.ListOrdersParams{
		Status: r.URL.Query().Get("status"),
		Limit:  limit,
	})
	if err != nil {
		h.logger.Error("list orders", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := make([]orderResponse, len(orders))
	for i, o := range orders {
		resp[i] = dbOrderToResponse(o)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /orders/{id} with lines and payments.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}

	order, err := h.store.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
			return
		}
		h.logger.Error("get order", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	dbLines, err := h.store.ListLinesByOrder(r.Context(), orderID)
	if err != nil {
		h.logger.Error("list order lines", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	dbPayments, err := h.store.ListPaymentsByOrder(r.Context(), orderID)
	if err != nil {
		h.logger.Error("list order payments", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := orderDetailResponse{
		Order:    dbOrderToResponse(order),
		Lines:    make([]lineResponse, len(dbLines)),
		Payments: make([]paymentResponse, len(dbPayments)),
	}
	for i, l := range dbLines {
		resp.Lines[i] = dbLineToResponse(l)
	}
	for i, p := range dbPayments {
		resp.Payments[i] = dbPaymentToResponse(p)
	}
	writeJSON(w, http.StatusOK, resp)
}

// UpdateStatus handles PATCH /orders/{id}/status (kitchen flow).
func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	order, err := h.svc.UpdateStatus(r.Context(), orderID, req.Status)
	if err != nil {
		h.writeOrderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dbOrderToResponse(order))
}

// --- Helpers ---

func (h *OrderHandler) writeOrderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidOrderType),
		errors.Is(err, service.ErrEmptyItems),
		errors.Is(err, service.ErrInvalidQuantity),
		errors.Is(err, service.ErrTableRequired),
		errors.Is(err, service.ErrInvalidStatus):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, service.ErrProductNotFound),
		errors.Is(err, service.ErrTableNotFound),
		errors.Is(err, service.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, service.ErrProductInactive),
		errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrOrderClosed):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		h.logger.Error("order request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}
