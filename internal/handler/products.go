package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/antonio12761/roxy-bar-sub004/internal/database"
)

// ProductStore defines the DB methods needed by product handlers.
type ProductStore interface {
	ListProducts(ctx context.Context, includeInactive bool) ([]database.Product, error)
	CreateProduct(ctx context.Context, arg database.CreateProductParams) (database.Product, error)
}

// ProductHandler handles catalog endpoints.
type ProductHandler struct {
	store  ProductStore
	logger *zap.Logger
}

// NewProductHandler creates a new ProductHandler.
func NewProductHandler(store ProductStore, logger *zap.Logger) *ProductHandler {
	return &ProductHandler{store: store, logger: logger}
}

// RegisterRoutes registers product endpoints. Expected to be mounted at /products
func (h *ProductHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
}

type createProductRequest struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Price    string `json:"price"`
}

// List handles GET /products?all=true.
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	includeInactive := r.URL.Query().Get("all") == "true"
	products, err := h.store.ListProducts(r.Context(), includeInactive)
	if err != nil {
		h.logger.Error("list products", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := make([]productResponse, len(products))
	for i, p := range products {
		resp[i] = dbProductToResponse(p)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Create handles POST /products.
func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil || price.IsNegative() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid price"})
		return
	}

	product, err := h.store.CreateProduct(r.Context(), database.CreateProductParams{
		Name:     req.Name,
		Category: req.Category,
		Price:    numericFromDecimal(price),
	})
	if err != nil {
		h.logger.Error("create product", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusCreated, dbProductToResponse(product))
}
