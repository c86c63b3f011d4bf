package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/antonio12761/roxy-bar-sub004/internal/database"
	"github.com/antonio12761/roxy-bar-sub004/internal/enum"
)

// Errors returned by the order service.
var (
	ErrEmptyItems        = errors.New("items are required")
	ErrInvalidOrderType  = errors.New("invalid order_type")
	ErrInvalidQuantity   = errors.New("quantity must be > 0")
	ErrProductNotFound   = errors.New("product not found")
	ErrProductInactive   = errors.New("product is not available")
	ErrTableRequired     = errors.New("table_number is required for TABLE orders")
	ErrTableNotFound     = errors.New("table not found")
	ErrInvalidStatus     = errors.New("invalid order status")
	ErrInvalidTransition = errors.New("status can only move forward")
	ErrOrderClosed       = errors.New("order is closed")
)

// OrderStore defines the DB methods needed to create and progress orders.
// Satisfied by *database.Queries on a pool or a transaction.
type OrderStore interface {
	GetProduct(ctx context.Context, id uuid.UUID) (database.Product, error)
	GetTableByNumber(ctx context.Context, number int32) (database.Table, error)
	CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error)
	CreateOrderLine(ctx context.Context, arg database.CreateOrderLineParams) (database.OrderLine, error)
	SetTableStatus(ctx context.Context, arg database.SetTableStatusParams) (database.Table, error)
	UpdateOrderStatus(ctx context.Context, arg database.UpdateOrderStatusParams) (database.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (database.Order, error)
}

// NewOrderStore creates an OrderStore from a DBTX (pool or tx).
type NewOrderStore func(db database.DBTX) OrderStore

// CreateOrderRequest is the validated input for opening an order.
type CreateOrderRequest struct {
	OrderType   string
	TableNumber int32
	Items       []CreateOrderItemRequest
}

// CreateOrderItemRequest is a single product line in the order.
type CreateOrderItemRequest struct {
	ProductID uuid.UUID
	Quantity  int32
}

// CreateOrderResult is the created order with its lines.
type CreateOrderResult struct {
	Order database.Order
	Lines []database.OrderLine
}

// OrderService handles order lifecycle up to the cashier handoff. It never
// touches paid flags or payment status; that is the payment service's job.
type OrderService struct {
	store    OrderStore // pool-bound, for statements outside a transaction
	pool     TxBeginner
	newStore NewOrderStore
}

// NewOrderService creates a new OrderService.
func NewOrderService(store OrderStore, pool TxBeginner, newStore NewOrderStore) *OrderService {
	return &OrderService{store: store, pool: pool, newStore: newStore}
}

// CreateOrder validates the request, snapshots product names and prices
// into the lines, and inserts the order atomically. TABLE orders occupy
// their table.
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	if !isValidOrderType(req.OrderType) {
		return nil, ErrInvalidOrderType
	}
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}
	if req.OrderType == enum.OrderTypeTable && req.TableNumber <= 0 {
		return nil, ErrTableRequired
	}
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("item[%d]: %w", i, ErrInvalidQuantity)
		}
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	tableID := pgtype.UUID{}
	if req.OrderType == enum.OrderTypeTable {
		table, err := store.GetTableByNumber(ctx, req.TableNumber)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrTableNotFound
			}
			return nil, fmt.Errorf("get table: %w", err)
		}
		tableID = pgtype.UUID{Bytes: table.ID, Valid: true}
		if table.Status == enum.TableStatusFree {
			if _, err := store.SetTableStatus(ctx, database.SetTableStatusParams{
				ID:     table.ID,
				Status: enum.TableStatusOccupied,
			}); err != nil {
				return nil, fmt.Errorf("occupy table: %w", err)
			}
		}
	}

	// Resolve products and price the lines.
	type pricedItem struct {
		product  database.Product
		quantity int32
	}
	total := decimal.Zero
	var priced []pricedItem
	for i, item := range req.Items {
		product, err := store.GetProduct(ctx, item.ProductID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("item[%d]: %w", i, ErrProductNotFound)
			}
			return nil, fmt.Errorf("item[%d]: get product: %w", i, err)
		}
		if !product.Active {
			return nil, fmt.Errorf("item[%d]: %w", i, ErrProductInactive)
		}
		total = total.Add(numericToDecimal(product.Price).Mul(decimal.NewFromInt32(item.Quantity)))
		priced = append(priced, pricedItem{product: product, quantity: item.Quantity})
	}

	order, err := store.CreateOrder(ctx, database.CreateOrderParams{
		TableID:     tableID,
		OrderType:   req.OrderType,
		TotalAmount: decimalToNumeric(total),
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	var orderLines []database.OrderLine
	for _, pi := range priced {
		line, err := store.CreateOrderLine(ctx, database.CreateOrderLineParams{
			OrderID:     order.ID,
			ProductID:   pi.product.ID,
			ProductName: pi.product.Name,
			Quantity:    pi.quantity,
			UnitPrice:   pi.product.Price,
		})
		if err != nil {
			return nil, fmt.Errorf("create order line: %w", err)
		}
		orderLines = append(orderLines, line)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &CreateOrderResult{Order: order, Lines: orderLines}, nil
}

// statusRank orders the kitchen flow open -> in_progress -> ready ->
// delivered. Cancellation is allowed from any active status.
var statusRank = map[string]int{
	enum.OrderStatusOpen:       0,
	enum.OrderStatusInProgress: 1,
	enum.OrderStatusReady:      2,
	enum.OrderStatusDelivered:  3,
}

// UpdateStatus moves an order along the kitchen flow. The status only
// moves forward (skipping steps is fine), and paid or cancelled orders
// reject further transitions.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID uuid.UUID, status string) (database.Order, error) {
	switch status {
	case enum.OrderStatusOpen, enum.OrderStatusInProgress,
		enum.OrderStatusReady, enum.OrderStatusDelivered, enum.OrderStatusCancelled:
	default:
		return database.Order{}, ErrInvalidStatus
	}

	current, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, ErrOrderNotFound
		}
		return database.Order{}, fmt.Errorf("get order: %w", err)
	}
	if current.Status == enum.OrderStatusPaid || current.Status == enum.OrderStatusCancelled {
		return database.Order{}, ErrOrderClosed
	}
	if status != enum.OrderStatusCancelled && statusRank[status] <= statusRank[current.Status] {
		return database.Order{}, fmt.Errorf("%s to %s: %w", current.Status, status, ErrInvalidTransition)
	}

	order, err := s.store.UpdateOrderStatus(ctx, database.UpdateOrderStatusParams{
		ID:     orderID,
		Status: status,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Raced with a payment or cancellation since the read.
			return database.Order{}, ErrOrderClosed
		}
		return database.Order{}, fmt.Errorf("update order status: %w", err)
	}
	return order, nil
}

// --- Helpers ---

func isValidOrderType(s string) bool {
	switch s {
	case enum.OrderTypeTable, enum.OrderTypeTakeaway, enum.OrderTypeCounter:
		return true
	}
	return false
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid {
		return decimal.Zero
	}
	val, err := n.Value()
	if err != nil || val == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(val.(string))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(d.StringFixed(2))
	return n
}
