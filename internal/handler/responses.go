package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/antonio12761/roxy-bar-sub004/internal/database"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// --- Response types ---

type orderResponse struct {
	ID            uuid.UUID  `json:"id"`
	TableID       *uuid.UUID `json:"table_id,omitempty"`
	OrderType     string     `json:"order_type"`
	Status        string     `json:"status"`
	PaymentStatus string     `json:"payment_status"`
	TotalAmount   string     `json:"total_amount"`
	OpenedAt      time.Time  `json:"opened_at"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
}

type lineResponse struct {
	ID          uuid.UUID `json:"id"`
	OrderID     uuid.UUID `json:"order_id"`
	ProductID   uuid.UUID `json:"product_id"`
	ProductName string    `json:"product_name"`
	Quantity    int32     `json:"quantity"`
	UnitPrice   string    `json:"unit_price"`
	Paid        bool      `json:"paid"`
	PayerName   string    `json:"payer_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type paymentResponse struct {
	ID         uuid.UUID   `json:"id"`
	OrderID    uuid.UUID   `json:"order_id"`
	Amount     string      `json:"amount"`
	Method     string      `json:"method"`
	PayerName  string      `json:"payer_name,omitempty"`
	OperatorID uuid.UUID   `json:"operator_id"`
	LineIDs    []uuid.UUID `json:"line_ids"`
	CreatedAt  time.Time   `json:"created_at"`
}

type historyResponse struct {
	ID             uuid.UUID       `json:"id"`
	PaymentID      *uuid.UUID      `json:"payment_id,omitempty"`
	OrderID        uuid.UUID       `json:"order_id"`
	Action         string          `json:"action"`
	Amount         string          `json:"amount"`
	Method         string          `json:"method"`
	OperatorID     uuid.UUID       `json:"operator_id"`
	OperatorName   string          `json:"operator_name"`
	PreviousStatus string          `json:"previous_status"`
	NewStatus      string          `json:"new_status"`
	Metadata       json.RawMessage `json:"metadata"`
	CreatedAt      time.Time       `json:"created_at"`
}

type tableResponse struct {
	ID     uuid.UUID `json:"id"`
	Number int32     `json:"number"`
	Status string    `json:"status"`
}

type productResponse struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Category string    `json:"category"`
	Price    string    `json:"price"`
	Active   bool      `json:"active"`
}

// --- Mappers ---

func dbOrderToResponse(o database.Order) orderResponse {
	resp := orderResponse{
		ID:            o.ID,
		OrderType:     o.OrderType,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		TotalAmount:   numericToString(o.TotalAmount),
		OpenedAt:      o.OpenedAt,
	}
	if o.TableID.Valid {
		id := uuid.UUID(o.TableID.Bytes)
		resp.TableID = &id
	}
	if o.ClosedAt.Valid {
		t := o.ClosedAt.Time
		resp.ClosedAt = &t
	}
	return resp
}

func dbLineToResponse(l database.OrderLine) lineResponse {
	return lineResponse{
		ID:          l.ID,
		OrderID:     l.OrderID,
		ProductID:   l.ProductID,
		ProductName: l.ProductName,
		Quantity:    l.Quantity,
		UnitPrice:   numericToString(l.UnitPrice),
		Paid:        l.Paid,
		PayerName:   l.PayerName.String,
		CreatedAt:   l.CreatedAt,
	}
}

func dbPaymentToResponse(p database.Payment) paymentResponse {
	resp := paymentResponse{
		ID:         p.ID,
		OrderID:    p.OrderID,
		Amount:     numericToString(p.Amount),
		Method:     p.Method,
		PayerName:  p.PayerName.String,
		OperatorID: p.OperatorID,
		LineIDs:    p.LineIDs,
		CreatedAt:  p.CreatedAt,
	}
	if resp.LineIDs == nil {
		resp.LineIDs = []uuid.UUID{}
	}
	return resp
}

func dbHistoryToResponse(h database.PaymentHistory) historyResponse {
	resp := historyResponse{
		ID:             h.ID,
		OrderID:        h.OrderID,
		Action:         h.Action,
		Amount:         numericToString(h.Amount),
		Method:         h.Method,
		OperatorID:     h.OperatorID,
		OperatorName:   h.OperatorName,
		PreviousStatus: h.PreviousStatus,
		NewStatus:      h.NewStatus,
		Metadata:       h.Metadata,
		CreatedAt:      h.CreatedAt,
	}
	if h.PaymentID.Valid {
		id := uuid.UUID(h.PaymentID.Bytes)
		resp.PaymentID = &id
	}
	return resp
}

func dbTableToResponse(t database.Table) tableResponse {
	return tableResponse{ID: t.ID, Number: t.Number, Status: t.Status}
}

func dbProductToResponse(p database.Product) productResponse {
	return productResponse{
		ID:       p.ID,
		Name:     p.Name,
		Category: p.Category,
		Price:    numericToString(p.Price),
		Active:   p.Active,
	}
}

func numericFromDecimal(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(d.StringFixed(2))
	return n
}

func numericToString(n pgtype.Numeric) string {
	if !n.Valid {
		return "0.00"
	}
	val, err := n.Value()
	if err != nil || val == nil {
		return "0.00"
	}
	d, err := decimal.NewFromString(val.(string))
	if err != nil {
		return "0.00"
	}
	return d.StringFixed(2)
}
