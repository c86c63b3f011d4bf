package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const historyColumns = `id, payment_id, order_id, action, amount, method,
	operator_id, operator_name, previous_status, new_status, metadata, created_at`

const createPaymentHistoryQuery = `
INSERT INTO payment_history
	(payment_id, order_id, action, amount, method, operator_id, operator_name,
	 previous_status, new_status, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING ` + historyColumns

const listPaymentHistoryByOrderQuery = `
SELECT ` + historyColumns + ` FROM payment_history
WHERE order_id = $1
ORDER BY created_at
`

func scanPaymentHistory(row interface{ Scan(...any) error }) (PaymentHistory, error) {
	var h PaymentHistory
	err := row.Scan(&h.ID, &h.PaymentID, &h.OrderID, &h.Action, &h.Amount, &h.Method,
		&h.OperatorID, &h.OperatorName, &h.PreviousStatus, &h.NewStatus, &h.Metadata, &h.CreatedAt)
	return h, err
}

type CreatePaymentHistoryParams struct {
	PaymentID      pgtype.UUID
	OrderID        uuid.UUID
	Action         string
	Amount         pgtype.Numeric
	Method         string
	OperatorID     uuid.UUID
	OperatorName   string
	PreviousStatus string
	NewStatus      string
	Metadata       []byte
}

func (q *Queries) CreatePaymentHistory(ctx context.Context, arg CreatePaymentHistoryParams) (PaymentHistory, error) {
	return scanPaymentHistory(q.db.QueryRow(ctx, createPaymentHistoryQuery,
		arg.PaymentID, arg.OrderID, arg.Action, arg.Amount, arg.Method,
		arg.OperatorID, arg.OperatorName, arg.PreviousStatus, arg.NewStatus, arg.Metadata))
}

func (q *Queries) ListPaymentHistoryByOrder(ctx context.Context, orderID uuid.UUID) ([]PaymentHistory, error) {
	rows, err := q.db.Query(ctx, listPaymentHistoryByOrderQuery, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []PaymentHistory
	for rows.Next() {
		h, err := scanPaymentHistory(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, h)
	}
	return entries, rows.Err()
}
