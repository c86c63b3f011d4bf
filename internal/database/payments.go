package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const paymentColumns = `id, order_id, amount, method, payer_name, operator_id, line_ids, created_at`

const createPaymentQuery = `
INSERT INTO payments (order_id, amount, method, payer_name, operator_id, line_ids)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + paymentColumns

const listPaymentsByOrderQuery = `
SELECT ` + paymentColumns + ` FROM payments
WHERE order_id = $1
ORDER BY created_at
`

const sumPaymentsByOrderQuery = `
SELECT COALESCE(sum(amount), 0) FROM payments WHERE order_id = $1
`

func scanPayment(row interface{ Scan(...any) error }) (Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.OrderID, &p.Amount, &p.Method, &p.PayerName,
		&p.OperatorID, &p.LineIDs, &p.CreatedAt)
	return p, err
}

type CreatePaymentParams struct {
	OrderID    uuid.UUID
	Amount     pgtype.Numeric
	Method     string
	PayerName  pgtype.Text
	OperatorID uuid.UUID
	LineIDs    []uuid.UUID
}

func (q *Queries) CreatePayment(ctx context.Context, arg CreatePaymentParams) (Payment, error) {
	return scanPayment(q.db.QueryRow(ctx, createPaymentQuery,
		arg.OrderID, arg.Amount, arg.Method, arg.PayerName, arg.OperatorID, arg.LineIDs))
}

func (q *Queries) ListPaymentsByOrder(ctx context.Context, orderID uuid.UUID) ([]Payment, error) {
	rows, err := q.db.Query(ctx, listPaymentsByOrderQuery, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (q *Queries) SumPaymentsByOrder(ctx context.Context, orderID uuid.UUID) (pgtype.Numeric, error) {
	var n pgtype.Numeric
	err := q.db.QueryRow(ctx, sumPaymentsByOrderQuery, orderID).Scan(&n)
	return n, err
}
