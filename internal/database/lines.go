package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const lineColumns = `id, order_id, product_id, product_name, quantity, unit_price, paid, payer_name, created_at`

const createOrderLineQuery = `
INSERT INTO order_lines (order_id, product_id, product_name, quantity, unit_price)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + lineColumns

const listLinesByOrderQuery = `
SELECT ` + lineColumns + ` FROM order_lines
WHERE order_id = $1
ORDER BY created_at, id
`

// Unpaid lines in settlement order: creation time, id as tie-break.
const listUnpaidLinesByOrderQuery = `
SELECT ` + lineColumns + ` FROM order_lines
WHERE order_id = $1 AND NOT paid
ORDER BY created_at, id
`

const listLinesByIDsQuery = `
SELECT ` + lineColumns + ` FROM order_lines
WHERE id = ANY($1)
ORDER BY created_at, id
`

// Marks only still-unpaid lines; the returned count lets callers detect a
// line that was settled by a concurrent payment.
const markLinesPaidQuery = `
UPDATE order_lines
SET paid = true, payer_name = COALESCE($2, payer_name)
WHERE id = ANY($1) AND NOT paid
`

const countUnpaidLinesQuery = `
SELECT count(*) FROM order_lines WHERE order_id = $1 AND NOT paid
`

func scanOrderLine(row interface{ Scan(...any) error }) (OrderLine, error) {
	var l OrderLine
	err := row.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.ProductName, &l.Quantity,
		&l.UnitPrice, &l.Paid, &l.PayerName, &l.CreatedAt)
	return l, err
}

func (q *Queries) scanOrderLines(ctx context.Context, query string, args ...any) ([]OrderLine, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []OrderLine
	for rows.Next() {
		l, err := scanOrderLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

type CreateOrderLineParams struct {
	OrderID     uuid.UUID
	ProductID   uuid.UUID
	ProductName string
	Quantity    int32
	UnitPrice   pgtype.Numeric
}

func (q *Queries) CreateOrderLine(ctx context.Context, arg CreateOrderLineParams) (OrderLine, error) {
	return scanOrderLine(q.db.QueryRow(ctx, createOrderLineQuery,
		arg.OrderID, arg.ProductID, arg.ProductName, arg.Quantity, arg.UnitPrice))
}

func (q *Queries) ListLinesByOrder(ctx context.Context, orderID uuid.UUID) ([]OrderLine, error) {
	return q.scanOrderLines(ctx, listLinesByOrderQuery, orderID)
}

func (q *Queries) ListUnpaidLinesByOrder(ctx context.Context, orderID uuid.UUID) ([]OrderLine, error) {
	return q.scanOrderLines(ctx, listUnpaidLinesByOrderQuery, orderID)
}

func (q *Queries) ListLinesByIDs(ctx context.Context, ids []uuid.UUID) ([]OrderLine, error) {
	return q.scanOrderLines(ctx, listLinesByIDsQuery, ids)
}

type MarkLinesPaidParams struct {
	IDs       []uuid.UUID
	PayerName pgtype.Text
}

func (q *Queries) MarkLinesPaid(ctx context.Context, arg MarkLinesPaidParams) (int64, error) {
	tag, err := q.db.Exec(ctx, markLinesPaidQuery, arg.IDs, arg.PayerName)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) CountUnpaidLines(ctx context.Context, orderID uuid.UUID) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countUnpaidLinesQuery, orderID).Scan(&n)
	return n, err
}
