package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const orderColumns = `id, table_id, order_type, status, payment_status, total_amount, opened_at, closed_at`

const getOrderQuery = `
SELECT ` + orderColumns + ` FROM orders WHERE id = $1
`

// GetOrderForUpdate locks the order row without waiting. A concurrent
// allocation holding the lock makes this fail with SQLSTATE 55P03 instead
// of queueing behind it.
const getOrderForUpdateQuery = `
SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE NOWAIT
`

const listOrdersQuery = `
SELECT ` + orderColumns + ` FROM orders
WHERE ($1::text = '' OR status = $1)
ORDER BY opened_at DESC
LIMIT $2
`

const createOrderQuery = `
INSERT INTO orders (table_id, order_type, status, payment_status, total_amount)
VALUES ($1, $2, 'open', 'unpaid', $3)
RETURNING ` + orderColumns

const setOrderPaidQuery = `
UPDATE orders
SET status = 'paid', payment_status = 'fully_paid', closed_at = now()
WHERE id = $1
RETURNING ` + orderColumns

const setOrderPartiallyPaidQuery = `
UPDATE orders
SET payment_status = 'partially_paid'
WHERE id = $1
RETURNING ` + orderColumns

const updateOrderStatusQuery = `
UPDATE orders
SET status = $2
WHERE id = $1 AND status NOT IN ('paid', 'cancelled')
RETURNING ` + orderColumns

const countActiveOrdersOnTableQuery = `
SELECT count(*) FROM orders
WHERE table_id = $1 AND id <> $2 AND status NOT IN ('paid', 'cancelled')
`

func scanOrder(row interface{ Scan(...any) error }) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.TableID, &o.OrderType, &o.Status, &o.PaymentStatus,
		&o.TotalAmount, &o.OpenedAt, &o.ClosedAt)
	return o, err
}

func (q *Queries) GetOrder(ctx context.Context, id uuid.UUID) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrderQuery, id))
}

func (q *Queries) GetOrderForUpdate(ctx context.Context, id uuid.UUID) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrderForUpdateQuery, id))
}

type ListOrdersParams struct {
	Status string
	Limit  int32
}

func (q *Queries) ListOrders(ctx context.Context, arg ListOrdersParams) ([]Order, error) {
	rows, err := q.db.Query(ctx, listOrdersQuery, arg.Status, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

type CreateOrderParams struct {
	TableID     pgtype.UUID
	OrderType   string
	TotalAmount pgtype.Numeric
}

func (q *Queries) CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, createOrderQuery, arg.TableID, arg.OrderType, arg.TotalAmount))
}

func (q *Queries) SetOrderPaid(ctx context.Context, id uuid.UUID) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, setOrderPaidQuery, id))
}

func (q *Queries) SetOrderPartiallyPaid(ctx context.Context, id uuid.UUID) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, setOrderPartiallyPaidQuery, id))
}

type UpdateOrderStatusParams struct {
	ID     uuid.UUID
	Status string
}

func (q *Queries) UpdateOrderStatus(ctx context.Context, arg UpdateOrderStatusParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, updateOrderStatusQuery, arg.ID, arg.Status))
}

type CountActiveOrdersOnTableParams struct {
	TableID        pgtype.UUID
	ExcludeOrderID uuid.UUID
}

func (q *Queries) CountActiveOrdersOnTable(ctx context.Context, arg CountActiveOrdersOnTableParams) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countActiveOrdersOnTableQuery, arg.TableID, arg.ExcludeOrderID).Scan(&n)
	return n, err
}
