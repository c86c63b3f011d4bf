package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const productColumns = `id, name, category, price, active`

const getProductQuery = `
SELECT ` + productColumns + ` FROM products WHERE id = $1
`

const listProductsQuery = `
SELECT ` + productColumns + ` FROM products
WHERE active OR $1
ORDER BY category, name
`

const createProductQuery = `
INSERT INTO products (name, category, price)
VALUES ($1, $2, $3)
RETURNING ` + productColumns

func scanProduct(row interface{ Scan(...any) error }) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.Category, &p.Price, &p.Active)
	return p, err
}

func (q *Queries) GetProduct(ctx context.Context, id uuid.UUID) (Product, error) {
	return scanProduct(q.db.QueryRow(ctx, getProductQuery, id))
}

func (q *Queries) ListProducts(ctx context.Context, includeInactive bool) ([]Product, error) {
	rows, err := q.db.Query(ctx, listProductsQuery, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

type CreateProductParams struct {
	Name     string
	Category string
	Price    pgtype.Numeric
}

func (q *Queries) CreateProduct(ctx context.Context, arg CreateProductParams) (Product, error) {
	return scanProduct(q.db.QueryRow(ctx, createProductQuery, arg.Name, arg.Category, arg.Price))
}
