package database

import (
	"context"

	"github.com/google/uuid"
)

const tableColumns = `id, number, status`

const getTableQuery = `
SELECT ` + tableColumns + ` FROM tables WHERE id = $1
`

const getTableByNumberQuery = `
SELECT ` + tableColumns + ` FROM tables WHERE number = $1
`

const listTablesQuery = `
SELECT ` + tableColumns + ` FROM tables ORDER BY number
`

const setTableStatusQuery = `
UPDATE tables SET status = $2 WHERE id = $1
RETURNING ` + tableColumns

func scanTable(row interface{ Scan(...any) error }) (Table, error) {
	var t Table
	err := row.Scan(&t.ID, &t.Number, &t.Status)
	return t, err
}

func (q *Queries) GetTable(ctx context.Context, id uuid.UUID) (Table, error) {
	return scanTable(q.db.QueryRow(ctx, getTableQuery, id))
}

func (q *Queries) GetTableByNumber(ctx context.Context, number int32) (Table, error) {
	return scanTable(q.db.QueryRow(ctx, getTableByNumberQuery, number))
}

func (q *Queries) ListTables(ctx context.Context) ([]Table, error) {
	rows, err := q.db.Query(ctx, listTablesQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

type SetTableStatusParams struct {
	ID     uuid.UUID
	Status string
}

func (q *Queries) SetTableStatus(ctx context.Context, arg SetTableStatusParams) (Table, error) {
	return scanTable(q.db.QueryRow(ctx, setTableStatusQuery, arg.ID, arg.Status))
}
