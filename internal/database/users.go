package database

import (
	"context"

	"github.com/google/uuid"
)

const userColumns = `id, username, hashed_password, full_name, role, created_at`

const getUserByUsernameQuery = `
SELECT ` + userColumns + ` FROM users WHERE username = $1
`

const getUserByIDQuery = `
SELECT ` + userColumns + ` FROM users WHERE id = $1
`

const createUserQuery = `
INSERT INTO users (username, hashed_password, full_name, role)
VALUES ($1, $2, $3, $4)
RETURNING ` + userColumns

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.HashedPassword, &u.FullName, &u.Role, &u.CreatedAt)
	return u, err
}

func (q *Queries) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return scanUser(q.db.QueryRow(ctx, getUserByUsernameQuery, username))
}

func (q *Queries) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	return scanUser(q.db.QueryRow(ctx, getUserByIDQuery, id))
}

type CreateUserParams struct {
	Username       string
	HashedPassword string
	FullName       string
	Role           string
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	return scanUser(q.db.QueryRow(ctx, createUserQuery,
		arg.Username, arg.HashedPassword, arg.FullName, arg.Role))
}
