package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type User struct {
	ID             uuid.UUID
	Username       string
	HashedPassword string
	FullName       string
	Role           string
	CreatedAt      time.Time
}

type Table struct {
	ID     uuid.UUID
	Number int32
	Status string
}

type Product struct {
	ID       uuid.UUID
	Name     string
	Category string
	Price    pgtype.Numeric
	Active   bool
}

type Order struct {
	ID            uuid.UUID
	TableID       pgtype.UUID
	OrderType     string
	Status        string
	PaymentStatus string
	TotalAmount   pgtype.Numeric
	OpenedAt      time.Time
	ClosedAt      pgtype.Timestamptz
}

type OrderLine struct {
	ID          uuid.UUID
	OrderID     uuid.UUID
	ProductID   uuid.UUID
	ProductName string
	Quantity    int32
	UnitPrice   pgtype.Numeric
	Paid        bool
	PayerName   pgtype.Text
	CreatedAt   time.Time
}

type Payment struct {
	ID         uuid.UUID
	OrderID    uuid.UUID
	Amount     pgtype.Numeric
	Method     string
	PayerName  pgtype.Text
	OperatorID uuid.UUID
	LineIDs    []uuid.UUID
	CreatedAt  time.Time
}

type PaymentHistory struct {
	ID             uuid.UUID
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
	CreatedAt      time.Time
}
