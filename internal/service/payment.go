package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/antonio12761/roxy-bar-sub004/internal/database"
	"github.com/antonio12761/roxy-bar-sub004/internal/enum"
)

// Errors returned by the payment service.
var (
	ErrPermissionDenied = errors.New("operator is not allowed to take payments")
	ErrOrderNotFound    = errors.New("order not found")
	ErrLineNotFound     = errors.New("order line not found")
	ErrAlreadyPaid      = errors.New("already paid")
	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrAmountTooHigh    = errors.New("amount exceeds remaining balance tolerance")
	ErrInvalidMethod    = errors.New("invalid payment method")
	ErrOrderBusy        = errors.New("order is being settled by another operator")
	ErrEmptyLines       = errors.New("line ids are required")
)

// overpayTolerance caps a payment at 110% of the remaining unpaid total,
// and caps the order's cumulative payments at 110% of its nominal total.
// The excess within the cap is recorded as tip/rounding, never reallocated.
var overpayTolerance = decimal.RequireFromString("1.10")

const defaultTxTimeout = 5 * time.Second

// Operator identifies who is taking the payment. Passed explicitly so the
// service stays testable without a request context.
type Operator struct {
	ID   uuid.UUID
	Name string
	Role string
}

func (op Operator) canTakePayments() bool {
	switch op.Role {
	case enum.UserRoleAdmin, enum.UserRoleManager, enum.UserRoleCashier:
		return true
	}
	return false
}

// TxBeginner starts a new database transaction with options.
type TxBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// PaymentStore defines the DB methods needed to settle payments.
// Satisfied by *database.Queries on a pool or a transaction.
type PaymentStore interface {
	GetOrderForUpdate(ctx context.Context, id uuid.UUID) (database.Order, error)
	ListUnpaidLinesByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderLine, error)
	ListLinesByIDs(ctx context.Context, ids []uuid.UUID) ([]database.OrderLine, error)
	MarkLinesPaid(ctx context.Context, arg database.MarkLinesPaidParams) (int64, error)
	CreatePayment(ctx context.Context, arg database.CreatePaymentParams) (database.Payment, error)
	SumPaymentsByOrder(ctx context.Context, orderID uuid.UUID) (pgtype.Numeric, error)
	CountUnpaidLines(ctx context.Context, orderID uuid.UUID) (int64, error)
	SetOrderPaid(ctx context.Context, id uuid.UUID) (database.Order, error)
	SetOrderPartiallyPaid(ctx context.Context, id uuid.UUID) (database.Order, error)
	CountActiveOrdersOnTable(ctx context.Context, arg database.CountActiveOrdersOnTableParams) (int64, error)
	GetTable(ctx context.Context, id uuid.UUID) (database.Table, error)
	SetTableStatus(ctx context.Context, arg database.SetTableStatusParams) (database.Table, error)
}

// AuditStore appends payment history records. Runs on the pool, after
// commit: a failed audit write must not undo a settled payment.
type AuditStore interface {
	CreatePaymentHistory(ctx context.Context, arg database.CreatePaymentHistoryParams) (database.PaymentHistory, error)
}

// NewPaymentStore creates a PaymentStore from a DBTX (pool or tx).
type NewPaymentStore func(db database.DBTX) PaymentStore

// EventPublisher fans out domain events to live UI clients. Best-effort.
type EventPublisher interface {
	Publish(eventType string, payload any)
}

// ReceiptQueue enqueues a receipt for rendering/printing after commit.
type ReceiptQueue interface {
	Enqueue(ctx context.Context, req ReceiptRequest) error
}

// Event types published after a committed settlement.
const (
	EventOrderPaid          = "order:paid"
	EventOrderPartiallyPaid = "order:partially-paid"
)

// OrderPaidEvent is the payload for both payment events.
type OrderPaidEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	TableNumber int32     `json:"table_number,omitempty"`
	Amount      string    `json:"amount"`
	Method      string    `json:"method"`
	Payer       string    `json:"payer,omitempty"`
	FullyPaid   bool      `json:"fully_paid"`
}

// ReceiptLine is one settled line on a receipt.
type ReceiptLine struct {
	Name      string `json:"name"`
	Quantity  int32  `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Total     string `json:"total"`
}

// ReceiptRequest asks the print service for a non-fiscal and fiscal receipt.
type ReceiptRequest struct {
	PaymentID   uuid.UUID     `json:"payment_id"`
	OrderID     uuid.UUID     `json:"order_id"`
	TableNumber int32         `json:"table_number,omitempty"`
	Amount      string        `json:"amount"`
	Method      string        `json:"method"`
	Payer       string        `json:"payer,omitempty"`
	Lines       []ReceiptLine `json:"lines"`
	Fiscal      bool          `json:"fiscal"`
}

// AmountPayment is a request to settle an order with a single amount.
type AmountPayment struct {
	OrderID   uuid.UUID
	Amount    decimal.Decimal
	Method    string
	PayerName string
}

// LinesPayment is a request to settle specific lines, possibly spanning
// several orders on the same table.
type LinesPayment struct {
	LineIDs   []uuid.UUID
	Method    string
	PayerName string
}

// AllocationResult reports what a settlement did to one order.
type AllocationResult struct {
	Payment        database.Payment
	Order          database.Order
	SettledLineIDs []uuid.UUID
	Remainder      decimal.Decimal
	TableReleased  bool
	TableNumber    int32

	settledLines   []database.OrderLine
	previousStatus string
}

// OrderSettlement is the per-order outcome of a PayByLines call.
type OrderSettlement struct {
	OrderID uuid.UUID
	Result  *AllocationResult
	Err     error
}

// LinesPaymentResult reports partial success across order groups: each
// order's transaction commits independently.
type LinesPaymentResult struct {
	Settlements []OrderSettlement
}

// AllSucceeded reports whether every order group committed.
func (r *LinesPaymentResult) AllSucceeded() bool {
	for _, s := range r.Settlements {
		if s.Err != nil {
			return false
		}
	}
	return true
}

// PaymentService allocates payments across unpaid order lines and keeps
// order, line and table state consistent under concurrent cashiers.
type PaymentService struct {
	store     PaymentStore // pool-bound, for reads outside a transaction
	pool      TxBeginner
	newStore  NewPaymentStore
	audit     AuditStore
	events    EventPublisher
	receipts  ReceiptQueue
	logger    *zap.Logger
	txTimeout time.Duration
}

// NewPaymentService creates a new PaymentService.
func NewPaymentService(store PaymentStore, pool TxBeginner, newStore NewPaymentStore, audit AuditStore,
	events EventPublisher, receipts ReceiptQueue, logger *zap.Logger) *PaymentService {
	return &PaymentService{
		store:     store,
		pool:      pool,
		newStore:  newStore,
		audit:     audit,
		events:    events,
		receipts:  receipts,
		logger:    logger,
		txTimeout: defaultTxTimeout,
	}
}

// PayByAmount settles an order with one amount, consuming unpaid lines
// oldest-first until the amount no longer covers a whole line. Everything
// up to commit runs in a single serializable transaction holding a no-wait
// lock on the order row; audit, events and the receipt follow the commit.
func (s *PaymentService) PayByAmount(ctx context.Context, op Operator, req AmountPayment) (*AllocationResult, error) {
	if !op.canTakePayments() {
		return nil, ErrPermissionDenied
	}
	if !isValidPaymentMethod(req.Method) {
		return nil, ErrInvalidMethod
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	res, err := s.payByAmountTx(ctx, op, req)
	if err != nil {
		return nil, err
	}

	s.afterCommit(op, res)
	return res, nil
}

func (s *PaymentService) payByAmountTx(ctx context.Context, op Operator, req AmountPayment) (*AllocationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	order, err := store.GetOrderForUpdate(ctx, req.OrderID)
	if err != nil {
		return nil, mapOrderLockErr(err)
	}
	if order.PaymentStatus == enum.PaymentStatusFullyPaid {
		return nil, ErrAlreadyPaid
	}

	lines, err := store.ListUnpaidLinesByOrder(ctx, req.OrderID)
	if err != nil {
		return nil, fmt.Errorf("list unpaid lines: %w", err)
	}

	remainingTotal := decimal.Zero
	for _, l := range lines {
		remainingTotal = remainingTotal.Add(lineCost(l))
	}
	if req.Amount.GreaterThan(remainingTotal.Mul(overpayTolerance)) {
		return nil, ErrAmountTooHigh
	}

	// Greedy FIFO walk: a line is either fully consumed or not touched.
	// The first line the remainder cannot cover stops the walk; what is
	// left over is tip/rounding.
	remaining := req.Amount
	var settled []database.OrderLine
	var settledIDs []uuid.UUID
	for _, l := range lines {
		cost := lineCost(l)
		if remaining.LessThan(cost) {
			break
		}
		remaining = remaining.Sub(cost)
		settled = append(settled, l)
		settledIDs = append(settledIDs, l.ID)
	}

	res, err := s.finishSettlement(ctx, store, op, order, req.Amount, req.Method, req.PayerName, settled, settledIDs)
	if err != nil {
		return nil, err
	}
	res.Remainder = remaining

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return res, nil
}

// PayByLines settles an explicit set of lines, grouped by parent order.
// Each order group runs its own transaction and commits independently:
// a failure partway through leaves earlier groups settled, and the result
// reports the per-order outcome so callers can surface partial success.
func (s *PaymentService) PayByLines(ctx context.Context, op Operator, req LinesPayment) (*LinesPaymentResult, error) {
	if !op.canTakePayments() {
		return nil, ErrPermissionDenied
	}
	if !isValidPaymentMethod(req.Method) {
		return nil, ErrInvalidMethod
	}
	if len(req.LineIDs) == 0 {
		return nil, ErrEmptyLines
	}

	lineIDs := dedupeIDs(req.LineIDs)

	// Resolve and group before touching anything: a missing or already
	// paid line fails the whole call with no writes.
	lines, err := s.store.ListLinesByIDs(ctx, lineIDs)
	if err != nil {
		return nil, fmt.Errorf("list lines: %w", err)
	}
	if len(lines) != len(lineIDs) {
		return nil, ErrLineNotFound
	}
	for _, l := range lines {
		if l.Paid {
			return nil, fmt.Errorf("line %s: %w", l.ID, ErrAlreadyPaid)
		}
	}

	var orderIDs []uuid.UUID
	groups := make(map[uuid.UUID][]database.OrderLine)
	for _, l := range lines {
		if _, ok := groups[l.OrderID]; !ok {
			orderIDs = append(orderIDs, l.OrderID)
		}
		groups[l.OrderID] = append(groups[l.OrderID], l)
	}

	result := &LinesPaymentResult{}
	for _, orderID := range orderIDs {
		res, err := s.settleLinesTx(ctx, op, orderID, groups[orderID], req.Method, req.PayerName)
		if err == nil {
			s.afterCommit(op, res)
		}
		result.Settlements = append(result.Settlements, OrderSettlement{
			OrderID: orderID,
			Result:  res,
			Err:     err,
		})
	}
	return result, nil
}

func (s *PaymentService) settleLinesTx(ctx context.Context, op Operator, orderID uuid.UUID,
	group []database.OrderLine, method, payerName string) (*AllocationResult, error) {

	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	order, err := store.GetOrderForUpdate(ctx, orderID)
	if err != nil {
		return nil, mapOrderLockErr(err)
	}
	if order.PaymentStatus == enum.PaymentStatusFullyPaid {
		return nil, ErrAlreadyPaid
	}

	// Re-read the group inside the lock; the pre-check ran unlocked.
	ids := make([]uuid.UUID, len(group))
	for i, l := range group {
		ids[i] = l.ID
	}
	settled, err := store.ListLinesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list lines: %w", err)
	}
	if len(settled) != len(ids) {
		return nil, ErrLineNotFound
	}
	amount := decimal.Zero
	for _, l := range settled {
		if l.Paid {
			return nil, fmt.Errorf("line %s: %w", l.ID, ErrAlreadyPaid)
		}
		amount = amount.Add(lineCost(l))
	}

	res, err := s.finishSettlement(ctx, store, op, order, amount, method, payerName, settled, ids)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return res, nil
}

// finishSettlement runs the shared tail of both entry points inside the
// caller's transaction: mark lines, insert the payment, recompute the
// order's payment status, release the table when nothing active remains.
func (s *PaymentService) finishSettlement(ctx context.Context, store PaymentStore, op Operator,
	order database.Order, amount decimal.Decimal, method, payerName string,
	settled []database.OrderLine, settledIDs []uuid.UUID) (*AllocationResult, error) {

	// Cumulative cap: tips from earlier payments count against the order's
	// nominal total, so the per-payment tolerance alone is not enough.
	paidSoFar, err := store.SumPaymentsByOrder(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("sum payments: %w", err)
	}
	paidCap := numericToDecimal(order.TotalAmount).Mul(overpayTolerance)
	if numericToDecimal(paidSoFar).Add(amount).GreaterThan(paidCap) {
		return nil, ErrAmountTooHigh
	}

	if len(settledIDs) > 0 {
		marked, err := store.MarkLinesPaid(ctx, database.MarkLinesPaidParams{
			IDs:       settledIDs,
			PayerName: textOrNull(payerName),
		})
		if err != nil {
			return nil, fmt.Errorf("mark lines paid: %w", err)
		}
		if marked != int64(len(settledIDs)) {
			return nil, ErrAlreadyPaid
		}
	}

	payment, err := store.CreatePayment(ctx, database.CreatePaymentParams{
		OrderID:    order.ID,
		Amount:     decimalToNumeric(amount),
		Method:     method,
		PayerName:  textOrNull(payerName),
		OperatorID: op.ID,
		LineIDs:    settledIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}

	unpaidLeft, err := store.CountUnpaidLines(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("count unpaid lines: %w", err)
	}

	res := &AllocationResult{
		Payment:        payment,
		SettledLineIDs: settledIDs,
		settledLines:   settled,
		previousStatus: order.PaymentStatus,
	}

	if unpaidLeft == 0 {
		res.Order, err = store.SetOrderPaid(ctx, order.ID)
		if err != nil {
			return nil, fmt.Errorf("set order paid: %w", err)
		}
	} else {
		res.Order, err = store.SetOrderPartiallyPaid(ctx, order.ID)
		if err != nil {
			return nil, fmt.Errorf("set order partially paid: %w", err)
		}
	}

	if order.TableID.Valid {
		table, err := store.GetTable(ctx, uuid.UUID(order.TableID.Bytes))
		if err != nil {
			return nil, fmt.Errorf("get table: %w", err)
		}
		res.TableNumber = table.Number

		if unpaidLeft == 0 {
			active, err := store.CountActiveOrdersOnTable(ctx, database.CountActiveOrdersOnTableParams{
				TableID:        order.TableID,
				ExcludeOrderID: order.ID,
			})
			if err != nil {
				return nil, fmt.Errorf("count active orders: %w", err)
			}
			if active == 0 {
				if _, err := store.SetTableStatus(ctx, database.SetTableStatusParams{
					ID:     table.ID,
					Status: enum.TableStatusFree,
				}); err != nil {
					return nil, fmt.Errorf("free table: %w", err)
				}
				res.TableReleased = true
			}
		}
	}

	return res, nil
}

// afterCommit records the audit entry and dispatches events and the
// receipt. All three are best-effort: the payment is already committed.
func (s *PaymentService) afterCommit(op Operator, res *AllocationResult) {
	ctx, cancel := context.WithTimeout(context.Background(), s.txTimeout)
	defer cancel()

	metadata, _ := json.Marshal(map[string]any{
		"settled_line_ids": res.SettledLineIDs,
		"remainder":        res.Remainder.StringFixed(2),
		"table_released":   res.TableReleased,
	})
	_, err := s.audit.CreatePaymentHistory(ctx, database.CreatePaymentHistoryParams{
		PaymentID:      pgtype.UUID{Bytes: res.Payment.ID, Valid: true},
		OrderID:        res.Order.ID,
		Action:         enum.PaymentActionCreate,
		Amount:         res.Payment.Amount,
		Method:         res.Payment.Method,
		OperatorID:     op.ID,
		OperatorName:   op.Name,
		PreviousStatus: res.previousStatus,
		NewStatus:      res.Order.PaymentStatus,
		Metadata:       metadata,
	})
	if err != nil {
		s.logger.Error("write payment audit",
			zap.String("order_id", res.Order.ID.String()),
			zap.String("payment_id", res.Payment.ID.String()),
			zap.Error(err))
	}

	fullyPaid := res.Order.PaymentStatus == enum.PaymentStatusFullyPaid
	eventType := EventOrderPartiallyPaid
	if fullyPaid {
		eventType = EventOrderPaid
	}
	amount := numericToDecimal(res.Payment.Amount).StringFixed(2)
	s.events.Publish(eventType, OrderPaidEvent{
		OrderID:     res.Order.ID,
		TableNumber: res.TableNumber,
		Amount:      amount,
		Method:      res.Payment.Method,
		Payer:       res.Payment.PayerName.String,
		FullyPaid:   fullyPaid,
	})

	receiptLines := make([]ReceiptLine, len(res.settledLines))
	for i, l := range res.settledLines {
		price := numericToDecimal(l.UnitPrice)
		receiptLines[i] = ReceiptLine{
			Name:      l.ProductName,
			Quantity:  l.Quantity,
			UnitPrice: price.StringFixed(2),
			Total:     price.Mul(decimal.NewFromInt32(l.Quantity)).StringFixed(2),
		}
	}
	if err := s.receipts.Enqueue(ctx, ReceiptRequest{
		PaymentID:   res.Payment.ID,
		OrderID:     res.Order.ID,
		TableNumber: res.TableNumber,
		Amount:      amount,
		Method:      res.Payment.Method,
		Payer:       res.Payment.PayerName.String,
		Lines:       receiptLines,
		Fiscal:      true,
	}); err != nil {
		s.logger.Error("enqueue receipt",
			zap.String("payment_id", res.Payment.ID.String()),
			zap.Error(err))
	}
}

// --- Helpers ---

func lineCost(l database.OrderLine) decimal.Decimal {
	return numericToDecimal(l.UnitPrice).Mul(decimal.NewFromInt32(l.Quantity))
}

func isValidPaymentMethod(m string) bool {
	switch m {
	case enum.PaymentMethodCash, enum.PaymentMethodCard, enum.PaymentMethodMixed:
		return true
	}
	return false
}

// mapOrderLockErr translates the row-lock read into the service taxonomy:
// no rows means the order is gone, SQLSTATE 55P03 (lock not available) and
// 40001 (serialization failure) mean another settlement holds the order.
func mapOrderLockErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrOrderNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "55P03" || pgErr.Code == "40001") {
		return ErrOrderBusy
	}
	return fmt.Errorf("lock order: %w", err)
}

func dedupeIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func textOrNull(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}
