package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/antonio12761/roxy-bar-sub004/internal/database"
	"github.com/antonio12761/roxy-bar-sub004/internal/enum"
	"github.com/antonio12761/roxy-bar-sub004/internal/service"
)

// --- Mock pgx.Tx / pool ---

type mockTx struct{}

func (m *mockTx) Begin(ctx context.Context) (pgx.Tx, error) { return m, nil }
func (m *mockTx) Commit(ctx context.Context) error          { return nil }
func (m *mockTx) Rollback(ctx context.Context) error        { return nil }
func (m *mockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (m *mockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (m *mockTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (m *mockTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (m *mockTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (m *mockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (m *mockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row { return nil }
func (m *mockTx) Conn() *pgx.Conn                                               { return nil }

type mockPool struct {
	beginTxFn func(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

func (m *mockPool) BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	if m.beginTxFn != nil {
		return m.beginTxFn(ctx, opts)
	}
	return &mockTx{}, nil
}

// --- Mock PaymentStore + AuditStore ---

type mockPaymentStore struct {
	mu       sync.Mutex
	orders   map[uuid.UUID]database.Order
	lines    map[uuid.UUID]database.OrderLine
	lineSeq  []uuid.UUID
	tables   map[uuid.UUID]database.Table
	payments []database.Payment
	history  []database.PaymentHistory

	// lockErr simulates row-lock contention per order.
	lockErr map[uuid.UUID]error

	// storeCalls counts every store method invocation, to prove that
	// precondition failures never reach the database.
	storeCalls int
}

func newMockPaymentStore() *mockPaymentStore {
	return &mockPaymentStore{
		orders:  make(map[uuid.UUID]database.Order),
		lines:   make(map[uuid.UUID]database.OrderLine),
		tables:  make(map[uuid.UUID]database.Table),
		lockErr: make(map[uuid.UUID]error),
	}
}

func (m *mockPaymentStore) GetOrderForUpdate(_ context.Context, id uuid.UUID) (database.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storeCalls++
	if err := m.lockErr[id]; err != nil {
		return database.Order{}, err
	}
	o, ok := m.orders[id]
	if !ok {
		return database.Order{}, pgx.ErrNoRows
	}
	return o, nil
}

func (m *mockPaymentStore) ListUnpaidLinesByOrder(_ context.Context, orderID uuid.UUID) ([]database.OrderLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storeCalls++
	var out []database.OrderLine
	for _, id := range m.lineSeq {
		l := m.lines[id]
		if l.OrderID == orderID && !l.Paid {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *mockPaymentStore) ListLinesByIDs(_ context.Context, ids []uuid.UUID) ([]database.OrderLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storeCalls++
	want := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []database.OrderLine
	for _, id := range m.lineSeq {
		if want[id] {
			out = append(out, m.lines[id])
		}
	}
	return out, nil
}

func (m *mockPaymentStore) MarkLinesPaid(_ context.Context, arg database.MarkLinesPaidParams) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storeCalls++
	var n int64
	for _, id := range arg.IDs {
		l, ok := m.lines[id]
		if !ok || l.Paid {
			continue
		}
		l.Paid = true
		if arg.PayerName.Valid {
			l.PayerName = arg.PayerName
		}
		m.lines[id] = l
		n++
	}
	return n, nil
}

func (m *mockPaymentStore) CreatePayment(_ context.Context, arg database.CreatePaymentParams) (database.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storeCalls++
	p := database.Payment{
		ID:         uuid.New(),
		OrderID:    arg.OrderID,
		Amount:     arg.Amount,
		Method:     arg.Method,
		PayerName:  arg.PayerName,
		OperatorID: arg.OperatorID,
		LineIDs:    arg.LineIDs,
		CreatedAt:  time.Now(),
	}
	m.payments = append(m.payments, p)
	return p, nil
}

func (m *mockPaymentStore) SumPaymentsByOrder(_ context.Context, orderID uuid.UUID) (pgtype.Numeric, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storeCalls++
	sum := decimal.Zero
	for _, p := range m.payments {
		if p.OrderID != orderID {
			continue
		}
		val, err := p.Amount.Value()
		if err != nil || val == nil {
			continue
		}
		d, err := decimal.NewFromString(val.(string))
		if err != nil {
			continue
		}
		sum = sum.Add(d)
	}
	return decimalToNumeric(sum), nil
}

func (m *mockPaymentStore) CountUnpaidLines(_ context.Context, orderID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storeCalls++
	var n int64
	for _, l := range m.lines {
		if l.OrderID == orderID && !l.Paid {
			n++
		}
	}
	return n, nil
}

func (m *mockPaymentStore) SetOrderPaid(_ context.Context, id uuid.UUID) (database.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storeCalls++
	o, ok := m.orders[id]
	if !ok {
		return database.Order{}, pgx.ErrNoRows
	}
	o.Status = enum.OrderStatusPaid
	o.PaymentStatus = enum.PaymentStatusFullyPaid
	o.ClosedAt = pgtype.Timestamptz{Time: time.Now(), Valid: true}
	m.orders[id] = o
	return o, nil
}

func (m *mockPaymentStore) SetOrderPartiallyPaid(_ context.Context, id uuid.UUID) (database.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storeCalls++
	o, ok := m.orders[id]
	if !ok {
		return database.Order{}, pgx.ErrNoRows
	}
	o.PaymentStatus = enum.PaymentStatusPartiallyPaid
	m.orders[id] = o
	return o, nil
}

func (m *mockPaymentStore) CountActiveOrdersOnTable(_ context.Context, arg database.CountActiveOrdersOnTableParams) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storeCalls++
	var n int64
	for _, o := range m.orders {
		if o.TableID == arg.TableID && o.ID != arg.ExcludeOrderID &&
			o.Status != enum.OrderStatusPaid && o.Status != enum.OrderStatusCancelled {
			n++
		}
	}
	return n, nil
}

func (m *mockPaymentStore) GetTable(_ context.Context, id uuid.UUID) (database.Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storeCalls++
	t, ok := m.tables[id]
	if !ok {
		return database.Table{}, pgx.ErrNoRows
	}
	return t, nil
}

func (m *mockPaymentStore) SetTableStatus(_ context.Context, arg database.SetTableStatusParams) (database.Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storeCalls++
	t, ok := m.tables[arg.ID]
	if !ok {
		return database.Table{}, pgx.ErrNoRows
	}
	t.Status = arg.Status
	m.tables[arg.ID] = t
	return t, nil
}

func (m *mockPaymentStore) CreatePaymentHistory(_ context.Context, arg database.CreatePaymentHistoryParams) (database.PaymentHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := database.PaymentHistory{
		ID:             uuid.New(),
		PaymentID:      arg.PaymentID,
		OrderID:        arg.OrderID,
		Action:         arg.Action,
		Amount:         arg.Amount,
		Method:         arg.Method,
		OperatorID:     arg.OperatorID,
		OperatorName:   arg.OperatorName,
		PreviousStatus: arg.PreviousStatus,
		NewStatus:      arg.NewStatus,
		Metadata:       arg.Metadata,
		CreatedAt:      time.Now(),
	}
	m.history = append(m.history, h)
	return h, nil
}

// --- Fixture builders ---

func (m *mockPaymentStore) addTable(number int32, status string) database.Table {
	t := database.Table{ID: uuid.New(), Number: number, Status: status}
	m.tables[t.ID] = t
	return t
}

func (m *mockPaymentStore) addOrder(tableID pgtype.UUID, total int64) database.Order {
	o := database.Order{
		ID:            uuid.New(),
		TableID:       tableID,
		OrderType:     enum.OrderTypeTable,
		Status:        enum.OrderStatusDelivered,
		PaymentStatus: enum.PaymentStatusUnpaid,
		TotalAmount:   decimalToNumeric(decimal.NewFromInt(total)),
		OpenedAt:      time.Now(),
	}
	m.orders[o.ID] = o
	return o
}

func (m *mockPaymentStore) addLine(orderID uuid.UUID, name string, qty int32, price int64) database.OrderLine {
	l := database.OrderLine{
		ID:          uuid.New(),
		OrderID:     orderID,
		ProductID:   uuid.New(),
		ProductName: name,
		Quantity:    qty,
		UnitPrice:   decimalToNumeric(decimal.NewFromInt(price)),
		CreatedAt:   time.Now(),
	}
	m.lines[l.ID] = l
	m.lineSeq = append(m.lineSeq, l.ID)
	return l
}

func tableRef(t database.Table) pgtype.UUID {
	return pgtype.UUID{Bytes: t.ID, Valid: true}
}

// --- Fake side channels ---

type publishedEvent struct {
	Type    string
	Payload any
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (f *fakePublisher) Publish(eventType string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, publishedEvent{Type: eventType, Payload: payload})
}

type fakeReceipts struct {
	mu       sync.Mutex
	receipts []service.ReceiptRequest
	err      error
}

func (f *fakeReceipts) Enqueue(_ context.Context, req service.ReceiptRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.receipts = append(f.receipts, req)
	return nil
}

// --- Helpers ---

func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(d.StringFixed(2))
	return n
}

func numericToDecimal(t *testing.T, n pgtype.Numeric) decimal.Decimal {
	t.Helper()
	val, err := n.Value()
	if err != nil || val == nil {
		t.Fatalf("numeric value: %v", err)
	}
	d, err := decimal.NewFromString(val.(string))
	if err != nil {
		t.Fatalf("parse numeric: %v", err)
	}
	return d
}

func newTestService(store *mockPaymentStore) (*service.PaymentService, *fakePublisher, *fakeReceipts) {
	pub := &fakePublisher{}
	rec := &fakeReceipts{}
	svc := service.NewPaymentService(
		store,
		&mockPool{},
		func(db database.DBTX) service.PaymentStore { return store },
		store,
		pub,
		rec,
		zap.NewNop(),
	)
	return svc, pub, rec
}

func cashier() service.Operator {
	return service.Operator{ID: uuid.New(), Name: "Anna", Role: enum.UserRoleCashier}
}

// --- PayByAmount ---

func TestPayByAmount_FullPayment_ReleasesTable(t *testing.T) {
	store := newMockPaymentStore()
	table := store.addTable(4, enum.TableStatusOccupied)
	order := store.addOrder(tableRef(table), 20)
	lineA := store.addLine(order.ID, "Spritz", 2, 5)
	lineB := store.addLine(order.ID, "Club Sandwich", 1, 10)

	svc, pub, rec := newTestService(store)

	res, err := svc.PayByAmount(context.Background(), cashier(), service.AmountPayment{
		OrderID: order.ID,
		Amount:  decimal.NewFromInt(20),
		Method:  enum.PaymentMethodCard,
	})
	if err != nil {
		t.Fatalf("PayByAmount: %v", err)
	}

	if len(res.SettledLineIDs) != 2 {
		t.Fatalf("settled lines: got %d, want 2", len(res.SettledLineIDs))
	}
	if !store.lines[lineA.ID].Paid || !store.lines[lineB.ID].Paid {
		t.Error("both lines should be paid")
	}
	if res.Order.Status != enum.OrderStatusPaid {
		t.Errorf("order status: got %s, want paid", res.Order.Status)
	}
	if res.Order.PaymentStatus != enum.PaymentStatusFullyPaid {
		t.Errorf("payment status: got %s, want fully_paid", res.Order.PaymentStatus)
	}
	if !res.Order.ClosedAt.Valid {
		t.Error("closed_at should be set")
	}
	if !res.TableReleased {
		t.Error("table should be released")
	}
	if store.tables[table.ID].Status != enum.TableStatusFree {
		t.Errorf("table status: got %s, want free", store.tables[table.ID].Status)
	}
	if !res.Remainder.IsZero() {
		t.Errorf("remainder: got %s, want 0", res.Remainder)
	}

	if len(pub.events) != 1 || pub.events[0].Type != service.EventOrderPaid {
		t.Fatalf("events: got %+v, want one order:paid", pub.events)
	}
	if len(rec.receipts) != 1 || len(rec.receipts[0].Lines) != 2 {
		t.Fatalf("receipts: got %+v, want one with 2 lines", rec.receipts)
	}
	if len(store.history) != 1 {
		t.Fatalf("history entries: got %d, want 1", len(store.history))
	}
	if store.history[0].PreviousStatus != enum.PaymentStatusUnpaid ||
		store.history[0].NewStatus != enum.PaymentStatusFullyPaid {
		t.Errorf("history transition: got %s -> %s", store.history[0].PreviousStatus, store.history[0].NewStatus)
	}
}

func TestPayByAmount_PartialFIFO(t *testing.T) {
	store := newMockPaymentStore()
	table := store.addTable(4, enum.TableStatusOccupied)
	order := store.addOrder(tableRef(table), 20)
	lineA := store.addLine(order.ID, "Spritz", 2, 5)   // oldest, costs 10
	lineB := store.addLine(order.ID, "Club Sandwich", 1, 10)

	svc, pub, _ := newTestService(store)

	res, err := svc.PayByAmount(context.Background(), cashier(), service.AmountPayment{
		OrderID: order.ID,
		Amount:  decimal.NewFromInt(10),
		Method:  enum.PaymentMethodCash,
	})
	if err != nil {
		t.Fatalf("PayByAmount: %v", err)
	}

	if len(res.SettledLineIDs) != 1 || res.SettledLineIDs[0] != lineA.ID {
		t.Fatalf("settled lines: got %v, want [%s] (oldest first)", res.SettledLineIDs, lineA.ID)
	}
	if !store.lines[lineA.ID].Paid {
		t.Error("oldest line should be paid")
	}
	if store.lines[lineB.ID].Paid {
		t.Error("newer line should stay unpaid")
	}
	if res.Order.PaymentStatus != enum.PaymentStatusPartiallyPaid {
		t.Errorf("payment status: got %s, want partially_paid", res.Order.PaymentStatus)
	}
	if res.Order.Status != enum.OrderStatusDelivered {
		t.Errorf("order status should be untouched, got %s", res.Order.Status)
	}
	if res.TableReleased {
		t.Error("table must stay occupied on partial payment")
	}
	if store.tables[table.ID].Status != enum.TableStatusOccupied {
		t.Errorf("table status: got %s, want occupied", store.tables[table.ID].Status)
	}
	if len(pub.events) != 1 || pub.events[0].Type != service.EventOrderPartiallyPaid {
		t.Fatalf("events: got %+v, want one order:partially-paid", pub.events)
	}
}

func TestPayByAmount_SkipsLineItCannotCover(t *testing.T) {
	store := newMockPaymentStore()
	order := store.addOrder(pgtype.UUID{}, 25)
	lineA := store.addLine(order.ID, "Espresso", 1, 10)
	lineB := store.addLine(order.ID, "Gin Tonic", 1, 15)

	svc, _, _ := newTestService(store)

	// 12 covers the first line; the remaining 2 cannot cover the second
	// and becomes tip, never a partial settlement of lineB.
	res, err := svc.PayByAmount(context.Background(), cashier(), service.AmountPayment{
		OrderID: order.ID,
		Amount:  decimal.NewFromInt(12),
		Method:  enum.PaymentMethodCash,
	})
	if err != nil {
		t.Fatalf("PayByAmount: %v", err)
	}

	if len(res.SettledLineIDs) != 1 || res.SettledLineIDs[0] != lineA.ID {
		t.Fatalf("settled: got %v, want only the first line", res.SettledLineIDs)
	}
	if store.lines[lineB.ID].Paid {
		t.Error("uncovered line must not be marked paid")
	}
	if res.Remainder.Cmp(decimal.NewFromInt(2)) != 0 {
		t.Errorf("remainder: got %s, want 2", res.Remainder)
	}
}

func TestPayByAmount_WithinTolerance_FullyPaidWithTip(t *testing.T) {
	store := newMockPaymentStore()
	order := store.addOrder(pgtype.UUID{}, 20)
	store.addLine(order.ID, "Spritz", 2, 5)
	store.addLine(order.ID, "Club Sandwich", 1, 10)

	svc, _, _ := newTestService(store)

	// 22 is exactly 110% of the remaining 20.
	res, err := svc.PayByAmount(context.Background(), cashier(), service.AmountPayment{
		OrderID: order.ID,
		Amount:  decimal.NewFromInt(22),
		Method:  enum.PaymentMethodCard,
	})
	if err != nil {
		t.Fatalf("PayByAmount: %v", err)
	}
	if res.Order.PaymentStatus != enum.PaymentStatusFullyPaid {
		t.Errorf("payment status: got %s, want fully_paid", res.Order.PaymentStatus)
	}
	if res.Remainder.Cmp(decimal.NewFromInt(2)) != 0 {
		t.Errorf("remainder: got %s, want 2 (tip)", res.Remainder)
	}
	if amt := numericToDecimal(t, res.Payment.Amount); amt.Cmp(decimal.NewFromInt(22)) != 0 {
		t.Errorf("payment records the full requested amount: got %s, want 22", amt)
	}
}

func TestPayByAmount_BelowEveryLineCost_RecordedAsPartial(t *testing.T) {
	store := newMockPaymentStore()
	order := store.addOrder(pgtype.UUID{}, 25)
	lineA := store.addLine(order.ID, "Espresso", 1, 10)
	store.addLine(order.ID, "Gin Tonic", 1, 15)

	svc, _, _ := newTestService(store)

	// 5 cannot cover any whole line. The payment is still recorded (a real
	// cash deposit happened) and the order moves to partially_paid.
	res, err := svc.PayByAmount(context.Background(), cashier(), service.AmountPayment{
		OrderID: order.ID,
		Amount:  decimal.NewFromInt(5),
		Method:  enum.PaymentMethodCash,
	})
	if err != nil {
		t.Fatalf("PayByAmount: %v", err)
	}
	if len(res.SettledLineIDs) != 0 {
		t.Fatalf("settled: got %v, want none", res.SettledLineIDs)
	}
	if store.lines[lineA.ID].Paid {
		t.Error("no line may be marked paid")
	}
	if len(store.payments) != 1 {
		t.Fatalf("payments: got %d, want 1", len(store.payments))
	}
	if res.Order.PaymentStatus != enum.PaymentStatusPartiallyPaid {
		t.Errorf("payment status: got %s, want partially_paid", res.Order.PaymentStatus)
	}
	if res.Remainder.Cmp(decimal.NewFromInt(5)) != 0 {
		t.Errorf("remainder: got %s, want 5", res.Remainder)
	}
}

func TestPayByAmount_AmountTooHigh(t *testing.T) {
	store := newMockPaymentStore()
	order := store.addOrder(pgtype.UUID{}, 20)
	lineA := store.addLine(order.ID, "Spritz", 2, 5)
	lineB := store.addLine(order.ID, "Club Sandwich", 1, 10)

	svc, pub, rec := newTestService(store)

	_, err := svc.PayByAmount(context.Background(), cashier(), service.AmountPayment{
		OrderID: order.ID,
		Amount:  decimal.NewFromInt(25), // 25 > 22 (20 * 1.10)
		Method:  enum.PaymentMethodCard,
	})
	if !errors.Is(err, service.ErrAmountTooHigh) {
		t.Fatalf("err: got %v, want ErrAmountTooHigh", err)
	}

	// Nothing must have changed.
	if store.lines[lineA.ID].Paid || store.lines[lineB.ID].Paid {
		t.Error("no line may be paid after a rejected payment")
	}
	if len(store.payments) != 0 {
		t.Errorf("payments: got %d, want 0", len(store.payments))
	}
	if store.orders[order.ID].PaymentStatus != enum.PaymentStatusUnpaid {
		t.Error("payment status must be unchanged")
	}
	if len(pub.events) != 0 || len(rec.receipts) != 0 || len(store.history) != 0 {
		t.Error("no side effects after a rejected payment")
	}
}

func TestPayByAmount_CumulativeCapAcrossPayments(t *testing.T) {
	store := newMockPaymentStore()
	order := store.addOrder(pgtype.UUID{}, 22)
	store.addLine(order.ID, "Tagliere", 1, 22)

	svc, _, _ := newTestService(store)
	op := cashier()

	// Tip-only payment leaves the unpaid total untouched.
	if _, err := svc.PayByAmount(context.Background(), op, service.AmountPayment{
		OrderID: order.ID,
		Amount:  decimal.NewFromInt(10),
		Method:  enum.PaymentMethodCash,
	}); err != nil {
		t.Fatalf("tip-only payment: %v", err)
	}

	// 24 passes the per-payment tolerance (24 <= 22 * 1.10) but would push
	// the order's cumulative payments past 110% of its nominal total.
	_, err := svc.PayByAmount(context.Background(), op, service.AmountPayment{
		OrderID: order.ID,
		Amount:  decimal.NewFromInt(24),
		Method:  enum.PaymentMethodCard,
	})
	if !errors.Is(err, service.ErrAmountTooHigh) {
		t.Fatalf("err: got %v, want ErrAmountTooHigh", err)
	}

	total := decimal.Zero
	for _, p := range store.payments {
		total = total.Add(numericToDecimal(t, p.Amount))
	}
	if limit := decimal.RequireFromString("24.20"); total.GreaterThan(limit) {
		t.Errorf("cumulative paid %s exceeds nominal*1.10 = %s", total, limit)
	}
}

func TestPayByLines_CumulativeCapAfterTips(t *testing.T) {
	store := newMockPaymentStore()
	order := store.addOrder(pgtype.UUID{}, 22)
	line := store.addLine(order.ID, "Tagliere", 1, 22)

	svc, _, _ := newTestService(store)
	op := cashier()

	if _, err := svc.PayByAmount(context.Background(), op, service.AmountPayment{
		OrderID: order.ID,
		Amount:  decimal.NewFromInt(10),
		Method:  enum.PaymentMethodCash,
	}); err != nil {
		t.Fatalf("tip-only payment: %v", err)
	}

	// Settling the line would bring cumulative payments to 32 > 24.20, so
	// the group fails and the line stays unpaid.
	res, err := svc.PayByLines(context.Background(), op, service.LinesPayment{
		LineIDs: []uuid.UUID{line.ID},
		Method:  enum.PaymentMethodCard,
	})
	if err != nil {
		t.Fatalf("PayByLines: %v", err)
	}
	if len(res.Settlements) != 1 || !errors.Is(res.Settlements[0].Err, service.ErrAmountTooHigh) {
		t.Fatalf("settlements: %+v, want single ErrAmountTooHigh", res.Settlements)
	}
	if store.lines[line.ID].Paid {
		t.Error("line must stay unpaid when the cap rejects the settlement")
	}
	if len(store.payments) != 1 {
		t.Errorf("payments: got %d, want only the tip payment", len(store.payments))
	}
}

func TestPayByAmount_InvalidAmount_NoStoreAccess(t *testing.T) {
	store := newMockPaymentStore()
	order := store.addOrder(pgtype.UUID{}, 20)
	store.addLine(order.ID, "Spritz", 2, 5)

	svc, _, _ := newTestService(store)

	for _, amount := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-5)} {
		_, err := svc.PayByAmount(context.Background(), cashier(), service.AmountPayment{
			OrderID: order.ID,
			Amount:  amount,
			Method:  enum.PaymentMethodCash,
		})
		if !errors.Is(err, service.ErrInvalidAmount) {
			t.Fatalf("amount %s: got %v, want ErrInvalidAmount", amount, err)
		}
	}
	if store.storeCalls != 0 {
		t.Errorf("store calls: got %d, want 0 (rejected before any I/O)", store.storeCalls)
	}
}

func TestPayByAmount_PermissionDenied_BeforeAnyIO(t *testing.T) {
	store := newMockPaymentStore()
	order := store.addOrder(pgtype.UUID{}, 20)
	store.addLine(order.ID, "Spritz", 2, 5)

	svc, _, _ := newTestService(store)

	op := service.Operator{ID: uuid.New(), Name: "Gino", Role: enum.UserRoleKitchen}
	_, err := svc.PayByAmount(context.Background(), op, service.AmountPayment{
		OrderID: order.ID,
		Amount:  decimal.NewFromInt(10),
		Method:  enum.PaymentMethodCash,
	})
	if !errors.Is(err, service.ErrPermissionDenied) {
		t.Fatalf("err: got %v, want ErrPermissionDenied", err)
	}
	if store.storeCalls != 0 {
		t.Errorf("store calls: got %d, want 0", store.storeCalls)
	}
}

func TestPayByAmount_InvalidMethod(t *testing.T) {
	store := newMockPaymentStore()
	svc, _, _ := newTestService(store)

	_, err := svc.PayByAmount(context.Background(), cashier(), service.AmountPayment{
		OrderID: uuid.New(),
		Amount:  decimal.NewFromInt(10),
		Method:  "BITCOIN",
	})
	if !errors.Is(err, service.ErrInvalidMethod) {
		t.Fatalf("err: got %v, want ErrInvalidMethod", err)
	}
}

func TestPayByAmount_OrderNotFound(t *testing.T) {
	store := newMockPaymentStore()
	svc, _, _ := newTestService(store)

	_, err := svc.PayByAmount(context.Background(), cashier(), service.AmountPayment{
		OrderID: uuid.New(),
		Amount:  decimal.NewFromInt(10),
		Method:  enum.PaymentMethodCash,
	})
	if !errors.Is(err, service.ErrOrderNotFound) {
		t.Fatalf("err: got %v, want ErrOrderNotFound", err)
	}
}

func TestPayByAmount_AlreadyPaid_NoDuplicatePayment(t *testing.T) {
	store := newMockPaymentStore()
	order := store.addOrder(pgtype.UUID{}, 10)
	store.addLine(order.ID, "Espresso", 1, 10)

	svc, _, _ := newTestService(store)
	op := cashier()

	if _, err := svc.PayByAmount(context.Background(), op, service.AmountPayment{
		OrderID: order.ID,
		Amount:  decimal.NewFromInt(10),
		Method:  enum.PaymentMethodCash,
	}); err != nil {
		t.Fatalf("first payment: %v", err)
	}

	// Double-click: the second attempt observes the committed state.
	_, err := svc.PayByAmount(context.Background(), op, service.AmountPayment{
		OrderID: order.ID,
		Amount:  decimal.NewFromInt(10),
		Method:  enum.PaymentMethodCash,
	})
	if !errors.Is(err, service.ErrAlreadyPaid) {
		t.Fatalf("err: got %v, want ErrAlreadyPaid", err)
	}
	if len(store.payments) != 1 {
		t.Errorf("payments: got %d, want exactly 1", len(store.payments))
	}
}

func TestPayByAmount_LockContention_Busy(t *testing.T) {
	store := newMockPaymentStore()
	order := store.addOrder(pgtype.UUID{}, 20)
	store.addLine(order.ID, "Spritz", 2, 5)
	store.lockErr[order.ID] = &pgconn.PgError{Code: "55P03"}

	svc, _, _ := newTestService(store)

	_, err := svc.PayByAmount(context.Background(), cashier(), service.AmountPayment{
		OrderID: order.ID,
		Amount:  decimal.NewFromInt(10),
		Method:  enum.PaymentMethodCash,
	})
	if !errors.Is(err, service.ErrOrderBusy) {
		t.Fatalf("err: got %v, want ErrOrderBusy", err)
	}
	if len(store.payments) != 0 {
		t.Error("no payment may be created under lock contention")
	}
}

func TestPayByAmount_SequentialHalves_SingleFullyPaidTransition(t *testing.T) {
	store := newMockPaymentStore()
	table := store.addTable(7, enum.TableStatusOccupied)
	order := store.addOrder(tableRef(table), 20)
	store.addLine(order.ID, "Spritz", 2, 5)
	store.addLine(order.ID, "Club Sandwich", 1, 10)

	svc, pub, _ := newTestService(store)
	op := cashier()

	first, err := svc.PayByAmount(context.Background(), op, service.AmountPayment{
		OrderID: order.ID, Amount: decimal.NewFromInt(10), Method: enum.PaymentMethodCash,
	})
	if err != nil {
		t.Fatalf("first half: %v", err)
	}
	second, err := svc.PayByAmount(context.Background(), op, service.AmountPayment{
		OrderID: order.ID, Amount: decimal.NewFromInt(10), Method: enum.PaymentMethodCard,
	})
	if err != nil {
		t.Fatalf("second half: %v", err)
	}

	if first.Order.PaymentStatus != enum.PaymentStatusPartiallyPaid {
		t.Errorf("first: got %s, want partially_paid", first.Order.PaymentStatus)
	}
	if second.Order.PaymentStatus != enum.PaymentStatusFullyPaid {
		t.Errorf("second: got %s, want fully_paid", second.Order.PaymentStatus)
	}

	// Each line settled exactly once, totals add up to the order total.
	total := decimal.Zero
	for _, p := range store.payments {
		total = total.Add(numericToDecimal(t, p.Amount))
	}
	if total.Cmp(decimal.NewFromInt(20)) != 0 {
		t.Errorf("total paid: got %s, want 20", total)
	}
	if len(first.SettledLineIDs)+len(second.SettledLineIDs) != 2 {
		t.Errorf("settled lines across both payments: got %d, want 2",
			len(first.SettledLineIDs)+len(second.SettledLineIDs))
	}

	var paidEvents int
	for _, e := range pub.events {
		if e.Type == service.EventOrderPaid {
			paidEvents++
		}
	}
	if paidEvents != 1 {
		t.Errorf("order:paid events: got %d, want exactly 1", paidEvents)
	}
}

func TestPayByAmount_TableNotReleasedWhileOtherOrderActive(t *testing.T) {
	store := newMockPaymentStore()
	table := store.addTable(3, enum.TableStatusOccupied)
	order := store.addOrder(tableRef(table), 10)
	store.addLine(order.ID, "Espresso", 1, 10)
	other := store.addOrder(tableRef(table), 15)
	store.addLine(other.ID, "Gin Tonic", 1, 15)

	svc, _, _ := newTestService(store)

	res, err := svc.PayByAmount(context.Background(), cashier(), service.AmountPayment{
		OrderID: order.ID,
		Amount:  decimal.NewFromInt(10),
		Method:  enum.PaymentMethodCash,
	})
	if err != nil {
		t.Fatalf("PayByAmount: %v", err)
	}
	if res.Order.PaymentStatus != enum.PaymentStatusFullyPaid {
		t.Fatalf("payment status: got %s, want fully_paid", res.Order.PaymentStatus)
	}
	if res.TableReleased {
		t.Error("table must not be released while another order is active")
	}
	if store.tables[table.ID].Status != enum.TableStatusOccupied {
		t.Errorf("table status: got %s, want occupied", store.tables[table.ID].Status)
	}
}

// --- PayByLines ---

func TestPayByLines_TwoOrdersSameTable(t *testing.T) {
	store := newMockPaymentStore()
	table := store.addTable(5, enum.TableStatusOccupied)
	order1 := store.addOrder(tableRef(table), 10)
	lineA := store.addLine(order1.ID, "Espresso", 1, 10)
	order2 := store.addOrder(tableRef(table), 25)
	lineB := store.addLine(order2.ID, "Gin Tonic", 1, 15)
	store.addLine(order2.ID, "Olive", 1, 10)

	svc, _, _ := newTestService(store)

	res, err := svc.PayByLines(context.Background(), cashier(), service.LinesPayment{
		LineIDs:   []uuid.UUID{lineA.ID, lineB.ID},
		Method:    enum.PaymentMethodMixed,
		PayerName: "Marco",
	})
	if err != nil {
		t.Fatalf("PayByLines: %v", err)
	}
	if !res.AllSucceeded() {
		t.Fatalf("expected full success, got %+v", res.Settlements)
	}
	if len(res.Settlements) != 2 {
		t.Fatalf("settlements: got %d, want 2 (one per order)", len(res.Settlements))
	}
	if len(store.payments) != 2 {
		t.Fatalf("payments: got %d, want 2 independent records", len(store.payments))
	}

	// order1 is fully settled by its only line; order2 keeps one line open.
	if store.orders[order1.ID].PaymentStatus != enum.PaymentStatusFullyPaid {
		t.Errorf("order1: got %s, want fully_paid", store.orders[order1.ID].PaymentStatus)
	}
	if store.orders[order2.ID].PaymentStatus != enum.PaymentStatusPartiallyPaid {
		t.Errorf("order2: got %s, want partially_paid", store.orders[order2.ID].PaymentStatus)
	}
	// order2 is still active, so the table stays occupied.
	if store.tables[table.ID].Status != enum.TableStatusOccupied {
		t.Errorf("table status: got %s, want occupied", store.tables[table.ID].Status)
	}
	if store.lines[lineB.ID].PayerName.String != "Marco" {
		t.Errorf("payer name: got %q, want Marco", store.lines[lineB.ID].PayerName.String)
	}

	// Each payment amount equals its group's line cost.
	for _, s := range res.Settlements {
		amt := numericToDecimal(t, s.Result.Payment.Amount)
		want := decimal.NewFromInt(10)
		if s.OrderID == order2.ID {
			want = decimal.NewFromInt(15)
		}
		if amt.Cmp(want) != 0 {
			t.Errorf("order %s payment: got %s, want %s", s.OrderID, amt, want)
		}
	}
}

func TestPayByLines_PartialSuccess(t *testing.T) {
	store := newMockPaymentStore()
	table := store.addTable(5, enum.TableStatusOccupied)
	order1 := store.addOrder(tableRef(table), 10)
	lineA := store.addLine(order1.ID, "Espresso", 1, 10)
	order2 := store.addOrder(tableRef(table), 15)
	lineB := store.addLine(order2.ID, "Gin Tonic", 1, 15)

	// order2 is locked by another cashier: its group fails, order1 commits.
	store.lockErr[order2.ID] = &pgconn.PgError{Code: "55P03"}

	svc, _, _ := newTestService(store)

	res, err := svc.PayByLines(context.Background(), cashier(), service.LinesPayment{
		LineIDs: []uuid.UUID{lineA.ID, lineB.ID},
		Method:  enum.PaymentMethodCash,
	})
	if err != nil {
		t.Fatalf("PayByLines: %v", err)
	}
	if res.AllSucceeded() {
		t.Fatal("expected partial success")
	}

	var ok1, busy2 bool
	for _, s := range res.Settlements {
		switch s.OrderID {
		case order1.ID:
			ok1 = s.Err == nil
		case order2.ID:
			busy2 = errors.Is(s.Err, service.ErrOrderBusy)
		}
	}
	if !ok1 || !busy2 {
		t.Fatalf("settlements: %+v, want order1 ok and order2 busy", res.Settlements)
	}

	// The first group's commit sticks.
	if !store.lines[lineA.ID].Paid {
		t.Error("order1 line should remain settled")
	}
	if store.lines[lineB.ID].Paid {
		t.Error("order2 line must stay unpaid")
	}
	if len(store.payments) != 1 {
		t.Errorf("payments: got %d, want 1", len(store.payments))
	}
}

func TestPayByLines_MissingLine(t *testing.T) {
	store := newMockPaymentStore()
	order := store.addOrder(pgtype.UUID{}, 10)
	line := store.addLine(order.ID, "Espresso", 1, 10)

	svc, _, _ := newTestService(store)

	_, err := svc.PayByLines(context.Background(), cashier(), service.LinesPayment{
		LineIDs: []uuid.UUID{line.ID, uuid.New()},
		Method:  enum.PaymentMethodCash,
	})
	if !errors.Is(err, service.ErrLineNotFound) {
		t.Fatalf("err: got %v, want ErrLineNotFound", err)
	}
	if store.lines[line.ID].Paid || len(store.payments) != 0 {
		t.Error("no writes may happen when a line is missing")
	}
}

func TestPayByLines_LineAlreadyPaid(t *testing.T) {
	store := newMockPaymentStore()
	order := store.addOrder(pgtype.UUID{}, 10)
	line := store.addLine(order.ID, "Espresso", 1, 10)
	l := store.lines[line.ID]
	l.Paid = true
	store.lines[line.ID] = l

	svc, _, _ := newTestService(store)

	_, err := svc.PayByLines(context.Background(), cashier(), service.LinesPayment{
		LineIDs: []uuid.UUID{line.ID},
		Method:  enum.PaymentMethodCash,
	})
	if !errors.Is(err, service.ErrAlreadyPaid) {
		t.Fatalf("err: got %v, want ErrAlreadyPaid", err)
	}
}

func TestPayByLines_EmptyAndDuplicateIDs(t *testing.T) {
	store := newMockPaymentStore()
	order := store.addOrder(pgtype.UUID{}, 10)
	line := store.addLine(order.ID, "Espresso", 1, 10)

	svc, _, _ := newTestService(store)

	if _, err := svc.PayByLines(context.Background(), cashier(), service.LinesPayment{
		Method: enum.PaymentMethodCash,
	}); !errors.Is(err, service.ErrEmptyLines) {
		t.Fatalf("err: got %v, want ErrEmptyLines", err)
	}

	// Duplicated ids collapse to one settlement of one line.
	res, err := svc.PayByLines(context.Background(), cashier(), service.LinesPayment{
		LineIDs: []uuid.UUID{line.ID, line.ID},
		Method:  enum.PaymentMethodCash,
	})
	if err != nil {
		t.Fatalf("PayByLines: %v", err)
	}
	if len(res.Settlements) != 1 || res.Settlements[0].Err != nil {
		t.Fatalf("settlements: %+v, want single success", res.Settlements)
	}
	if amt := numericToDecimal(t, store.payments[0].Amount); amt.Cmp(decimal.NewFromInt(10)) != 0 {
		t.Errorf("payment amount: got %s, want 10 (line counted once)", amt)
	}
}

func TestPayByLines_LastOrderOnTableReleasesIt(t *testing.T) {
	store := newMockPaymentStore()
	table := store.addTable(9, enum.TableStatusOccupied)
	order := store.addOrder(tableRef(table), 10)
	line := store.addLine(order.ID, "Espresso", 1, 10)

	svc, pub, _ := newTestService(store)

	res, err := svc.PayByLines(context.Background(), cashier(), service.LinesPayment{
		LineIDs: []uuid.UUID{line.ID},
		Method:  enum.PaymentMethodCard,
	})
	if err != nil {
		t.Fatalf("PayByLines: %v", err)
	}
	if !res.Settlements[0].Result.TableReleased {
		t.Error("table should be released")
	}
	if store.tables[table.ID].Status != enum.TableStatusFree {
		t.Errorf("table status: got %s, want free", store.tables[table.ID].Status)
	}
	if len(pub.events) != 1 || pub.events[0].Type != service.EventOrderPaid {
		t.Fatalf("events: got %+v, want one order:paid", pub.events)
	}
}

// --- Invariants ---

func TestPaidPlusUnpaidAlwaysEqualsTotal(t *testing.T) {
	store := newMockPaymentStore()
	order := store.addOrder(pgtype.UUID{}, 35)
	store.addLine(order.ID, "Espresso", 1, 10)
	store.addLine(order.ID, "Gin Tonic", 1, 15)
	store.addLine(order.ID, "Olive", 1, 10)

	svc, _, _ := newTestService(store)
	op := cashier()

	check := func() {
		t.Helper()
		sum := decimal.Zero
		for _, l := range store.lines {
			price := numericToDecimal(t, l.UnitPrice)
			sum = sum.Add(price.Mul(decimal.NewFromInt32(l.Quantity)))
		}
		if sum.Cmp(decimal.NewFromInt(35)) != 0 {
			t.Fatalf("nominal total drifted: got %s, want 35", sum)
		}
	}

	check()
	if _, err := svc.PayByAmount(context.Background(), op, service.AmountPayment{
		OrderID: order.ID, Amount: decimal.NewFromInt(10), Method: enum.PaymentMethodCash,
	}); err != nil {
		t.Fatal(err)
	}
	check()
	if _, err := svc.PayByAmount(context.Background(), op, service.AmountPayment{
		OrderID: order.ID, Amount: decimal.NewFromInt(25), Method: enum.PaymentMethodCard,
	}); err != nil {
		t.Fatal(err)
	}
	check()

	if store.orders[order.ID].PaymentStatus != enum.PaymentStatusFullyPaid {
		t.Error("order should be fully paid")
	}
}
