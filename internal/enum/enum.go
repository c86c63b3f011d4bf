package enum

// ── Group A: State machines (CHECK constrained in DB) ──

const (
	OrderStatusOpen       = "open"
	OrderStatusInProgress = "in_progress"
	OrderStatusReady      = "ready"
	OrderStatusDelivered  = "delivered"
	OrderStatusPaid       = "paid"
	OrderStatusCancelled  = "cancelled"
)

const (
	PaymentStatusUnpaid        = "unpaid"
	PaymentStatusPartiallyPaid = "partially_paid"
	PaymentStatusFullyPaid     = "fully_paid"
)

const (
	TableStatusFree     = "free"
	TableStatusOccupied = "occupied"
	TableStatusReserved = "reserved"
	TableStatusCleaning = "cleaning"
)

// ── Group B: Borderline (CHECK constrained in DB) ──

const (
	UserRoleAdmin   = "ADMIN"
	UserRoleManager = "MANAGER"
	UserRoleCashier = "CASHIER"
	UserRoleWaiter  = "WAITER"
	UserRoleKitchen = "KITCHEN"
)

const (
	OrderTypeTable    = "TABLE"
	OrderTypeTakeaway = "TAKEAWAY"
	OrderTypeCounter  = "COUNTER"
)

const (
	PaymentMethodCash  = "CASH"
	PaymentMethodCard  = "CARD"
	PaymentMethodMixed = "MIXED"
)

// ── Group C: Audit trail actions (no DB constraint) ──

const (
	PaymentActionCreate = "create"
	PaymentActionVoid   = "void"
)
