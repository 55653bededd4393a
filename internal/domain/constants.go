package domain

const (
	RoleBuyer = "BUYER"
	RoleAdmin = "ADMIN"
)

// Order statuses. Transitions only move forward; FAILED and EXPIRED are terminal.
const (
	OrderStatusCreated          = "CREATED"
	OrderStatusAwaitingCallback = "AWAITING_CALLBACK"
	OrderStatusVerified         = "VERIFIED"
	OrderStatusEntitled         = "ENTITLED"
	OrderStatusFailed           = "FAILED"
	OrderStatusExpired          = "EXPIRED"
)

// IsTerminalOrderStatus reports whether no further transition is allowed out of status.
func IsTerminalOrderStatus(status string) bool {
	switch status {
	case OrderStatusEntitled, OrderStatusFailed, OrderStatusExpired:
		return true
	}
	return false
}

// PendingOrderStatuses are the statuses a checkout can still complete from.
var PendingOrderStatuses = []string{OrderStatusCreated, OrderStatusAwaitingCallback}

// Callback sources recorded on the audit trail.
const (
	CallbackSourceClient        = "client"
	CallbackSourceClientFailure = "client_failure"
	CallbackSourceWebhook       = "webhook"
	CallbackSourceReconcile     = "reconcile"
)

const (
	GatewayRazorpay = "razorpay"
	GatewayMidtrans = "midtrans"
	GatewayStub     = "stub"
)

const (
	NotificationCourseUnlocked = "COURSE_UNLOCKED"
	NotificationPaymentFailed  = "PAYMENT_FAILED"
)

const (
	AuditPaymentEntitled = "payment_entitled"
	AuditPaymentFailed   = "payment_failed"
	AuditOrderExpired    = "order_expired"
	AuditPaymentOrphaned = "payment_orphaned"
)
