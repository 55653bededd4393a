package models

import (
	"time"

	"gorm.io/datatypes"
)

// Order is one payment attempt for a course. Amount, currency, buyer and course
// never change after creation; only Status and the remote identifiers move.
type Order struct {
	OrderRef         string         `gorm:"primaryKey;size:64" json:"order_ref"`
	BuyerID          string         `gorm:"size:64;not null;index:idx_orders_buyer_course" json:"buyer_id"`
	CourseID         string         `gorm:"size:64;not null;index:idx_orders_buyer_course" json:"course_id"`
	AmountMinorUnits int64          `gorm:"not null" json:"amount_minor_units"`
	Currency         string         `gorm:"size:3;not null" json:"currency"`
	Provider         string         `gorm:"size:20;not null" json:"provider"`
	RemoteOrderID    *string        `gorm:"size:128;uniqueIndex" json:"remote_order_id"`
	RemotePaymentID  *string        `gorm:"size:128;uniqueIndex" json:"remote_payment_id,omitempty"`
	Status           string         `gorm:"size:20;not null;index" json:"status"` // CREATED, AWAITING_CALLBACK, VERIFIED, ENTITLED, FAILED, EXPIRED
	FailureReason    string         `gorm:"size:255" json:"failure_reason,omitempty"`
	GatewayMeta      datatypes.JSON `json:"gateway_meta,omitempty"`
	ExpiresAt        time.Time      `gorm:"not null;index" json:"expires_at"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`

	// PendingSlot is "buyer|course" while the order is non-terminal and NULL afterwards.
	// Its unique index allows one open checkout per buyer and course.
	PendingSlot *string `gorm:"size:160;uniqueIndex" json:"-"`
}

func (Order) TableName() string {
	return "orders"
}

// RemoteOrder returns the remote order id or "" when none is attached yet.
func (o *Order) RemoteOrder() string {
	if o.RemoteOrderID == nil {
		return ""
	}
	return *o.RemoteOrderID
}

// RemotePayment returns the remote payment id recorded on verification, or "".
func (o *Order) RemotePayment() string {
	if o.RemotePaymentID == nil {
		return ""
	}
	return *o.RemotePaymentID
}

// CallbackRecord is the append-only audit row written for every inbound callback
// before any verification is attempted.
type CallbackRecord struct {
	ID              string         `gorm:"primaryKey;size:64" json:"id"`
	OrderRef        string         `gorm:"size:64;index" json:"order_ref"`
	RemoteOrderID   string         `gorm:"size:128;index" json:"remote_order_id"`
	RemotePaymentID string         `gorm:"size:128;index" json:"remote_payment_id"`
	RemoteSignature string         `gorm:"size:512" json:"-"`
	Source          string         `gorm:"size:20;not null;index" json:"source"` // client, client_failure, webhook, reconcile
	RawPayload      datatypes.JSON `json:"raw_payload"`
	ReceivedAt      time.Time      `gorm:"not null;index" json:"received_at"`
}

func (CallbackRecord) TableName() string {
	return "callback_records"
}
