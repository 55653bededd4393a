package ws

import (
	"time"

	"skillyug/internal/models"
)

// OrderStatusEvent is pushed to the buyer whenever one of their orders changes status.
type OrderStatusEvent struct {
	Type          string    `json:"type"`
	OrderRef      string    `json:"order_ref"`
	CourseID      string    `json:"course_id"`
	Status        string    `json:"status"`
	RemoteOrderID string    `json:"remote_order_id,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// OrderHub pushes order status changes to the owning buyer's connections.
type OrderHub struct {
	*Hub
}

func NewOrderHub() *OrderHub {
	return &OrderHub{Hub: NewHub()}
}

func (h *OrderHub) OrderUpdated(o *models.Order) {
	h.BroadcastToBuyer(o.BuyerID, OrderStatusEvent{
		Type:          "order_status",
		OrderRef:      o.OrderRef,
		CourseID:      o.CourseID,
		Status:        o.Status,
		RemoteOrderID: o.RemoteOrder(),
		UpdatedAt:     o.UpdatedAt,
	})
}
