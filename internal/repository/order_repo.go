package repository

import (
	"errors"
	"time"

	"skillyug/internal/domain"
	"skillyug/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrStaleTransition  = errors.New("order status changed concurrently")
	ErrPendingSlotTaken = errors.New("buyer already has an open order for this course")
)

// PendingSlot is the key that holds a buyer's single open order for a course.
func PendingSlot(buyerID, courseID string) string {
	return buyerID + "|" + courseID
}

// OrderRepository is the order store. Status only changes through Transition,
// which is a compare-and-swap on the current status.
type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *OrderRepository) WithTx(tx *gorm.DB) *OrderRepository {
	return &OrderRepository{db: tx}
}

// Create inserts the order. A non-terminal order claims the buyer's pending slot for the
// course; ErrPendingSlotTaken means another open order already holds it.
func (r *OrderRepository) Create(o *models.Order) error {
	if o.PendingSlot == nil && !domain.IsTerminalOrderStatus(o.Status) {
		slot := PendingSlot(o.BuyerID, o.CourseID)
		o.PendingSlot = &slot
	}
	err := r.db.Create(o).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrPendingSlotTaken
	}
	return err
}

// GetByPendingSlot returns the open order holding the buyer's slot for the course,
// whether or not it has passed its expiry.
func (r *OrderRepository) GetByPendingSlot(buyerID, courseID string) (*models.Order, error) {
	var o models.Order
	err := r.db.Where("pending_slot = ?", PendingSlot(buyerID, courseID)).First(&o).Error
	return orderOrNotFound(&o, err)
}

func (r *OrderRepository) GetByRef(ref string) (*models.Order, error) {
	var o models.Order
	err := r.db.Where("order_ref = ?", ref).First(&o).Error
	return orderOrNotFound(&o, err)
}

func (r *OrderRepository) GetByRemoteOrderID(remoteOrderID string) (*models.Order, error) {
	var o models.Order
	err := r.db.Where("remote_order_id = ?", remoteOrderID).First(&o).Error
	return orderOrNotFound(&o, err)
}

func (r *OrderRepository) GetByRemotePaymentID(remotePaymentID string) (*models.Order, error) {
	var o models.Order
	err := r.db.Where("remote_payment_id = ?", remotePaymentID).First(&o).Error
	return orderOrNotFound(&o, err)
}

// FindPending returns the buyer's live checkout for the course, if one exists.
func (r *OrderRepository) FindPending(buyerID, courseID string, now time.Time) (*models.Order, error) {
	var o models.Order
	err := r.db.Where("buyer_id = ? AND course_id = ? AND status IN ? AND expires_at > ?",
		buyerID, courseID, domain.PendingOrderStatuses, now).
		Order("created_at DESC").First(&o).Error
	return orderOrNotFound(&o, err)
}

// Transition moves the order from one status to another only if it is still at from.
// Extra columns are written in the same statement. ErrStaleTransition means another
// writer got there first; callers should re-read and decide. Moving to a terminal status
// releases the pending slot.
func (r *OrderRepository) Transition(ref, from, to string, extra map[string]interface{}) (*models.Order, error) {
	updates := map[string]interface{}{"status": to, "updated_at": time.Now().UTC()}
	if domain.IsTerminalOrderStatus(to) {
		updates["pending_slot"] = nil
	}
	for k, v := range extra {
		updates[k] = v
	}
	res := r.db.Model(&models.Order{}).Where("order_ref = ? AND status = ?", ref, from).Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.GetByRef(ref); err != nil {
			return nil, err
		}
		return nil, ErrStaleTransition
	}
	return r.GetByRef(ref)
}

// AttachRemoteOrder records the gateway's order id on a CREATED order and moves it to
// AWAITING_CALLBACK. The remote id is assigned once; attaching the same id again is a no-op.
func (r *OrderRepository) AttachRemoteOrder(ref, remoteOrderID string, meta datatypes.JSON) (*models.Order, error) {
	updates := map[string]interface{}{
		"remote_order_id": remoteOrderID,
		"status":          domain.OrderStatusAwaitingCallback,
		"updated_at":      time.Now().UTC(),
	}
	if len(meta) > 0 {
		updates["gateway_meta"] = meta
	}
	res := r.db.Model(&models.Order{}).
		Where("order_ref = ? AND status = ? AND remote_order_id IS NULL", ref, domain.OrderStatusCreated).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	o, err := r.GetByRef(ref)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 && o.RemoteOrder() != remoteOrderID {
		return o, ErrStaleTransition
	}
	return o, nil
}

// ListReconcilable returns pending orders created at or before cutoff that have not expired yet.
func (r *OrderRepository) ListReconcilable(cutoff, now time.Time, limit int) ([]models.Order, error) {
	var list []models.Order
	err := r.db.Where("status IN ? AND created_at <= ? AND expires_at > ?", domain.PendingOrderStatuses, cutoff, now).
		Order("created_at ASC").Limit(limit).Find(&list).Error
	return list, err
}

func (r *OrderRepository) ListByStatus(status string, limit int) ([]models.Order, error) {
	var list []models.Order
	err := r.db.Where("status = ?", status).Order("updated_at ASC").Limit(limit).Find(&list).Error
	return list, err
}

// ListOverdue returns orders still waiting for payment whose expiry has passed.
func (r *OrderRepository) ListOverdue(now time.Time, limit int) ([]models.Order, error) {
	var list []models.Order
	err := r.db.Where("status IN ? AND expires_at <= ?", domain.PendingOrderStatuses, now).
		Order("expires_at ASC").Limit(limit).Find(&list).Error
	return list, err
}

func (r *OrderRepository) ListByBuyer(buyerID string, limit, offset int) ([]models.Order, error) {
	var list []models.Order
	err := r.db.Where("buyer_id = ?", buyerID).Order("created_at DESC").Limit(limit).Offset(offset).Find(&list).Error
	return list, err
}

func orderOrNotFound(o *models.Order, err error) (*models.Order, error) {
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return o, nil
}
