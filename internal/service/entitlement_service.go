package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"
	"unicode/utf8"

	"skillyug/internal/domain"
	"skillyug/internal/models"
	"skillyug/internal/repository"
	"skillyug/internal/verification"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maxCallbackAttempts = 5

// CallbackInput is one inbound payment confirmation, from the browser relay, a gateway
// webhook or a reconciliation run. BuyerID is set for relays made on a buyer's behalf;
// the order the callback resolves to must then belong to that buyer.
type CallbackInput struct {
	BuyerID          string
	OrderRef         string
	RemoteOrderID    string
	RemotePaymentID  string
	RemoteSignature  string
	AmountMinorUnits int64
	Currency         string
	Source           string
	RawPayload       []byte
}

type CallbackResult struct {
	Order    *models.Order
	Replayed bool
}

// OrderListener is told about every status change the writer commits.
type OrderListener interface {
	OrderUpdated(o *models.Order)
}

// EntitlementWriter turns verified callbacks into ENTITLED orders plus an entitlement row,
// and records failures. All status changes go through compare-and-swap transitions.
type EntitlementWriter struct {
	db           *gorm.DB
	orders       *repository.OrderRepository
	callbacks    *repository.CallbackRepository
	entitlements *repository.EntitlementRepository
	audit        *repository.AuditLogRepository
	secret       string
	listeners    []OrderListener
	now          func() time.Time
}

func NewEntitlementWriter(db *gorm.DB, orders *repository.OrderRepository, callbacks *repository.CallbackRepository, entitlements *repository.EntitlementRepository, audit *repository.AuditLogRepository, secret string, listeners ...OrderListener) *EntitlementWriter {
	return &EntitlementWriter{
		db:           db,
		orders:       orders,
		callbacks:    callbacks,
		entitlements: entitlements,
		audit:        audit,
		secret:       secret,
		listeners:    listeners,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (w *EntitlementWriter) SetClock(now func() time.Time) { w.now = now }

func (w *EntitlementWriter) AddListener(l OrderListener) { w.listeners = append(w.listeners, l) }

// RecordCallback appends the callback to the audit trail.
func (w *EntitlementWriter) RecordCallback(in CallbackInput) (*models.CallbackRecord, error) {
	raw := in.RawPayload
	if len(raw) == 0 || !json.Valid(raw) {
		raw = mustJSON(map[string]interface{}{
			"order_ref":         in.OrderRef,
			"remote_order_id":   in.RemoteOrderID,
			"remote_payment_id": in.RemotePaymentID,
			"raw":               string(in.RawPayload),
		})
	}
	rec := &models.CallbackRecord{
		ID:              uuid.NewString(),
		OrderRef:        in.OrderRef,
		RemoteOrderID:   in.RemoteOrderID,
		RemotePaymentID: in.RemotePaymentID,
		RemoteSignature: in.RemoteSignature,
		Source:          in.Source,
		RawPayload:      datatypes.JSON(raw),
		ReceivedAt:      w.now(),
	}
	if rec.Source == "" {
		rec.Source = domain.CallbackSourceClient
	}
	if err := w.callbacks.Create(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// HandleCallback records the callback, verifies it and, when it proves payment for a
// payable order, grants the entitlement. Replays of an already applied payment succeed
// without side effects.
func (w *EntitlementWriter) HandleCallback(ctx context.Context, in CallbackInput) (*CallbackResult, error) {
	if _, err := w.RecordCallback(in); err != nil {
		return nil, fmt.Errorf("record callback: %w", err)
	}

	if in.RemoteOrderID == "" {
		log.Printf("[CALLBACK] rejected: no remote order id order_ref=%s source=%s", in.OrderRef, in.Source)
		return nil, ErrUnknownOrder
	}
	o, err := w.orders.GetByRemoteOrderID(in.RemoteOrderID)
	if errors.Is(err, repository.ErrOrderNotFound) {
		log.Printf("[CALLBACK] rejected: unknown remote_order_id=%s order_ref=%s source=%s", in.RemoteOrderID, in.OrderRef, in.Source)
		return nil, ErrUnknownOrder
	}
	if err != nil {
		return nil, err
	}
	if in.BuyerID != "" && in.BuyerID != o.BuyerID {
		log.Printf("[CALLBACK] rejected: buyer=%s relayed remote_order_id=%s of order_ref=%s", in.BuyerID, in.RemoteOrderID, o.OrderRef)
		return nil, ErrNotOrderOwner
	}

	for attempt := 0; attempt < maxCallbackAttempts; attempt++ {
		if res, done, err := w.settled(ctx, o, in); done {
			return res, err
		}

		if !o.ExpiresAt.After(w.now()) {
			expired, err := w.Expire(o)
			if err != nil && !errors.Is(err, repository.ErrStaleTransition) {
				return nil, err
			}
			if expired.Status != domain.OrderStatusExpired {
				o = expired
				continue
			}
			log.Printf("[CALLBACK] late callback order_ref=%s remote_payment_id=%s source=%s", o.OrderRef, in.RemotePaymentID, in.Source)
			return nil, ErrOrderNotPayable
		}

		if verr := w.verify(o, in); verr != nil {
			return nil, verr
		}

		verified, err := w.orders.Transition(o.OrderRef, o.Status, domain.OrderStatusVerified, map[string]interface{}{
			"remote_payment_id": in.RemotePaymentID,
		})
		if errors.Is(err, repository.ErrStaleTransition) {
			// Someone else moved the order; re-read and decide again.
			if o, err = w.orders.GetByRef(o.OrderRef); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		log.Printf("[CALLBACK] verified order_ref=%s remote_payment_id=%s source=%s", verified.OrderRef, in.RemotePaymentID, in.Source)
		w.publish(verified)

		entitled, err := w.Finalize(ctx, verified)
		if err != nil {
			return nil, err
		}
		return &CallbackResult{Order: entitled}, nil
	}
	return nil, fmt.Errorf("handle callback %s: %w", o.OrderRef, repository.ErrStaleTransition)
}

// settled handles orders that are already past the point where a callback can move them.
// done is false when the order is still awaiting payment.
func (w *EntitlementWriter) settled(ctx context.Context, o *models.Order, in CallbackInput) (*CallbackResult, bool, error) {
	samePayment := o.RemotePayment() != "" && o.RemotePayment() == in.RemotePaymentID
	switch o.Status {
	case domain.OrderStatusEntitled:
		if samePayment {
			log.Printf("[CALLBACK] replay order_ref=%s remote_payment_id=%s source=%s", o.OrderRef, in.RemotePaymentID, in.Source)
			return &CallbackResult{Order: o, Replayed: true}, true, nil
		}
	case domain.OrderStatusVerified:
		if samePayment {
			entitled, err := w.Finalize(ctx, o)
			if err != nil {
				return nil, true, err
			}
			return &CallbackResult{Order: entitled, Replayed: true}, true, nil
		}
	case domain.OrderStatusCreated, domain.OrderStatusAwaitingCallback:
		return nil, false, nil
	}
	log.Printf("[CALLBACK] rejected: order_ref=%s status=%s remote_payment_id=%s source=%s", o.OrderRef, o.Status, in.RemotePaymentID, in.Source)
	return nil, true, ErrOrderNotPayable
}

// verify checks the callback against order o, the order its remote id resolves to. A
// callback naming a different order_ref is rejected without touching either order. Other
// failing checks are terminal for o.
func (w *EntitlementWriter) verify(o *models.Order, in CallbackInput) error {
	if in.OrderRef != "" && in.OrderRef != o.OrderRef {
		log.Printf("[CALLBACK] rejected: remote_order_id=%s belongs to order_ref=%s, not claimed order_ref=%s", in.RemoteOrderID, o.OrderRef, in.OrderRef)
		return &VerificationError{OrderRef: in.OrderRef, Cause: verification.ErrOrderMismatch}
	}
	exp := verification.Expected{
		OrderRef:         o.OrderRef,
		RemoteOrderID:    o.RemoteOrder(),
		AmountMinorUnits: o.AmountMinorUnits,
		Currency:         o.Currency,
	}
	claim := verification.Claim{
		OrderRef:         in.OrderRef,
		RemoteOrderID:    in.RemoteOrderID,
		RemotePaymentID:  in.RemotePaymentID,
		Signature:        in.RemoteSignature,
		AmountMinorUnits: in.AmountMinorUnits,
		Currency:         in.Currency,
	}
	err := verification.Verify(w.secret, exp, claim)
	if err == nil {
		if other, lerr := w.orders.GetByRemotePaymentID(in.RemotePaymentID); lerr == nil && other.OrderRef != o.OrderRef {
			log.Printf("[CALLBACK] remote_payment_id=%s already applied to order_ref=%s", in.RemotePaymentID, other.OrderRef)
			return &VerificationError{OrderRef: o.OrderRef, Cause: verification.ErrOrderMismatch}
		}
		return nil
	}

	log.Printf("[CALLBACK] verification failed order_ref=%s remote_order_id=%s: %v", o.OrderRef, in.RemoteOrderID, err)
	if _, ferr := w.MarkFailed(o, err.Error()); ferr != nil && !errors.Is(ferr, repository.ErrStaleTransition) {
		log.Printf("[CALLBACK] mark failed order_ref=%s: %v", o.OrderRef, ferr)
	}
	return &VerificationError{OrderRef: o.OrderRef, Cause: err}
}

// Finalize grants the entitlement for a VERIFIED order and moves it to ENTITLED in one
// transaction. It is safe to run concurrently and repeatedly for the same order.
func (w *EntitlementWriter) Finalize(ctx context.Context, o *models.Order) (*models.Order, error) {
	var result *models.Order
	var transitioned, orphaned bool
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		orders := w.orders.WithTx(tx)
		held, err := w.entitlements.WithTx(tx).Grant(&models.Entitlement{
			BuyerID:   o.BuyerID,
			CourseID:  o.CourseID,
			OrderRef:  o.OrderRef,
			GrantedAt: w.now(),
		})
		if err != nil {
			return err
		}
		if held == nil || held.OrderRef != o.OrderRef {
			// The buyer already owns the course through another order; this payment
			// cannot carry an entitlement of its own.
			failed, err := orders.Transition(o.OrderRef, domain.OrderStatusVerified, domain.OrderStatusFailed, map[string]interface{}{
				"failure_reason": "course already owned",
			})
			if err != nil {
				return err
			}
			result, orphaned = failed, true
			return w.auditTx(tx, failed, domain.AuditPaymentOrphaned, map[string]interface{}{"held_by": heldRef(held)})
		}
		entitled, err := orders.Transition(o.OrderRef, domain.OrderStatusVerified, domain.OrderStatusEntitled, nil)
		if errors.Is(err, repository.ErrStaleTransition) {
			current, gerr := orders.GetByRef(o.OrderRef)
			if gerr != nil {
				return gerr
			}
			if current.Status != domain.OrderStatusEntitled {
				return fmt.Errorf("finalize %s: unexpected status %s", o.OrderRef, current.Status)
			}
			result = current
			return nil
		}
		if err != nil {
			return err
		}
		result, transitioned = entitled, true
		return w.auditTx(tx, entitled, domain.AuditPaymentEntitled, nil)
	})
	if err != nil {
		return nil, err
	}
	if orphaned {
		log.Printf("[CALLBACK] order_ref=%s paid but buyer=%s already owns course=%s", o.OrderRef, o.BuyerID, o.CourseID)
		w.publish(result)
		return nil, ErrAlreadyEntitled
	}
	if transitioned {
		log.Printf("[CALLBACK] entitled order_ref=%s buyer=%s course=%s", result.OrderRef, result.BuyerID, result.CourseID)
		w.publish(result)
	}
	return result, nil
}

// MarkFailed moves a payable order to FAILED.
func (w *EntitlementWriter) MarkFailed(o *models.Order, reason string) (*models.Order, error) {
	failed, err := w.orders.Transition(o.OrderRef, o.Status, domain.OrderStatusFailed, map[string]interface{}{
		"failure_reason": truncate(reason, 255),
	})
	if err != nil {
		return nil, err
	}
	w.auditOrder(failed, domain.AuditPaymentFailed, map[string]interface{}{"reason": reason})
	w.publish(failed)
	return failed, nil
}

// Expire moves an overdue order to EXPIRED. On ErrStaleTransition the current order is
// returned alongside the error.
func (w *EntitlementWriter) Expire(o *models.Order) (*models.Order, error) {
	expired, err := w.orders.Transition(o.OrderRef, o.Status, domain.OrderStatusExpired, nil)
	if errors.Is(err, repository.ErrStaleTransition) {
		current, gerr := w.orders.GetByRef(o.OrderRef)
		if gerr != nil {
			return nil, gerr
		}
		return current, err
	}
	if err != nil {
		return nil, err
	}
	log.Printf("[CALLBACK] expired order_ref=%s", expired.OrderRef)
	w.auditOrder(expired, domain.AuditOrderExpired, nil)
	w.publish(expired)
	return expired, nil
}

func (w *EntitlementWriter) publish(o *models.Order) {
	for _, l := range w.listeners {
		l.OrderUpdated(o)
	}
}

func (w *EntitlementWriter) auditOrder(o *models.Order, action string, meta map[string]interface{}) {
	if err := w.auditTx(w.db, o, action, meta); err != nil {
		log.Printf("[AUDIT] %s order_ref=%s: %v", action, o.OrderRef, err)
	}
}

func (w *EntitlementWriter) auditTx(tx *gorm.DB, o *models.Order, action string, meta map[string]interface{}) error {
	if w.audit == nil {
		return nil
	}
	m := map[string]interface{}{
		"status":            o.Status,
		"remote_order_id":   o.RemoteOrder(),
		"remote_payment_id": o.RemotePayment(),
		"amount_minor":      o.AmountMinorUnits,
		"currency":          o.Currency,
	}
	for k, v := range meta {
		m[k] = v
	}
	buyer := o.BuyerID
	return w.audit.WithTx(tx).Create(&models.AuditLog{
		UserID:     &buyer,
		Action:     action,
		Resource:   "order",
		ResourceID: o.OrderRef,
		Metadata:   string(mustJSON(m)),
		CreatedAt:  w.now(),
	})
}

func heldRef(e *models.Entitlement) string {
	if e == nil {
		return ""
	}
	return e.OrderRef
}

func mustJSON(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
