package service

import (
	"context"
	"errors"
	"log"
	"time"

	"skillyug/config"
	"skillyug/internal/domain"
	"skillyug/internal/models"
	"skillyug/internal/repository"
	"skillyug/internal/verification"
	"skillyug/pkg/payment"
)

// Reconciler re-derives an order's outcome from the gateway when no callback arrived.
// A paid remote order is fed back through the entitlement writer as a locally signed
// callback, so there is a single path to ENTITLED.
type Reconciler struct {
	orders         *repository.OrderRepository
	writer         *EntitlementWriter
	gateway        payment.Gateway
	secret         string
	grace          time.Duration
	batch          int
	gatewayTimeout time.Duration
	now            func() time.Time
}

func NewReconciler(orders *repository.OrderRepository, writer *EntitlementWriter, gateway payment.Gateway, cfg *config.Config) *Reconciler {
	return &Reconciler{
		orders:         orders,
		writer:         writer,
		gateway:        gateway,
		secret:         cfg.Gateway.KeySecret,
		grace:          cfg.Checkout.ReconcileGrace,
		batch:          cfg.Checkout.SweepBatch,
		gatewayTimeout: cfg.Gateway.Timeout,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func (r *Reconciler) SetClock(now func() time.Time) { r.now = now }

// Reconcile checks a pending order against the gateway once its grace period has passed.
// Orders inside the grace period, or in any other status, are returned unchanged.
func (r *Reconciler) Reconcile(ctx context.Context, orderRef string) (*models.Order, error) {
	return r.reconcile(ctx, orderRef, false)
}

// ReconcileNow skips the grace period. Used when the gateway has told us something
// happened (webhook, client failure report) and by operators.
func (r *Reconciler) ReconcileNow(ctx context.Context, orderRef string) (*models.Order, error) {
	return r.reconcile(ctx, orderRef, true)
}

func (r *Reconciler) reconcile(ctx context.Context, orderRef string, force bool) (*models.Order, error) {
	o, err := r.orders.GetByRef(orderRef)
	if errors.Is(err, repository.ErrOrderNotFound) {
		return nil, ErrUnknownOrder
	}
	if err != nil {
		return nil, err
	}
	now := r.now()

	switch o.Status {
	case domain.OrderStatusVerified:
		return r.writer.Finalize(ctx, o)
	case domain.OrderStatusCreated, domain.OrderStatusAwaitingCallback:
	default:
		return o, nil
	}

	if !o.ExpiresAt.After(now) {
		expired, err := r.writer.Expire(o)
		if err != nil && !errors.Is(err, repository.ErrStaleTransition) {
			return nil, err
		}
		return expired, nil
	}
	if !force && now.Sub(o.CreatedAt) < r.grace {
		return o, nil
	}

	if o.RemoteOrderID == nil {
		ro, err := r.lookup(ctx, o.OrderRef)
		if errors.Is(err, payment.ErrRemoteOrderNotFound) {
			return o, nil
		}
		if err != nil {
			log.Printf("[RECONCILE] lookup order_ref=%s: %v", o.OrderRef, err)
			return o, err
		}
		attached, err := r.orders.AttachRemoteOrder(o.OrderRef, ro.ID, remoteOrderMeta(ro))
		if err != nil && !errors.Is(err, repository.ErrStaleTransition) {
			return nil, err
		}
		log.Printf("[RECONCILE] attached remote_order_id=%s to order_ref=%s", ro.ID, o.OrderRef)
		o = attached
		if o.RemoteOrderID == nil {
			return o, nil
		}
	}

	outcome, err := r.fetch(ctx, o.RemoteOrder())
	if err != nil {
		log.Printf("[RECONCILE] fetch status order_ref=%s remote_order_id=%s: %v", o.OrderRef, o.RemoteOrder(), err)
		return o, err
	}

	switch outcome.Status {
	case payment.RemoteStatusPaid:
		log.Printf("[RECONCILE] order_ref=%s paid remotely remote_payment_id=%s", o.OrderRef, outcome.PaymentID)
		res, err := r.writer.HandleCallback(ctx, CallbackInput{
			OrderRef:         o.OrderRef,
			RemoteOrderID:    o.RemoteOrder(),
			RemotePaymentID:  outcome.PaymentID,
			RemoteSignature:  verification.Sign(r.secret, o.RemoteOrder(), outcome.PaymentID),
			AmountMinorUnits: outcome.AmountMinorUnits,
			Currency:         outcome.Currency,
			Source:           domain.CallbackSourceReconcile,
			RawPayload:       mustJSON(outcome),
		})
		if err != nil {
			return r.current(o.OrderRef, err)
		}
		return res.Order, nil
	case payment.RemoteStatusFailed:
		log.Printf("[RECONCILE] order_ref=%s failed remotely: %s", o.OrderRef, outcome.Reason)
		if _, err := r.writer.RecordCallback(CallbackInput{
			OrderRef:      o.OrderRef,
			RemoteOrderID: o.RemoteOrder(),
			Source:        domain.CallbackSourceReconcile,
			RawPayload:    mustJSON(outcome),
		}); err != nil {
			log.Printf("[RECONCILE] record outcome order_ref=%s: %v", o.OrderRef, err)
		}
		failed, err := r.writer.MarkFailed(o, "gateway: "+outcome.Reason)
		if errors.Is(err, repository.ErrStaleTransition) {
			return r.current(o.OrderRef, nil)
		}
		return failed, err
	default:
		return o, nil
	}
}

// current re-reads the order after a callback attempt; cause is returned with it.
func (r *Reconciler) current(orderRef string, cause error) (*models.Order, error) {
	o, err := r.orders.GetByRef(orderRef)
	if err != nil {
		return nil, err
	}
	return o, cause
}

func (r *Reconciler) fetch(ctx context.Context, remoteOrderID string) (*payment.RemotePaymentOutcome, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.gatewayTimeout)
	defer cancel()
	return r.gateway.FetchRemoteStatus(callCtx, remoteOrderID)
}

func (r *Reconciler) lookup(ctx context.Context, orderRef string) (*payment.RemoteOrder, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.gatewayTimeout)
	defer cancel()
	return r.gateway.LookupRemoteOrder(callCtx, orderRef)
}

// ExpireOverdue moves every order still waiting for payment past its expiry to EXPIRED.
func (r *Reconciler) ExpireOverdue(ctx context.Context, now time.Time) (int, error) {
	list, err := r.orders.ListOverdue(now, r.batch)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range list {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		if _, err := r.writer.Expire(&list[i]); err != nil {
			if !errors.Is(err, repository.ErrStaleTransition) {
				log.Printf("[SWEEP] expire order_ref=%s: %v", list[i].OrderRef, err)
			}
			continue
		}
		n++
	}
	return n, nil
}

// RecoverVerified finishes orders left at VERIFIED, for example by a crash between
// verification and the entitlement transaction.
func (r *Reconciler) RecoverVerified(ctx context.Context) (int, error) {
	list, err := r.orders.ListByStatus(domain.OrderStatusVerified, r.batch)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range list {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		o, err := r.writer.Finalize(ctx, &list[i])
		if err != nil {
			log.Printf("[SWEEP] recover order_ref=%s: %v", list[i].OrderRef, err)
			continue
		}
		if o.Status == domain.OrderStatusEntitled {
			n++
		}
	}
	return n, nil
}

type SweepStats struct {
	Reconciled int
	Recovered  int
	Expired    int
}

// Sweep reconciles pending orders past the grace period, finishes VERIFIED orders and
// expires overdue ones, each limited to one batch.
func (r *Reconciler) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	now := r.now()
	list, err := r.orders.ListReconcilable(now.Add(-r.grace), now, r.batch)
	if err != nil {
		return stats, err
	}
	for i := range list {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		o, err := r.Reconcile(ctx, list[i].OrderRef)
		if err != nil {
			log.Printf("[SWEEP] reconcile order_ref=%s: %v", list[i].OrderRef, err)
			continue
		}
		if o != nil && o.Status != list[i].Status {
			stats.Reconciled++
		}
	}
	if stats.Recovered, err = r.RecoverVerified(ctx); err != nil {
		return stats, err
	}
	if stats.Expired, err = r.ExpireOverdue(ctx, r.now()); err != nil {
		return stats, err
	}
	return stats, nil
}
