package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"skillyug/config"
	"skillyug/internal/domain"
	"skillyug/internal/models"
	"skillyug/internal/repository"
	"skillyug/pkg/payment"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Catalog is the course catalog as seen by checkout.
type Catalog interface {
	Price(courseID string) (amountMinorUnits int64, currency string, err error)
	IsPurchasable(courseID string) (bool, error)
}

// Expirer closes an overdue order so its buyer can check out again.
type Expirer interface {
	Expire(o *models.Order) (*models.Order, error)
}

type CheckoutResult struct {
	Order       *models.Order
	RemoteOrder *payment.RemoteOrder
}

type CheckoutService struct {
	orders         *repository.OrderRepository
	entitlements   *repository.EntitlementRepository
	catalog        Catalog
	gateway        payment.Gateway
	expirer        Expirer
	orderTTL       time.Duration
	retries        int
	gatewayTimeout time.Duration
	backoff        time.Duration
	now            func() time.Time
}

func NewCheckoutService(orders *repository.OrderRepository, entitlements *repository.EntitlementRepository, catalog Catalog, gateway payment.Gateway, expirer Expirer, cfg *config.Config) *CheckoutService {
	return &CheckoutService{
		orders:         orders,
		entitlements:   entitlements,
		catalog:        catalog,
		gateway:        gateway,
		expirer:        expirer,
		orderTTL:       cfg.Checkout.OrderTTL,
		retries:        cfg.Checkout.GatewayRetries,
		gatewayTimeout: cfg.Gateway.Timeout,
		backoff:        200 * time.Millisecond,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source; used by tests.
func (s *CheckoutService) SetClock(now func() time.Time) { s.now = now }

// SetBackoff sets the base delay between gateway retries.
func (s *CheckoutService) SetBackoff(d time.Duration) { s.backoff = d }

// CreateOrder persists a CREATED order priced from the catalog.
func (s *CheckoutService) CreateOrder(buyerID, courseID string) (*models.Order, error) {
	amount, currency, err := s.catalog.Price(courseID)
	if err != nil {
		return nil, err
	}
	ok, err := s.catalog.IsPurchasable(courseID)
	if err != nil {
		return nil, err
	}
	if !ok || amount <= 0 {
		return nil, ErrCourseNotPurchasable
	}
	owned, err := s.entitlements.Exists(buyerID, courseID)
	if err != nil {
		return nil, err
	}
	if owned {
		return nil, ErrAlreadyEntitled
	}
	now := s.now()
	pending, err := s.orders.FindPending(buyerID, courseID, now)
	if err != nil && !errors.Is(err, repository.ErrOrderNotFound) {
		return nil, err
	}
	if pending != nil {
		return nil, &DuplicatePendingError{Order: pending}
	}
	o := &models.Order{
		OrderRef:         "ord_" + uuid.NewString(),
		BuyerID:          buyerID,
		CourseID:         courseID,
		AmountMinorUnits: amount,
		Currency:         currency,
		Provider:         s.gateway.Name(),
		Status:           domain.OrderStatusCreated,
		ExpiresAt:        now.Add(s.orderTTL),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.claimSlot(o, now); err != nil {
		return nil, err
	}
	log.Printf("[CHECKOUT] created order_ref=%s buyer=%s course=%s amount=%d %s", o.OrderRef, buyerID, courseID, amount, currency)
	return o, nil
}

// claimSlot inserts o. The insert fails while another open order holds the buyer's slot
// for the course; a live holder is reported as a duplicate and an overdue one is expired
// before trying again.
func (s *CheckoutService) claimSlot(o *models.Order, now time.Time) error {
	for attempt := 0; attempt < 3; attempt++ {
		err := s.orders.Create(o)
		if !errors.Is(err, repository.ErrPendingSlotTaken) {
			return err
		}
		holder, err := s.orders.GetByPendingSlot(o.BuyerID, o.CourseID)
		if errors.Is(err, repository.ErrOrderNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if holder.ExpiresAt.After(now) || holder.Status == domain.OrderStatusVerified {
			return &DuplicatePendingError{Order: holder}
		}
		current, err := s.expirer.Expire(holder)
		if err != nil && !errors.Is(err, repository.ErrStaleTransition) {
			return err
		}
		if current != nil && current.Status == domain.OrderStatusEntitled {
			return ErrAlreadyEntitled
		}
	}
	return fmt.Errorf("create order: %w", repository.ErrPendingSlotTaken)
}

// StartCheckout creates the local order and its remote counterpart. A pending order that
// never got a remote id is resumed instead of reported as a duplicate. When the gateway stays
// unavailable the order is returned in CREATED together with ErrGatewayUnavailable.
func (s *CheckoutService) StartCheckout(ctx context.Context, buyerID, courseID string) (*CheckoutResult, error) {
	o, err := s.CreateOrder(buyerID, courseID)
	var dup *DuplicatePendingError
	if errors.As(err, &dup) && dup.Order.Status == domain.OrderStatusCreated && dup.Order.RemoteOrderID == nil {
		log.Printf("[CHECKOUT] resuming order_ref=%s without remote order", dup.Order.OrderRef)
		o, err = dup.Order, nil
	}
	if err != nil {
		return nil, err
	}
	return s.ensureRemoteOrder(ctx, o)
}

func (s *CheckoutService) ensureRemoteOrder(ctx context.Context, o *models.Order) (*CheckoutResult, error) {
	var lastErr error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, s.backoff<<(attempt-1)); err != nil {
				break
			}
			// A timed-out create may still have reached the gateway.
			if ro, err := s.lookup(ctx, o.OrderRef); err == nil {
				return s.attach(o, ro)
			}
		}
		ro, err := s.createRemote(ctx, o)
		if err == nil {
			return s.attach(o, ro)
		}
		lastErr = err
		if !errors.Is(err, payment.ErrGatewayUnavailable) {
			break
		}
		log.Printf("[CHECKOUT] gateway unavailable order_ref=%s attempt=%d: %v", o.OrderRef, attempt+1, err)
	}
	log.Printf("[CHECKOUT] order_ref=%s left CREATED: %v", o.OrderRef, lastErr)
	return &CheckoutResult{Order: o}, fmt.Errorf("create remote order: %w", lastErr)
}

func (s *CheckoutService) createRemote(ctx context.Context, o *models.Order) (*payment.RemoteOrder, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()
	return s.gateway.CreateRemoteOrder(callCtx, o.AmountMinorUnits, o.Currency, o.OrderRef)
}

func (s *CheckoutService) lookup(ctx context.Context, orderRef string) (*payment.RemoteOrder, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()
	return s.gateway.LookupRemoteOrder(callCtx, orderRef)
}

func (s *CheckoutService) attach(o *models.Order, ro *payment.RemoteOrder) (*CheckoutResult, error) {
	updated, err := s.orders.AttachRemoteOrder(o.OrderRef, ro.ID, remoteOrderMeta(ro))
	if errors.Is(err, repository.ErrStaleTransition) {
		// Reconciliation attached or moved the order first; report what is stored.
		if updated.RemoteOrder() != ro.ID {
			ro = &payment.RemoteOrder{ID: updated.RemoteOrder(), Receipt: updated.OrderRef}
		}
		return &CheckoutResult{Order: updated, RemoteOrder: ro}, nil
	}
	if err != nil {
		return nil, err
	}
	log.Printf("[CHECKOUT] order_ref=%s awaiting callback remote_order_id=%s", o.OrderRef, ro.ID)
	return &CheckoutResult{Order: updated, RemoteOrder: ro}, nil
}

func remoteOrderMeta(ro *payment.RemoteOrder) datatypes.JSON {
	if ro.Token == "" && ro.CheckoutURL == "" {
		return nil
	}
	return datatypes.JSON(mustJSON(map[string]string{"token": ro.Token, "checkout_url": ro.CheckoutURL}))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
