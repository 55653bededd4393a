package payment

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// StubGateway is an in-memory gateway for development and tests. Payments are driven by
// calling Pay or Fail; nothing leaves the process.
type StubGateway struct {
	mu          sync.Mutex
	seq         int
	orders      map[string]*stubOrder
	byReceipt   map[string]string
	createErrs  []error
	fetchErr    error
	createCalls int
	fetchCalls  int
}

type stubOrder struct {
	order    RemoteOrder
	amount   int64
	currency string
	outcome  RemotePaymentOutcome
}

func NewStubGateway() *StubGateway {
	return &StubGateway{
		orders:    make(map[string]*stubOrder),
		byReceipt: make(map[string]string),
	}
}

func (s *StubGateway) Name() string { return "stub" }

func (s *StubGateway) CreateRemoteOrder(ctx context.Context, amountMinorUnits int64, currency, orderRef string) (*RemoteOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++
	if len(s.createErrs) > 0 {
		err := s.createErrs[0]
		s.createErrs = s.createErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if id, ok := s.byReceipt[orderRef]; ok {
		ro := s.orders[id].order
		return &ro, nil
	}
	s.seq++
	id := fmt.Sprintf("stub_order_%d", s.seq)
	o := &stubOrder{
		order:    RemoteOrder{ID: id, Receipt: orderRef, CreatedAt: time.Now().UTC()},
		amount:   amountMinorUnits,
		currency: currency,
		outcome:  RemotePaymentOutcome{Status: RemoteStatusPending},
	}
	s.orders[id] = o
	s.byReceipt[orderRef] = id
	ro := o.order
	return &ro, nil
}

func (s *StubGateway) FetchRemoteStatus(ctx context.Context, remoteOrderID string) (*RemotePaymentOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchCalls++
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	o, ok := s.orders[remoteOrderID]
	if !ok {
		return nil, ErrRemoteOrderNotFound
	}
	out := o.outcome
	return &out, nil
}

func (s *StubGateway) LookupRemoteOrder(ctx context.Context, orderRef string) (*RemoteOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byReceipt[orderRef]
	if !ok {
		return nil, ErrRemoteOrderNotFound
	}
	ro := s.orders[id].order
	return &ro, nil
}

// Pay marks the remote order as captured with the order's own amount.
func (s *StubGateway) Pay(remoteOrderID, paymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[remoteOrderID]
	if !ok {
		return ErrRemoteOrderNotFound
	}
	o.outcome = RemotePaymentOutcome{
		Status:           RemoteStatusPaid,
		PaymentID:        paymentID,
		AmountMinorUnits: o.amount,
		Currency:         o.currency,
	}
	return nil
}

// Fail marks every attempt on the remote order as failed.
func (s *StubGateway) Fail(remoteOrderID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[remoteOrderID]
	if !ok {
		return ErrRemoteOrderNotFound
	}
	o.outcome = RemotePaymentOutcome{Status: RemoteStatusFailed, Reason: reason}
	return nil
}

// FailNextCreates queues errors returned by the next CreateRemoteOrder calls, one per call.
// A create that fails after the order was registered can be simulated with RegisterOnly.
func (s *StubGateway) FailNextCreates(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createErrs = append(s.createErrs, errs...)
}

// RegisterOnly creates the remote order without returning it to the caller, the way a
// create whose response was lost leaves the gateway.
func (s *StubGateway) RegisterOnly(amountMinorUnits int64, currency, orderRef string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := fmt.Sprintf("stub_order_%d", s.seq)
	s.orders[id] = &stubOrder{
		order:    RemoteOrder{ID: id, Receipt: orderRef, CreatedAt: time.Now().UTC()},
		amount:   amountMinorUnits,
		currency: currency,
		outcome:  RemotePaymentOutcome{Status: RemoteStatusPending},
	}
	s.byReceipt[orderRef] = id
	return id
}

func (s *StubGateway) SetFetchError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchErr = err
}

func (s *StubGateway) CreateCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createCalls
}

func (s *StubGateway) FetchCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchCalls
}
