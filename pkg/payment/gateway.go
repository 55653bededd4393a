package payment

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrGatewayUnavailable covers transport failures, timeouts and 5xx/429 answers.
	// The caller may retry or leave the order for reconciliation.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrGatewayRejected means the gateway understood and refused the request.
	ErrGatewayRejected     = errors.New("payment gateway rejected request")
	ErrRemoteOrderNotFound = errors.New("remote order not found")
)

// Remote payment states as seen by the gateway.
const (
	RemoteStatusPaid    = "paid"
	RemoteStatusFailed  = "failed"
	RemoteStatusPending = "pending"
)

// RemoteOrder is the gateway-side order created for one local order reference.
type RemoteOrder struct {
	ID          string
	Receipt     string // local order reference echoed back by the gateway
	Token       string // checkout widget token, when the gateway issues one
	CheckoutURL string
	CreatedAt   time.Time
}

// RemotePaymentOutcome is what the gateway reports for a remote order.
type RemotePaymentOutcome struct {
	Status           string
	PaymentID        string
	AmountMinorUnits int64
	Currency         string
	Reason           string
}

// Gateway is the outbound adapter to a payment gateway. Implementations must be safe for
// concurrent use and must honour ctx deadlines where the underlying client allows it.
type Gateway interface {
	Name() string
	CreateRemoteOrder(ctx context.Context, amountMinorUnits int64, currency, orderRef string) (*RemoteOrder, error)
	// FetchRemoteStatus is read-only and may be called any number of times.
	FetchRemoteStatus(ctx context.Context, remoteOrderID string) (*RemotePaymentOutcome, error)
	// LookupRemoteOrder finds an order created for orderRef whose create response was lost.
	LookupRemoteOrder(ctx context.Context, orderRef string) (*RemoteOrder, error)
}
