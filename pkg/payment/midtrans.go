package payment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"

	midtrans "github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"
)

// MidtransGateway creates Snap transactions and checks their status through the Core API.
// Midtrans takes the merchant's order id, so the remote order id is the local order reference.
type MidtransGateway struct {
	snap snap.Client
	core coreapi.Client
}

func NewMidtransGateway(serverKey string, production bool) *MidtransGateway {
	env := midtrans.Sandbox
	if production {
		env = midtrans.Production
	}
	g := &MidtransGateway{}
	g.snap.New(serverKey, env)
	g.core.New(serverKey, env)
	return g
}

func (g *MidtransGateway) Name() string { return "midtrans" }

func (g *MidtransGateway) CreateRemoteOrder(ctx context.Context, amountMinorUnits int64, currency, orderRef string) (*RemoteOrder, error) {
	req := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  orderRef,
			GrossAmt: amountMinorUnits / 100,
		},
		CustomField1: currency,
	}
	var resp *snap.Response
	err := callWithContext(ctx, func() *midtrans.Error {
		var merr *midtrans.Error
		resp, merr = g.snap.CreateTransaction(req)
		return merr
	})
	if err != nil {
		log.Printf("[MIDTRANS] create transaction failed order_ref=%s: %v", orderRef, err)
		return nil, err
	}
	log.Printf("[MIDTRANS] created order_ref=%s amount=%d", orderRef, req.TransactionDetails.GrossAmt)
	return &RemoteOrder{ID: orderRef, Receipt: orderRef, Token: resp.Token, CheckoutURL: resp.RedirectURL}, nil
}

// FetchRemoteStatus treats an order Midtrans has no transaction for yet as pending:
// the Snap page exists but the buyer has not picked a payment method.
func (g *MidtransGateway) FetchRemoteStatus(ctx context.Context, remoteOrderID string) (*RemotePaymentOutcome, error) {
	st, err := g.checkTransaction(ctx, remoteOrderID)
	if errors.Is(err, ErrRemoteOrderNotFound) {
		return &RemotePaymentOutcome{Status: RemoteStatusPending}, nil
	}
	if err != nil {
		return nil, err
	}
	out := &RemotePaymentOutcome{
		Status:   MapMidtransStatus(st.TransactionStatus, st.FraudStatus),
		Currency: st.Currency,
	}
	switch out.Status {
	case RemoteStatusPaid:
		out.PaymentID = st.TransactionID
		amount, perr := parseMidtransAmount(st.GrossAmount)
		if perr != nil {
			return nil, fmt.Errorf("%w: gross_amount %q", ErrGatewayRejected, st.GrossAmount)
		}
		out.AmountMinorUnits = amount
	case RemoteStatusFailed:
		out.Reason = st.TransactionStatus
	}
	return out, nil
}

func (g *MidtransGateway) LookupRemoteOrder(ctx context.Context, orderRef string) (*RemoteOrder, error) {
	if _, err := g.checkTransaction(ctx, orderRef); err != nil {
		return nil, err
	}
	return &RemoteOrder{ID: orderRef, Receipt: orderRef}, nil
}

func (g *MidtransGateway) checkTransaction(ctx context.Context, orderID string) (*coreapi.TransactionStatusResponse, error) {
	var st *coreapi.TransactionStatusResponse
	err := callWithContext(ctx, func() *midtrans.Error {
		var merr *midtrans.Error
		st, merr = g.core.CheckTransaction(orderID)
		return merr
	})
	if err != nil {
		return nil, err
	}
	if st == nil || st.StatusCode == "404" {
		return nil, ErrRemoteOrderNotFound
	}
	return st, nil
}

// MapMidtransStatus folds a Midtrans transaction_status/fraud_status pair into paid,
// failed or pending. Refund states never come back as paid.
func MapMidtransStatus(transactionStatus, fraudStatus string) string {
	switch strings.ToLower(transactionStatus) {
	case "settlement":
		return RemoteStatusPaid
	case "capture":
		switch strings.ToLower(fraudStatus) {
		case "accept", "":
			return RemoteStatusPaid
		case "challenge":
			return RemoteStatusPending
		}
		return RemoteStatusFailed
	case "deny", "cancel", "failure", "expire":
		return RemoteStatusFailed
	}
	return RemoteStatusPending
}

// parseMidtransAmount converts "499900.00" (major units) to minor units.
func parseMidtransAmount(gross string) (int64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(gross), 64)
	if err != nil {
		return 0, err
	}
	return int64(math.Round(f * 100)), nil
}

// callWithContext runs a blocking midtrans call and gives up when ctx is done.
// The SDK has no context support, so an abandoned call finishes in the background.
func callWithContext(ctx context.Context, call func() *midtrans.Error) error {
	done := make(chan error, 1)
	go func() {
		if merr := call(); merr != nil {
			done <- midtransError(merr)
			return
		}
		done <- nil
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, ctx.Err())
	}
}

func midtransError(merr *midtrans.Error) error {
	code := merr.GetStatusCode()
	switch {
	case code == http.StatusNotFound:
		return ErrRemoteOrderNotFound
	case code == 0 || code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%w: %s", ErrGatewayUnavailable, merr.GetMessage())
	default:
		return fmt.Errorf("%w: status %d %s", ErrGatewayRejected, code, merr.GetMessage())
	}
}
