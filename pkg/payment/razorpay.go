package payment

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const razorpayDefaultBaseURL = "https://api.razorpay.com"

// RazorpayGateway talks to the Razorpay Orders and Payments API using basic auth
// with the key id and key secret.
type RazorpayGateway struct {
	client *resty.Client
}

func NewRazorpayGateway(baseURL, keyID, keySecret string, timeout time.Duration) *RazorpayGateway {
	if baseURL == "" {
		baseURL = razorpayDefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetBasicAuth(keyID, keySecret).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &RazorpayGateway{client: client}
}

func (g *RazorpayGateway) Name() string { return "razorpay" }

type razorpayOrderReq struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type razorpayOrder struct {
	ID        string `json:"id"`
	Entity    string `json:"entity"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Receipt   string `json:"receipt"`
	Status    string `json:"status"` // created, attempted, paid
	CreatedAt int64  `json:"created_at"`
}

type razorpayCollection[T any] struct {
	Count int `json:"count"`
	Items []T `json:"items"`
}

type razorpayPayment struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"` // created, authorized, captured, refunded, failed
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
}

type razorpayError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (g *RazorpayGateway) CreateRemoteOrder(ctx context.Context, amountMinorUnits int64, currency, orderRef string) (*RemoteOrder, error) {
	var out razorpayOrder
	var apiErr razorpayError
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(razorpayOrderReq{
			Amount:   amountMinorUnits,
			Currency: currency,
			Receipt:  orderRef,
			Notes:    map[string]string{"order_ref": orderRef},
		}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/v1/orders")
	if err := classifyRazorpay(resp, err, &apiErr); err != nil {
		log.Printf("[RAZORPAY] create order failed order_ref=%s: %v", orderRef, err)
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("%w: empty order id", ErrGatewayUnavailable)
	}
	log.Printf("[RAZORPAY] created order_ref=%s remote_order_id=%s amount=%d %s", orderRef, out.ID, out.Amount, out.Currency)
	return out.remote(), nil
}

// FetchRemoteStatus reports paid when any attempt on the order was captured, failed when
// every attempt failed, and pending otherwise.
func (g *RazorpayGateway) FetchRemoteStatus(ctx context.Context, remoteOrderID string) (*RemotePaymentOutcome, error) {
	var out razorpayCollection[razorpayPayment]
	var apiErr razorpayError
	resp, err := g.client.R().
		SetContext(ctx).
		SetPathParam("id", remoteOrderID).
		SetResult(&out).
		SetError(&apiErr).
		Get("/v1/orders/{id}/payments")
	if err := classifyRazorpay(resp, err, &apiErr); err != nil {
		return nil, err
	}
	return razorpayOutcome(out.Items), nil
}

func razorpayOutcome(items []razorpayPayment) *RemotePaymentOutcome {
	failed := 0
	var lastFailure string
	for _, p := range items {
		switch p.Status {
		case "captured":
			return &RemotePaymentOutcome{
				Status:           RemoteStatusPaid,
				PaymentID:        p.ID,
				AmountMinorUnits: p.Amount,
				Currency:         p.Currency,
			}
		case "failed":
			failed++
			lastFailure = p.ErrorDescription
			if lastFailure == "" {
				lastFailure = p.ErrorCode
			}
		}
	}
	if len(items) > 0 && failed == len(items) {
		return &RemotePaymentOutcome{Status: RemoteStatusFailed, Reason: lastFailure}
	}
	return &RemotePaymentOutcome{Status: RemoteStatusPending}
}

func (g *RazorpayGateway) LookupRemoteOrder(ctx context.Context, orderRef string) (*RemoteOrder, error) {
	var out razorpayCollection[razorpayOrder]
	var apiErr razorpayError
	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParam("receipt", orderRef).
		SetResult(&out).
		SetError(&apiErr).
		Get("/v1/orders")
	if err := classifyRazorpay(resp, err, &apiErr); err != nil {
		return nil, err
	}
	for _, o := range out.Items {
		if o.Receipt == orderRef {
			return o.remote(), nil
		}
	}
	return nil, ErrRemoteOrderNotFound
}

func (o razorpayOrder) remote() *RemoteOrder {
	ro := &RemoteOrder{ID: o.ID, Receipt: o.Receipt}
	if o.CreatedAt > 0 {
		ro.CreatedAt = time.Unix(o.CreatedAt, 0).UTC()
	}
	return ro
}

// classifyRazorpay maps a resty result onto the gateway error taxonomy.
func classifyRazorpay(resp *resty.Response, err error, apiErr *razorpayError) error {
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	code := resp.StatusCode()
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound,
		code == http.StatusBadRequest && strings.Contains(apiErr.Error.Description, "does not exist"):
		return ErrRemoteOrderNotFound
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%w: status %d", ErrGatewayUnavailable, code)
	default:
		return fmt.Errorf("%w: status %d %s %s", ErrGatewayRejected, code, apiErr.Error.Code, apiErr.Error.Description)
	}
}
