package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"skillyug/config"
	"skillyug/internal/domain"
	"skillyug/internal/repository"
	"skillyug/internal/service"
	"skillyug/internal/verification"

	"github.com/gin-gonic/gin"
)

// WebhookHandler accepts server-to-server notifications from the gateway. A webhook only
// tells us to look: the outcome always comes from the gateway's own status API via the
// reconciler, so a forged body cannot grant anything.
type WebhookHandler struct {
	cfg        *config.Config
	orders     *repository.OrderRepository
	writer     *service.EntitlementWriter
	reconciler *service.Reconciler
}

func NewWebhookHandler(cfg *config.Config, orders *repository.OrderRepository, writer *service.EntitlementWriter, reconciler *service.Reconciler) *WebhookHandler {
	return &WebhookHandler{cfg: cfg, orders: orders, writer: writer, reconciler: reconciler}
}

type razorpayWebhook struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID       string `json:"id"`
				OrderID  string `json:"order_id"`
				Amount   int64  `json:"amount"`
				Currency string `json:"currency"`
				Status   string `json:"status"`
			} `json:"entity"`
		} `json:"payment"`
		Order struct {
			Entity struct {
				ID      string `json:"id"`
				Receipt string `json:"receipt"`
			} `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

func (w *razorpayWebhook) remoteOrderID() string {
	if id := w.Payload.Payment.Entity.OrderID; id != "" {
		return id
	}
	return w.Payload.Order.Entity.ID
}

// Razorpay handles POST /webhooks/razorpay.
func (h *WebhookHandler) Razorpay(c *gin.Context) {
	if h.cfg.Gateway.WebhookSecret == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "webhook not configured"})
		return
	}
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	var evt razorpayWebhook
	if err := json.Unmarshal(raw, &evt); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	remoteOrderID := evt.remoteOrderID()
	orderRef := evt.Payload.Order.Entity.Receipt
	if o, err := h.orders.GetByRemoteOrderID(remoteOrderID); err == nil {
		orderRef = o.OrderRef
	}
	if _, err := h.writer.RecordCallback(service.CallbackInput{
		OrderRef:        orderRef,
		RemoteOrderID:   remoteOrderID,
		RemotePaymentID: evt.Payload.Payment.Entity.ID,
		RemoteSignature: c.GetHeader("X-Razorpay-Signature"),
		Source:          domain.CallbackSourceWebhook,
		RawPayload:      raw,
	}); err != nil {
		log.Printf("[WEBHOOK] record razorpay event=%s: %v", evt.Event, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "record failed"})
		return
	}
	if err := verification.VerifyWebhookBody(h.cfg.Gateway.WebhookSecret, raw, c.GetHeader("X-Razorpay-Signature")); err != nil {
		log.Printf("[WEBHOOK] razorpay signature rejected event=%s remote_order_id=%s", evt.Event, remoteOrderID)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}
	log.Printf("[WEBHOOK] razorpay event=%s remote_order_id=%s order_ref=%s", evt.Event, remoteOrderID, orderRef)
	h.reconcile(c, orderRef)
}

type midtransNotification struct {
	OrderID           string `json:"order_id"`
	TransactionID     string `json:"transaction_id"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
}

// Midtrans handles POST /webhooks/midtrans. Midtrans signs each notification with
// SHA512(order_id+status_code+gross_amount+server_key).
func (h *WebhookHandler) Midtrans(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	var n midtransNotification
	if err := json.Unmarshal(raw, &n); err != nil || n.OrderID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification"})
		return
	}
	if _, err := h.writer.RecordCallback(service.CallbackInput{
		OrderRef:        n.OrderID,
		RemoteOrderID:   n.OrderID,
		RemotePaymentID: n.TransactionID,
		RemoteSignature: n.SignatureKey,
		Source:          domain.CallbackSourceWebhook,
		RawPayload:      raw,
	}); err != nil {
		log.Printf("[WEBHOOK] record midtrans order_id=%s: %v", n.OrderID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "record failed"})
		return
	}
	if err := verification.VerifyMidtransSignature(n.OrderID, n.StatusCode, n.GrossAmount, h.cfg.Gateway.KeySecret, n.SignatureKey); err != nil {
		log.Printf("[WEBHOOK] midtrans signature rejected order_id=%s", n.OrderID)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}
	log.Printf("[WEBHOOK] midtrans order_id=%s status=%s fraud=%s", n.OrderID, n.TransactionStatus, n.FraudStatus)
	h.reconcile(c, n.OrderID)
}

// reconcile acknowledges the webhook once the order has been checked. Gateway outages are
// acknowledged too; the sweep retries them.
func (h *WebhookHandler) reconcile(c *gin.Context, orderRef string) {
	if orderRef == "" {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	o, err := h.reconciler.ReconcileNow(c.Request.Context(), orderRef)
	switch {
	case errors.Is(err, service.ErrUnknownOrder):
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
	case err != nil && statusFor(err) == http.StatusInternalServerError:
		log.Printf("[WEBHOOK] reconcile order_ref=%s: %v", orderRef, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reconcile failed"})
	case o != nil:
		c.JSON(http.StatusOK, gin.H{"status": "ok", "order_ref": o.OrderRef, "order_status": o.Status})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
