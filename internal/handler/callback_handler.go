package handler

import (
	"errors"
	"io"
	"log"
	"net/http"

	"skillyug/internal/domain"
	"skillyug/internal/middleware"
	"skillyug/internal/repository"
	"skillyug/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

// CallbackHandler relays the browser's payment confirmation to the entitlement writer
// and answers synchronously with the outcome.
type CallbackHandler struct {
	writer     *service.EntitlementWriter
	reconciler *service.Reconciler
	orders     *repository.OrderRepository
}

func NewCallbackHandler(writer *service.EntitlementWriter, reconciler *service.Reconciler, orders *repository.OrderRepository) *CallbackHandler {
	return &CallbackHandler{writer: writer, reconciler: reconciler, orders: orders}
}

// callbackReq accepts both the generic field names and the ones the Razorpay checkout
// widget hands to its success handler.
type callbackReq struct {
	OrderRef         string `json:"order_ref"`
	RemoteOrderID    string `json:"remote_order_id"`
	RemotePaymentID  string `json:"remote_payment_id"`
	RemoteSignature  string `json:"remote_signature"`
	RazorpayOrderID  string `json:"razorpay_order_id"`
	RazorpayPayment  string `json:"razorpay_payment_id"`
	RazorpaySig      string `json:"razorpay_signature"`
	AmountMinorUnits int64  `json:"amount_minor_units"`
	Currency         string `json:"currency"`
}

func (r *callbackReq) normalize() {
	if r.RemoteOrderID == "" {
		r.RemoteOrderID = r.RazorpayOrderID
	}
	if r.RemotePaymentID == "" {
		r.RemotePaymentID = r.RazorpayPayment
	}
	if r.RemoteSignature == "" {
		r.RemoteSignature = r.RazorpaySig
	}
}

// Verify handles POST /payments/callback. The relay is scoped to the caller: both the
// claimed order_ref and the order behind remote_order_id must be the caller's.
func (h *CallbackHandler) Verify(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	var req callbackReq
	if err := binding.JSON.BindBody(raw, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	req.normalize()
	if req.RemoteOrderID == "" || req.RemotePaymentID == "" || req.RemoteSignature == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "remote_order_id, remote_payment_id and remote_signature required"})
		return
	}
	in := service.CallbackInput{
		BuyerID:          middleware.GetBuyerID(c),
		OrderRef:         req.OrderRef,
		RemoteOrderID:    req.RemoteOrderID,
		RemotePaymentID:  req.RemotePaymentID,
		RemoteSignature:  req.RemoteSignature,
		AmountMinorUnits: req.AmountMinorUnits,
		Currency:         req.Currency,
		Source:           domain.CallbackSourceClient,
		RawPayload:       raw,
	}
	if req.OrderRef != "" {
		if o, err := h.orders.GetByRef(req.OrderRef); err == nil && o.BuyerID != in.BuyerID {
			if _, err := h.writer.RecordCallback(in); err != nil {
				log.Printf("[CALLBACK] record order_ref=%s: %v", req.OrderRef, err)
			}
			log.Printf("[CALLBACK] rejected: buyer=%s relayed callback for order_ref=%s", in.BuyerID, req.OrderRef)
			respondError(c, service.ErrNotOrderOwner)
			return
		}
	}
	res, err := h.writer.HandleCallback(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	body := orderView(res.Order)
	body["replayed"] = res.Replayed
	c.JSON(http.StatusOK, body)
}

type failureReq struct {
	OrderRef         string `json:"order_ref" binding:"required"`
	RemoteOrderID    string `json:"remote_order_id"`
	RemotePaymentID  string `json:"remote_payment_id"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
}

// Failure records a failure reported by the checkout widget. The report alone never fails
// the order; the gateway is asked for the real outcome instead.
func (h *CallbackHandler) Failure(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	var req failureReq
	if err := binding.JSON.BindBody(raw, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order_ref required"})
		return
	}
	o, err := h.orders.GetByRef(req.OrderRef)
	if err != nil {
		respondError(c, err)
		return
	}
	if o.BuyerID != middleware.GetBuyerID(c) {
		respondError(c, service.ErrNotOrderOwner)
		return
	}
	if _, err := h.writer.RecordCallback(service.CallbackInput{
		OrderRef:        o.OrderRef,
		RemoteOrderID:   req.RemoteOrderID,
		RemotePaymentID: req.RemotePaymentID,
		Source:          domain.CallbackSourceClientFailure,
		RawPayload:      raw,
	}); err != nil {
		respondError(c, err)
		return
	}
	log.Printf("[CALLBACK] client failure order_ref=%s code=%s", o.OrderRef, req.ErrorCode)
	updated, err := h.reconciler.ReconcileNow(c.Request.Context(), o.OrderRef)
	if err != nil && updated == nil {
		if errors.Is(err, service.ErrGatewayUnavailable) {
			c.JSON(http.StatusAccepted, orderView(o))
			return
		}
		respondError(c, err)
		return
	}
	if updated == nil {
		updated = o
	}
	c.JSON(http.StatusAccepted, orderView(updated))
}
