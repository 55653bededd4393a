package handler

import (
	"errors"
	"net/http"

	"skillyug/config"
	"skillyug/internal/middleware"
	"skillyug/internal/models"
	"skillyug/internal/service"

	"github.com/gin-gonic/gin"
)

type CheckoutHandler struct {
	checkout *service.CheckoutService
	cfg      *config.Config
}

func NewCheckoutHandler(checkout *service.CheckoutService, cfg *config.Config) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout, cfg: cfg}
}

type startCheckoutReq struct {
	CourseID string `json:"course_id" binding:"required"`
}

// Start begins a checkout for the authenticated buyer.
func (h *CheckoutHandler) Start(c *gin.Context) {
	var req startCheckoutReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "course_id required"})
		return
	}
	res, err := h.checkout.StartCheckout(c.Request.Context(), middleware.GetBuyerID(c), req.CourseID)
	if err != nil {
		if errors.Is(err, service.ErrGatewayUnavailable) && res != nil && res.Order != nil {
			// The order exists and will be picked up by reconciliation or a retry.
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":     "payment gateway unavailable, retry shortly",
				"code":      "GATEWAY_UNAVAILABLE",
				"order_ref": res.Order.OrderRef,
				"status":    res.Order.Status,
			})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, checkoutResponse(h.cfg, res))
}

func checkoutResponse(cfg *config.Config, res *service.CheckoutResult) gin.H {
	o := res.Order
	body := gin.H{
		"order_ref":          o.OrderRef,
		"remote_order_id":    o.RemoteOrder(),
		"amount_minor_units": o.AmountMinorUnits,
		"currency":           o.Currency,
		"status":             o.Status,
		"expires_at":         o.ExpiresAt,
		"provider":           o.Provider,
		"key_id":             cfg.Gateway.KeyID,
	}
	if res.RemoteOrder != nil {
		if res.RemoteOrder.Token != "" {
			body["token"] = res.RemoteOrder.Token
		}
		if res.RemoteOrder.CheckoutURL != "" {
			body["checkout_url"] = res.RemoteOrder.CheckoutURL
		}
	}
	return body
}

// Config returns what the checkout widget needs to open the gateway's payment form.
func (h *CheckoutHandler) Config(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"provider":   h.cfg.Gateway.Provider,
		"key_id":     h.cfg.Gateway.KeyID,
		"currency":   h.cfg.Gateway.Currency,
		"production": h.cfg.Gateway.Production,
	})
}

func orderView(o *models.Order) gin.H {
	return gin.H{
		"order_ref":          o.OrderRef,
		"course_id":          o.CourseID,
		"remote_order_id":    o.RemoteOrder(),
		"remote_payment_id":  o.RemotePayment(),
		"amount_minor_units": o.AmountMinorUnits,
		"currency":           o.Currency,
		"status":             o.Status,
		"failure_reason":     o.FailureReason,
		"expires_at":         o.ExpiresAt,
		"created_at":         o.CreatedAt,
		"updated_at":         o.UpdatedAt,
	}
}
