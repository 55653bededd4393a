package handler

import (
	"net/http"

	"skillyug/internal/repository"
	"skillyug/internal/service"

	"github.com/gin-gonic/gin"
)

// AdminHandler exposes the callback trail and manual reconciliation to operators.
type AdminHandler struct {
	orders     *repository.OrderRepository
	callbacks  *repository.CallbackRepository
	audit      *repository.AuditLogRepository
	reconciler *service.Reconciler
}

func NewAdminHandler(orders *repository.OrderRepository, callbacks *repository.CallbackRepository, audit *repository.AuditLogRepository, reconciler *service.Reconciler) *AdminHandler {
	return &AdminHandler{orders: orders, callbacks: callbacks, audit: audit, reconciler: reconciler}
}

func (h *AdminHandler) GetOrder(c *gin.Context) {
	o, err := h.orders.GetByRef(c.Param("ref"))
	if err != nil {
		respondError(c, err)
		return
	}
	body := orderView(o)
	body["buyer_id"] = o.BuyerID
	body["gateway_meta"] = o.GatewayMeta
	c.JSON(http.StatusOK, body)
}

// Callbacks lists every callback received for the order together with its audit entries.
func (h *AdminHandler) Callbacks(c *gin.Context) {
	ref := c.Param("ref")
	if _, err := h.orders.GetByRef(ref); err != nil {
		respondError(c, err)
		return
	}
	list, err := h.callbacks.ListByOrderRef(ref)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	logs, err := h.audit.ListByResource("order", ref)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"callbacks": list, "audit": logs})
}

func (h *AdminHandler) Reconcile(c *gin.Context) {
	o, err := h.reconciler.ReconcileNow(c.Request.Context(), c.Param("ref"))
	if err != nil && o == nil {
		respondError(c, err)
		return
	}
	body := orderView(o)
	if err != nil {
		body["reconcile_error"] = err.Error()
	}
	c.JSON(http.StatusOK, body)
}

func (h *AdminHandler) Sweep(c *gin.Context) {
	stats, err := h.reconciler.Sweep(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reconciled": stats.Reconciled, "recovered": stats.Recovered, "expired": stats.Expired})
}
