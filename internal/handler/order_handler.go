package handler

import (
	"net/http"
	"strconv"

	"skillyug/internal/middleware"
	"skillyug/internal/repository"
	"skillyug/internal/service"

	"github.com/gin-gonic/gin"
)

type OrderHandler struct {
	orders     *repository.OrderRepository
	reconciler *service.Reconciler
}

func NewOrderHandler(orders *repository.OrderRepository, reconciler *service.Reconciler) *OrderHandler {
	return &OrderHandler{orders: orders, reconciler: reconciler}
}

// Get returns the buyer's order, reconciling it with the gateway first when it has been
// waiting longer than the grace period.
func (h *OrderHandler) Get(c *gin.Context) {
	o, err := h.orders.GetByRef(c.Param("ref"))
	if err != nil {
		respondError(c, err)
		return
	}
	if o.BuyerID != middleware.GetBuyerID(c) {
		respondError(c, service.ErrNotOrderOwner)
		return
	}
	if updated, err := h.reconciler.Reconcile(c.Request.Context(), o.OrderRef); updated != nil {
		o = updated
	} else if err != nil {
		// The stored state is still a correct answer; reconciliation retries on the sweep.
		c.Header("X-Reconcile-Error", errorCode(err))
	}
	c.JSON(http.StatusOK, orderView(o))
}

func (h *OrderHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	list, err := h.orders.ListByBuyer(middleware.GetBuyerID(c), clampLimit(limit), offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	out := make([]gin.H, 0, len(list))
	for i := range list {
		out = append(out, orderView(&list[i]))
	}
	c.JSON(http.StatusOK, gin.H{"orders": out})
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}
