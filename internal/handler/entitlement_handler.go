package handler

import (
	"net/http"
	"strconv"

	"skillyug/internal/middleware"
	"skillyug/internal/repository"

	"github.com/gin-gonic/gin"
)

type EntitlementHandler struct {
	entitlements *repository.EntitlementRepository
}

func NewEntitlementHandler(entitlements *repository.EntitlementRepository) *EntitlementHandler {
	return &EntitlementHandler{entitlements: entitlements}
}

// Has answers whether the buyer may access the course.
func (h *EntitlementHandler) Has(c *gin.Context) {
	courseID := c.Param("course_id")
	ok, err := h.entitlements.Exists(middleware.GetBuyerID(c), courseID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"course_id": courseID, "entitled": ok})
}

func (h *EntitlementHandler) Purchases(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	list, err := h.entitlements.ListPurchases(middleware.GetBuyerID(c), clampLimit(limit), offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"purchases": list})
}
