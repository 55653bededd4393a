package handler

import (
	"net/http"
	"strings"

	"skillyug/config"
	"skillyug/internal/models"
	"skillyug/internal/repository"

	"github.com/gin-gonic/gin"
)

type CourseHandler struct {
	courses *repository.CourseRepository
	cfg     *config.Config
}

func NewCourseHandler(courses *repository.CourseRepository, cfg *config.Config) *CourseHandler {
	return &CourseHandler{courses: courses, cfg: cfg}
}

func (h *CourseHandler) Get(c *gin.Context) {
	course, err := h.courses.GetByID(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, course)
}

type upsertCourseReq struct {
	Title           string `json:"title" binding:"required"`
	PriceMinorUnits int64  `json:"price_minor_units" binding:"gte=0"`
	Currency        string `json:"currency" binding:"omitempty,len=3"`
	Purchasable     *bool  `json:"purchasable" binding:"required"`
}

// Upsert handles PUT /admin/courses/:id.
func (h *CourseHandler) Upsert(c *gin.Context) {
	var req upsertCourseReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = h.cfg.Gateway.Currency
	}
	course := &models.Course{
		ID:              c.Param("id"),
		Title:           req.Title,
		PriceMinorUnits: req.PriceMinorUnits,
		Currency:        currency,
		Purchasable:     *req.Purchasable,
	}
	if err := h.courses.Upsert(course); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save failed"})
		return
	}
	saved, err := h.courses.GetByID(course.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}
