package handler

import (
	"errors"
	"log"
	"net/http"

	"skillyug/internal/repository"
	"skillyug/internal/service"
	"skillyug/pkg/payment"

	"github.com/gin-gonic/gin"
)

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrCourseNotFound),
		errors.Is(err, service.ErrUnknownOrder),
		errors.Is(err, repository.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrCourseNotPurchasable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrDuplicatePendingOrder),
		errors.Is(err, service.ErrAlreadyEntitled),
		errors.Is(err, service.ErrOrderNotPayable):
		return http.StatusConflict
	case errors.Is(err, service.ErrVerificationFailed):
		return http.StatusPaymentRequired
	case errors.Is(err, service.ErrNotOrderOwner):
		return http.StatusForbidden
	case errors.Is(err, service.ErrGatewayUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, payment.ErrGatewayRejected):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// errorCode is the stable machine-readable name sent next to the message.
func errorCode(err error) string {
	switch {
	case errors.Is(err, service.ErrCourseNotFound):
		return "COURSE_NOT_FOUND"
	case errors.Is(err, service.ErrUnknownOrder), errors.Is(err, repository.ErrOrderNotFound):
		return "UNKNOWN_ORDER"
	case errors.Is(err, service.ErrCourseNotPurchasable):
		return "COURSE_NOT_PURCHASABLE"
	case errors.Is(err, service.ErrDuplicatePendingOrder):
		return "DUPLICATE_PENDING_ORDER"
	case errors.Is(err, service.ErrAlreadyEntitled):
		return "ALREADY_ENTITLED"
	case errors.Is(err, service.ErrOrderNotPayable):
		return "ORDER_NOT_PAYABLE"
	case errors.Is(err, service.ErrVerificationFailed):
		return "VERIFICATION_FAILED"
	case errors.Is(err, service.ErrNotOrderOwner):
		return "FORBIDDEN"
	case errors.Is(err, service.ErrGatewayUnavailable):
		return "GATEWAY_UNAVAILABLE"
	case errors.Is(err, payment.ErrGatewayRejected):
		return "GATEWAY_REJECTED"
	}
	return "INTERNAL"
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("[HTTP] %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(status, gin.H{"error": "internal error", "code": errorCode(err)})
		return
	}
	body := gin.H{"error": err.Error(), "code": errorCode(err)}
	var dup *service.DuplicatePendingError
	if errors.As(err, &dup) {
		body["order_ref"] = dup.Order.OrderRef
		body["remote_order_id"] = dup.Order.RemoteOrder()
	}
	var verr *service.VerificationError
	if errors.As(err, &verr) {
		body["error"] = service.ErrVerificationFailed.Error()
		body["order_ref"] = verr.OrderRef
	}
	c.JSON(status, body)
}
