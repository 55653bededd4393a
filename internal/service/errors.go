package service

import (
	"errors"
	"fmt"

	"skillyug/internal/models"
	"skillyug/internal/repository"
	"skillyug/pkg/payment"
)

var (
	ErrCourseNotFound        = repository.ErrCourseNotFound
	ErrCourseNotPurchasable  = errors.New("course is not purchasable")
	ErrDuplicatePendingOrder = errors.New("a checkout for this course is already pending")
	ErrAlreadyEntitled       = errors.New("buyer already owns this course")
	ErrUnknownOrder          = errors.New("unknown order")
	ErrOrderNotPayable       = errors.New("order is no longer payable")
	ErrVerificationFailed    = errors.New("payment verification failed")
	ErrGatewayUnavailable    = payment.ErrGatewayUnavailable
	ErrNotOrderOwner         = errors.New("order belongs to another buyer")
)

// VerificationError is returned when a callback fails verification. It matches
// ErrVerificationFailed and unwraps to the verification cause.
type VerificationError struct {
	OrderRef string
	Cause    error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("%s: order %s: %v", ErrVerificationFailed, e.OrderRef, e.Cause)
}

func (e *VerificationError) Is(target error) bool { return target == ErrVerificationFailed }

func (e *VerificationError) Unwrap() error { return e.Cause }

// DuplicatePendingError carries the checkout that is already in flight.
type DuplicatePendingError struct {
	Order *models.Order
}

func (e *DuplicatePendingError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDuplicatePendingOrder, e.Order.OrderRef)
}

func (e *DuplicatePendingError) Is(target error) bool { return target == ErrDuplicatePendingOrder }
