package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"skillyug/internal/domain"
	"skillyug/internal/models"
	"skillyug/internal/repository"
)

const pushTimeout = 5 * time.Second

type NotificationService struct {
	repo    *repository.NotificationRepository
	courses *repository.CourseRepository
	push    Pusher
}

func NewNotificationService(repo *repository.NotificationRepository, courses *repository.CourseRepository, push Pusher) *NotificationService {
	return &NotificationService{repo: repo, courses: courses, push: push}
}

func (s *NotificationService) Notify(userID, notifType, title, body string, data map[string]interface{}) error {
	n := &models.Notification{
		UserID: userID,
		Type:   notifType,
		Title:  title,
		Body:   body,
	}
	if data != nil {
		b, _ := json.Marshal(data)
		n.Data = b
	}
	if err := s.repo.Create(n); err != nil {
		return err
	}
	s.sendPush(userID, notifType, title, body, data)
	return nil
}

func (s *NotificationService) sendPush(userID, notifType, title, body string, data map[string]interface{}) {
	if s.push == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()
	_ = s.push.SendToTopic(ctx, BuyerTopic(userID), notifType, title, body, data)
}

// OrderUpdated notifies the buyer when an order unlocks a course or fails.
func (s *NotificationService) OrderUpdated(o *models.Order) {
	var err error
	switch o.Status {
	case domain.OrderStatusEntitled:
		err = s.NotifyCourseUnlocked(o.BuyerID, o.CourseID, o.OrderRef)
	case domain.OrderStatusFailed:
		err = s.NotifyPaymentFailed(o.BuyerID, o.CourseID, o.OrderRef)
	default:
		return
	}
	if err != nil {
		log.Printf("[NOTIFY] order_ref=%s status=%s: %v", o.OrderRef, o.Status, err)
	}
}

func (s *NotificationService) NotifyCourseUnlocked(buyerID, courseID, orderRef string) error {
	return s.Notify(buyerID, domain.NotificationCourseUnlocked, "Course unlocked",
		fmt.Sprintf("%s is now available in your library.", s.courseTitle(courseID)),
		map[string]interface{}{"course_id": courseID, "order_ref": orderRef})
}

func (s *NotificationService) NotifyPaymentFailed(buyerID, courseID, orderRef string) error {
	return s.Notify(buyerID, domain.NotificationPaymentFailed, "Payment failed",
		fmt.Sprintf("Your payment for %s could not be completed.", s.courseTitle(courseID)),
		map[string]interface{}{"course_id": courseID, "order_ref": orderRef})
}

func (s *NotificationService) List(userID string, limit, offset int) ([]models.Notification, error) {
	return s.repo.ListByUserID(userID, limit, offset)
}

func (s *NotificationService) MarkRead(id uint, userID string) (bool, error) {
	return s.repo.MarkRead(id, userID, time.Now().UTC())
}

func (s *NotificationService) courseTitle(courseID string) string {
	if s.courses != nil {
		if c, err := s.courses.GetByID(courseID); err == nil && c.Title != "" {
			return c.Title
		}
	}
	return "Your course"
}
