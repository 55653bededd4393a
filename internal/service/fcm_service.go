package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// Pusher delivers a push message to every device subscribed to topic.
type Pusher interface {
	SendToTopic(ctx context.Context, topic, notifType, title, body string, data map[string]interface{}) error
}

// FCMService sends push notifications via Firebase Cloud Messaging. Devices subscribe to
// their buyer topic on sign-in, so the server never stores device tokens.
type FCMService struct {
	client *messaging.Client
}

// NewFCMService creates an FCM service. Returns nil if Firebase is not configured.
func NewFCMService(serviceAccountPath string) *FCMService {
	if serviceAccountPath == "" {
		return nil
	}
	ctx := context.Background()
	opt := option.WithCredentialsFile(serviceAccountPath)
	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		log.Printf("[FCM] Failed to init Firebase app: %v", err)
		return nil
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		log.Printf("[FCM] Failed to get Messaging client: %v", err)
		return nil
	}
	return &FCMService{client: client}
}

var topicUnsafe = regexp.MustCompile(`[^a-zA-Z0-9\-_.~%]`)

// BuyerTopic is the FCM topic a buyer's devices subscribe to.
func BuyerTopic(buyerID string) string {
	return "buyer_" + topicUnsafe.ReplaceAllString(buyerID, "_")
}

// SendToTopic sends a notification to a topic. All data values are converted to strings
// (FCM requires string values).
func (s *FCMService) SendToTopic(ctx context.Context, topic, notifType, title, body string, data map[string]interface{}) error {
	if s == nil || s.client == nil || topic == "" {
		return nil
	}
	msg := &messaging.Message{
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data:  stringifyData(notifType, data),
		Topic: topic,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound: "default",
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Sound: "default",
				},
			},
		},
	}
	if _, err := s.client.Send(ctx, msg); err != nil {
		log.Printf("[FCM] Send to %s error: %v", topic, err)
		return err
	}
	return nil
}

func stringifyData(notifType string, data map[string]interface{}) map[string]string {
	out := map[string]string{"type": notifType}
	for k, v := range data {
		switch val := v.(type) {
		case string:
			out[k] = val
		case int:
			out[k] = fmt.Sprintf("%d", val)
		case int64:
			out[k] = fmt.Sprintf("%d", val)
		case uint:
			out[k] = fmt.Sprintf("%d", val)
		default:
			b, _ := json.Marshal(v)
			out[k] = string(b)
		}
	}
	return out
}
