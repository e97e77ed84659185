package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/papertrade-sim/internal/models"
	"github.com/papertrade-sim/internal/repository"
	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
)

// Notifier is the fire-and-forget notification sink. A failed notification
// must never propagate into the operation that produced it.
type Notifier interface {
	Notify(ctx context.Context, userID uint, typ models.NotificationType, title, message string, data map[string]interface{})
}

// NotificationService persists notifications and publishes them to a redis
// channel for realtime delivery.
type NotificationService struct {
	notificationRepo *repository.NotificationRepository
	redis            *redis.Client
}

// NewNotificationService creates a new NotificationService
func NewNotificationService(notificationRepo *repository.NotificationRepository, redisClient *redis.Client) *NotificationService {
	return &NotificationService{
		notificationRepo: notificationRepo,
		redis:            redisClient,
	}
}

// Notify stores and publishes a notification. Errors are logged, never returned.
func (s *NotificationService) Notify(ctx context.Context, userID uint, typ models.NotificationType, title, message string, data map[string]interface{}) {
	var payload datatypes.JSON
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			log.Printf("[Notify] marshal data for user %d: %v", userID, err)
		} else {
			payload = datatypes.JSON(raw)
		}
	}

	notification := &models.Notification{
		UserID:  userID,
		Type:    typ,
		Title:   title,
		Message: message,
		Data:    payload,
	}

	if err := s.notificationRepo.Create(notification); err != nil {
		log.Printf("[Notify] persist for user %d: %v", userID, err)
	}

	if s.redis == nil {
		return
	}

	event, err := json.Marshal(notification)
	if err != nil {
		return
	}
	channel := fmt.Sprintf("notify:%d", userID)
	if err := s.redis.Publish(ctx, channel, event).Err(); err != nil {
		log.Printf("[Notify] publish to %s: %v", channel, err)
	}
}

// List returns notifications for a user with pagination
func (s *NotificationService) List(userID uint, page, pageSize int) ([]models.Notification, int64, error) {
	return s.notificationRepo.GetByUserIDPaginated(userID, page, pageSize)
}

// UnreadCount returns the number of unread notifications
func (s *NotificationService) UnreadCount(userID uint) (int64, error) {
	return s.notificationRepo.CountUnread(userID)
}

// MarkRead marks one notification as read
func (s *NotificationService) MarkRead(userID, id uint) error {
	return s.notificationRepo.MarkRead(userID, id)
}

// MarkAllRead marks all notifications as read
func (s *NotificationService) MarkAllRead(userID uint) (int64, error) {
	return s.notificationRepo.MarkAllRead(userID)
}

// Compile-time interface check.
var _ Notifier = (*NotificationService)(nil)
