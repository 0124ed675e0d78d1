package services

import (
	"context"
	"fmt"

	"coinsync/models"

	"gorm.io/gorm"
)

// NotificationService lets the host read the notifications webhooks raise.
type NotificationService struct {
	DB *gorm.DB
}

func NewNotificationService(db *gorm.DB) *NotificationService {
	return &NotificationService{DB: db}
}

// List returns the user's notifications, newest first.
func (s *NotificationService) List(ctx context.Context, userID uint, unreadOnly bool, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := s.DB.WithContext(ctx).Where("user_id = ?", userID)
	if unreadOnly {
		q = q.Where("is_read = ?", false)
	}
	var out []models.Notification
	if err := q.Order("created_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list notifications for user %d: %w", userID, err)
	}
	return out, nil
}

// MarkRead flags notifications as read. Only the user's own rows change;
// an empty ids marks all of them.
func (s *NotificationService) MarkRead(ctx context.Context, userID uint, ids []string) (int64, error) {
	q := s.DB.WithContext(ctx).Model(&models.Notification{}).Where("user_id = ? AND is_read = ?", userID, false)
	if len(ids) > 0 {
		q = q.Where("id IN ?", ids)
	}
	res := q.Update("is_read", true)
	if res.Error != nil {
		return 0, fmt.Errorf("mark notifications read for user %d: %w", userID, res.Error)
	}
	return res.RowsAffected, nil
}
