package backend

import (
	"context"
	"fmt"
)

// GormNotificationStore implements NotificationStore on PostgreSQL.
type GormNotificationStore struct {
	gormStore
}

// Create implements NotificationStore.
func (s *GormNotificationStore) Create(ctx context.Context, notification *Notification) (err error) {
	done := s.track("insert", "notifications")
	defer func() { done(err) }()

	if err := s.db.WithContext(ctx).Create(notification).Error; err != nil {
		return fmt.Errorf("failed to create notification: %w", translate(err))
	}
	return nil
}

// Unread implements NotificationStore.
func (s *GormNotificationStore) Unread(ctx context.Context, limit int) (_ []Notification, err error) {
	done := s.track("select", "notifications")
	defer func() { done(err) }()

	var notifications []Notification
	if err := s.db.WithContext(ctx).
		Where("is_read = ?", false).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&notifications).Error; err != nil {
		return nil, fmt.Errorf("failed to list unread notifications: %w", err)
	}
	return notifications, nil
}

// List implements NotificationStore.
func (s *GormNotificationStore) List(ctx context.Context, page Page) (_ []Notification, err error) {
	done := s.track("select", "notifications")
	defer func() { done(err) }()

	var notifications []Notification
	if err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Offset(page.Skip).
		Limit(page.Limit).
		Find(&notifications).Error; err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return notifications, nil
}

// ListByDevice implements NotificationStore.
func (s *GormNotificationStore) ListByDevice(ctx context.Context, mac string, page Page) (_ []Notification, err error) {
	done := s.track("select", "notifications")
	defer func() { done(err) }()

	var notifications []Notification
	if err := s.db.WithContext(ctx).
		Where("device_id = ?", mac).
		Order("created_at DESC").
		Order("id DESC").
		Offset(page.Skip).
		Limit(page.Limit).
		Find(&notifications).Error; err != nil {
		return nil, fmt.Errorf("failed to list device notifications: %w", err)
	}
	return notifications, nil
}

// SetRead implements NotificationStore.
func (s *GormNotificationStore) SetRead(ctx context.Context, id uint, isRead bool) (_ *Notification, err error) {
	done := s.track("update", "notifications")
	defer func() { done(err) }()

	result := s.db.WithContext(ctx).
		Model(&Notification{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_read": isRead})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update notification: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrRecordNotFound
	}

	var notification Notification
	if err := s.db.WithContext(ctx).First(&notification, id).Error; err != nil {
		return nil, fmt.Errorf("failed to reload notification: %w", translate(err))
	}
	return &notification, nil
}
