package backend

import (
	"context"
	"errors"
	"log/slog"
)

// NotificationService wraps the notification store with the empty-result policy.
type NotificationService struct {
	logger        *slog.Logger
	notifications NotificationStore
}

// NewNotificationService creates a new NotificationService instance.
func NewNotificationService(logger *slog.Logger, notifications NotificationStore) (*NotificationService, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if notifications == nil {
		return nil, errors.New("notification store cannot be nil")
	}

	return &NotificationService{
		logger:        logger,
		notifications: notifications,
	}, nil
}

// Create persists a notification.
func (s *NotificationService) Create(ctx context.Context, notification *Notification) error {
	if err := s.notifications.Create(ctx, notification); err != nil {
		return NewInternalError("Error creating notification", err)
	}

	s.logger.Info("notification created",
		"id", notification.ID,
		"device_id", notification.DeviceID,
		"type", notification.Type,
	)
	return nil
}

// LatestUnread returns up to limit unread notifications, newest first.
func (s *NotificationService) LatestUnread(ctx context.Context, limit int) ([]Notification, error) {
	notifications, err := s.notifications.Unread(ctx, limit)
	if err != nil {
		return nil, NewInternalError("Error retrieving unread notifications", err)
	}
	if len(notifications) == 0 {
		return nil, NewNotFoundError("No unread notifications found")
	}
	return notifications, nil
}

// List returns a page of notifications, newest first.
func (s *NotificationService) List(ctx context.Context, page Page) ([]Notification, error) {
	notifications, err := s.notifications.List(ctx, page)
	if err != nil {
		return nil, NewInternalError("Error retrieving notifications", err)
	}
	if len(notifications) == 0 {
		return nil, NewNotFoundError("No notifications found")
	}
	return notifications, nil
}

// SetRead updates the read flag of one notification.
func (s *NotificationService) SetRead(ctx context.Context, id uint, isRead bool) (*Notification, error) {
	notification, err := s.notifications.SetRead(ctx, id, isRead)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, NewNotFoundError("Notification with id %d not found", id)
		}
		return nil, NewInternalError("Error updating notification read status", err)
	}
	return notification, nil
}

// ListByDevice returns a page of the notifications addressed to mac.
func (s *NotificationService) ListByDevice(ctx context.Context, mac string, page Page) ([]Notification, error) {
	notifications, err := s.notifications.ListByDevice(ctx, mac, page)
	if err != nil {
		return nil, NewInternalError("Error retrieving notifications", err)
	}
	if len(notifications) == 0 {
		return nil, NewNotFoundError("No notifications found for device with MAC address %s", mac)
	}
	return notifications, nil
}
