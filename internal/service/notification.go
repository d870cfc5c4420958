package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"goldlink/internal/apperrors"
	"goldlink/internal/model"
	"goldlink/internal/repository"
)

type NotificationRepository interface {
	InsertNotification(ctx context.Context, ext repository.RepoExtension, notification *model.Notification, cap int) error
	SelectByUser(ctx context.Context, ext repository.RepoExtension, userID uuid.UUID, limit int) ([]model.Notification, error)
	UpdateAsRead(ctx context.Context, ext repository.RepoExtension, userID, notificationID uuid.UUID) error
}

// NotificationService maintains the per-user feed of recent events. The feed
// is bounded; pushing past the cap evicts the oldest entries.
type NotificationService struct {
	log      *zap.Logger
	localApp model.AppID
	repo     NotificationRepository
}

func NewNotificationService(log *zap.Logger, localApp model.AppID, repo NotificationRepository) *NotificationService {
	return &NotificationService{
		log:      log,
		localApp: localApp,
		repo:     repo,
	}
}

// Push stores a notification, assigning identity and timestamp when unset.
func (s *NotificationService) Push(ctx context.Context, notification model.Notification) error {
	if notification.ID == uuid.Nil {
		notification.ID = uuid.New()
	}

	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}

	if !notification.Priority.Valid() {
		notification.Priority = model.PriorityMedium
	}

	if err := s.repo.InsertNotification(ctx, nil, &notification, model.NotificationFeedCap); err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}

	return nil
}

// List returns the newest feed entries for a user, newest first.
func (s *NotificationService) List(ctx context.Context, userID uuid.UUID) ([]model.Notification, error) {
	return s.repo.SelectByUser(ctx, nil, userID, model.NotificationFeedCap)
}

// MarkRead flags one feed entry as read for the owning user.
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	return s.repo.UpdateAsRead(ctx, nil, userID, notificationID)
}

// HandleUserNotification is subscribed to user_notification messages from
// the sibling application and turns each into a local feed entry.
func (s *NotificationService) HandleUserNotification(ctx context.Context, msg model.Message) error {
	payload, err := model.DecodePayload(msg)
	if err != nil {
		return err
	}

	event, ok := payload.(model.UserNotificationPayload)
	if !ok {
		return apperrors.ErrInvalidPayload
	}

	return s.Push(ctx, model.Notification{
		UserID:    event.UserID,
		FromApp:   msg.SourceApp,
		Type:      msg.Type,
		Title:     event.Title,
		Body:      event.Body,
		Payload:   event.Extra,
		Priority:  event.Priority,
		CreatedAt: msg.CreatedAt,
	})
}
