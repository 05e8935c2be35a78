package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"meetpact/core/constants"
	"meetpact/core/errors"
	"meetpact/core/logger"
	"meetpact/modules/notification/dto"
	"meetpact/modules/notification/entity"
	"meetpact/modules/notification/repository"
)

// NotificationService persists and serves in-app notifications. Its Notify
// methods satisfy the negotiation and agent modules' notifier interfaces;
// delivery failures are logged and swallowed so a notification hiccup never
// fails the operation that produced it.
type NotificationService struct {
	repo repository.NotificationRepositoryInterface
}

type NotificationServiceInterface interface {
	GetMyNotifications(ctx context.Context, userID uuid.UUID, limit, offset int) ([]dto.NotificationResponse, *errors.AppError)
	MarkAsRead(ctx context.Context, userID uuid.UUID, ids []string) *errors.AppError
	MarkAllAsRead(ctx context.Context, userID uuid.UUID) *errors.AppError
	CountUnread(ctx context.Context, userID uuid.UUID) (int, *errors.AppError)
}

func NewNotificationService(repo repository.NotificationRepositoryInterface) *NotificationService {
	return &NotificationService{repo: repo}
}

func (s *NotificationService) GetMyNotifications(ctx context.Context, userID uuid.UUID, limit, offset int) ([]dto.NotificationResponse, *errors.AppError) {
	if limit <= 0 {
		limit = constants.DefaultListLimit
	}
	if limit > constants.MaxListLimit {
		limit = constants.MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	items, err := s.repo.GetByUserID(ctx, userID, limit, offset)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to get notifications", err)
	}

	out := make([]dto.NotificationResponse, 0, len(items))
	for i := range items {
		out = append(out, dto.ToNotificationResponse(&items[i]))
	}
	return out, nil
}

func (s *NotificationService) MarkAsRead(ctx context.Context, userID uuid.UUID, ids []string) *errors.AppError {
	if err := s.repo.MarkAsRead(ctx, userID, ids); err != nil {
		return errors.NewAppError(errors.ErrUpdateFailed, "failed to mark as read", err)
	}
	return nil
}

func (s *NotificationService) MarkAllAsRead(ctx context.Context, userID uuid.UUID) *errors.AppError {
	if err := s.repo.MarkAllAsRead(ctx, userID); err != nil {
		return errors.NewAppError(errors.ErrUpdateFailed, "failed to mark all as read", err)
	}
	return nil
}

func (s *NotificationService) CountUnread(ctx context.Context, userID uuid.UUID) (int, *errors.AppError) {
	count, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		return 0, errors.NewAppError(errors.ErrInternalServer, "failed to count unread", err)
	}
	return count, nil
}

// ===================== lifecycle notifiers =====================

func (s *NotificationService) NotifyInvited(ctx context.Context, negotiationID string, title string, userIDs []uuid.UUID) {
	s.fanOut(ctx, negotiationID, userIDs, entity.TypeInvited,
		"You're invited", fmt.Sprintf("You have been invited to %q", title))
}

func (s *NotificationService) NotifyConfirmed(ctx context.Context, negotiationID string, title string, userIDs []uuid.UUID) {
	s.fanOut(ctx, negotiationID, userIDs, entity.TypeConfirmed,
		"Plan confirmed", fmt.Sprintf("%q is confirmed", title))
}

func (s *NotificationService) NotifyCancelled(ctx context.Context, negotiationID string, title string, userIDs []uuid.UUID) {
	s.fanOut(ctx, negotiationID, userIDs, entity.TypeCancelled,
		"Plan cancelled", fmt.Sprintf("%q was cancelled by the organizer", title))
}

func (s *NotificationService) NotifyEscalated(ctx context.Context, negotiationID string, title string, userIDs []uuid.UUID) {
	s.fanOut(ctx, negotiationID, userIDs, entity.TypeEscalated,
		"Your agent needs you", fmt.Sprintf("Negotiation for %q needs your input", title))
}

func (s *NotificationService) NotifyFinalizePending(ctx context.Context, negotiationID string, title string, userIDs []uuid.UUID) {
	s.fanOut(ctx, negotiationID, userIDs, entity.TypeFinalizePending,
		"Confirm your plan", fmt.Sprintf("Your agents agreed on %q, waiting for your confirmation", title))
}

func (s *NotificationService) fanOut(ctx context.Context, negotiationID string, userIDs []uuid.UUID, notifType, title, message string) {
	for _, userID := range userIDs {
		n := &entity.Notification{
			UserID:  userID,
			Title:   title,
			Message: message,
			Type:    notifType,
			Data:    entity.JSONB{"negotiation_id": negotiationID},
		}
		if err := s.repo.Create(ctx, n); err != nil {
			logger.Error("NotificationService:fanOut", err)
		}
	}
}
